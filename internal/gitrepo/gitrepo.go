// Package gitrepo wraps the closed set of git invocations cccopy issues
// against a working tree: init, add, rm --cached, commit, hash-object,
// ls-tree, status, log, show, and config get/set. Each Repo targets one
// tree; the Work and Production trees are two independent Repo values.
package gitrepo

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/re-cinq/cccopy/internal/cccerr"
)

// Retry parameters for transient git failures.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

// transientPatterns are error substrings that indicate a retryable git
// failure. Shared-filesystem checkouts hit index and ref lock contention
// far more often than local disks.
var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations for a single working tree.
type Repo struct {
	Dir string
}

// New creates a Repo for the given directory.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

// sleepFunc is replaced in tests to avoid real delays.
var sleepFunc = time.Sleep

// runRaw executes a git command in the repo directory, retrying transient
// failures (index/ref lock contention) with exponential backoff. Output
// is returned byte-exact. Callers outside this package never retry git
// commands themselves; that is this function's job.
func (r *Repo) runRaw(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		out, err := cmd.CombinedOutput()
		if err == nil {
			return string(out), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			code := -1
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
			return "", &cccerr.GitError{Cmd: strings.Join(args, " "), Code: code, Stderr: errMsg}
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil // unreachable, the loop always returns
}

// run is runRaw with trailing whitespace trimmed, for line-oriented
// commands where the trailing newline is noise.
func (r *Repo) run(args ...string) (string, error) {
	out, err := r.runRaw(args...)
	return strings.TrimSpace(out), err
}

// Init initializes a new repository at Dir.
func (r *Repo) Init() error {
	_, err := r.run("init")
	return err
}

// SetIdentity sets the repo-local committer identity.
func (r *Repo) SetIdentity(name, email string) error {
	if _, err := r.run("config", "user.name", name); err != nil {
		return err
	}
	_, err := r.run("config", "user.email", email)
	return err
}

// Identity returns the repo-local committer name/email.
func (r *Repo) Identity() (name, email string, err error) {
	name, err = r.run("config", "user.name")
	if err != nil {
		return "", "", err
	}
	email, err = r.run("config", "user.email")
	if err != nil {
		return "", "", err
	}
	return name, email, nil
}

// AddAll runs `git add --all .`.
func (r *Repo) AddAll() error {
	_, err := r.run("add", "--all", ".")
	return err
}

// RmCachedAll runs `git rm -r --cached .`, used to rebuild the index
// after the ignore rules change.
func (r *Repo) RmCachedAll() error {
	_, err := r.run("rm", "-r", "--cached", ".")
	return err
}

// Commit commits staged changes with message msg. If author is non-empty
// it is passed as --author "<author>"; otherwise the repo-local config
// supplies the author the way plain git commit always does.
func (r *Repo) Commit(msg, author string) error {
	args := []string{"commit", "-m", msg}
	if author != "" {
		args = append(args, "--author", author)
	}
	_, err := r.run(args...)
	return err
}

// HashObject returns the git blob hash of the file at relPath, the
// canonical content identifier used for all comparisons.
func (r *Repo) HashObject(relPath string) (string, error) {
	return r.run("hash-object", relPath)
}

// TrackedFile pairs a repository-relative path with its blob hash as
// recorded by `ls-tree -r HEAD`.
type TrackedFile struct {
	Path string
	Hash string
}

// LsTreeHead returns every blob ls-tree -r HEAD reports: the
// authoritative tracked set and each blob's recorded hash.
func (r *Repo) LsTreeHead() ([]TrackedFile, error) {
	out, err := r.run("ls-tree", "-r", "HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var files []TrackedFile
	for _, line := range strings.Split(out, "\n") {
		// "<mode> <type> <hash>\t<path>"
		tabIdx := strings.IndexByte(line, '\t')
		if tabIdx < 0 {
			continue
		}
		meta := strings.Fields(line[:tabIdx])
		if len(meta) != 3 {
			continue
		}
		files = append(files, TrackedFile{Path: line[tabIdx+1:], Hash: meta[2]})
	}
	return files, nil
}

// StatusPorcelain returns the output of `git status --porcelain`.
func (r *Repo) StatusPorcelain() (string, error) {
	return r.run("status", "--porcelain")
}

// HasUncommittedChanges reports whether status --porcelain is non-empty.
func (r *Repo) HasUncommittedChanges() (bool, error) {
	out, err := r.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// ChangedPaths parses `status --porcelain` output into a list of
// repository-relative paths that changed.
func ChangedPaths(porcelain string) []string {
	if porcelain == "" {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		// Rename entries look like "R  old -> new"; take the new path.
		rest := line[3:]
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			rest = rest[idx+4:]
		}
		paths = append(paths, strings.TrimSpace(rest))
	}
	return paths
}

// Log returns `git log --pretty=<format>` output, optionally scoped to a
// single path.
func (r *Repo) Log(format, path string) (string, error) {
	args := []string{"log", "--pretty=" + format}
	if path != "" {
		args = append(args, "--", path)
	}
	return r.run(args...)
}

// Show returns the byte-exact content of path as recorded at rev
// (`git show rev:path`).
func (r *Repo) Show(rev, path string) (string, error) {
	return r.runRaw("show", fmt.Sprintf("%s:%s", rev, path))
}

// HeadExists reports whether the repository has a HEAD commit yet (a
// fresh `git init` with nothing committed has none).
func (r *Repo) HeadExists() bool {
	_, err := r.run("rev-parse", "--verify", "HEAD")
	return err == nil
}
