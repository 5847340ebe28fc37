// Package sync implements the Download, Upload, and Save operations
// that move content between the per-user Work tree and the shared
// Production tree. Each operation is one function: a sequential series
// of steps, every step returning an error. Production mutations run
// under the project-wide lock and, for writes, inside a privilege
// scope; the lock is taken outside, the privilege scope inside.
package sync

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/re-cinq/cccopy/internal/cccerr"
	"github.com/re-cinq/cccopy/internal/classify"
	"github.com/re-cinq/cccopy/internal/fileutil"
	"github.com/re-cinq/cccopy/internal/gitrepo"
	"github.com/re-cinq/cccopy/internal/lockmgr"
	"github.com/re-cinq/cccopy/internal/pattern"
	"github.com/re-cinq/cccopy/internal/privilege"
	"github.com/re-cinq/cccopy/internal/refresh"
	"github.com/re-cinq/cccopy/internal/settings"
)

// productionLockName is the single lock every mutating Production
// operation serializes on. Reads are not locked.
const productionLockName = "production"

// DefaultLockTimeout bounds how long Download and Upload wait for the
// Production lock before giving up.
const DefaultLockTimeout = 30 * time.Second

// Canned commit messages and the salvage author identity.
const (
	DownloadAutoCommitMessage = "auto: sync new files from production"
	DirectEditSalvageMessage  = "auto: salvage direct edits"
	SalvageAuthor             = "direct-edit <direct-edit@cccopy.com>"
)

// ConflictReporter receives every conflicted path Download encounters.
// The pipeline only reports; resolving the conflict is the external
// diff tool's job, and spawning that tool belongs to the UI.
type ConflictReporter interface {
	ReportConflict(path string)
}

// Outcome is the single result object an operation reports back to the
// UI, so the lock and privilege scopes are fully released before any
// user prompt happens.
type Outcome struct {
	Conflicts []string
	Warnings  []string
	Uploaded  []string
	Err       error
}

// Pipeline composes the lock manager, git helper, privilege scope,
// pattern matcher, and classifier into the three sync operations.
type Pipeline struct {
	work *gitrepo.Repo
	prod *gitrepo.Repo

	locks    *lockmgr.Manager
	matcher  *pattern.Matcher
	resolver *classify.Resolver

	stateCache *refresh.StateCache
	tracked    *refresh.TrackedCache

	projectID   int
	uploadGroup string

	log zerolog.Logger
}

// New builds a Pipeline for one project. stateCache and tracked are
// normally the same cache instances the refresh scheduler reads from,
// so a sync operation's invalidations are immediately visible to the
// next refresh.
func New(proj *settings.Project, stateCache *refresh.StateCache, tracked *refresh.TrackedCache, log zerolog.Logger) *Pipeline {
	work := gitrepo.New(proj.WorkingDir)
	prod := gitrepo.New(proj.ProductionDir)
	return &Pipeline{
		work:        work,
		prod:        prod,
		locks:       lockmgr.New(fileutil.LockDir(proj.ProductionDir), log),
		matcher:     pattern.New(proj.Sources, proj.Excludes),
		resolver:    classify.NewResolver(work, prod),
		stateCache:  stateCache,
		tracked:     tracked,
		projectID:   proj.ProjectID,
		uploadGroup: proj.UploadGroup,
		log:         log,
	}
}

// Save commits every change in Work under the user-supplied message. No
// lock is taken: Work is owned by the single local user.
func (p *Pipeline) Save(msg string) error {
	porcelain, err := p.work.StatusPorcelain()
	if err != nil {
		return fmt.Errorf("checking work status: %w", err)
	}
	changed := gitrepo.ChangedPaths(porcelain)

	if err := p.work.AddAll(); err != nil {
		return fmt.Errorf("staging work changes: %w", err)
	}
	if err := p.work.Commit(msg, ""); err != nil {
		return fmt.Errorf("committing work changes: %w", err)
	}

	p.tracked.Invalidate(p.work.Dir)
	for _, path := range changed {
		p.stateCache.Invalidate(p.projectID, path)
	}
	return nil
}

// Download pulls Production's state into Work: updated paths are
// copied over, brand-new paths are fetched and auto-committed, and
// conflicted paths are left untouched and reported.
func (p *Pipeline) Download(reporter ConflictReporter) (*Outcome, error) {
	lock, err := p.locks.WithLock(productionLockName, DefaultLockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if err := p.bootstrap(); err != nil {
		return nil, err
	}

	workHead, prodHead, err := p.resolver.BuildHeadIndexes()
	if err != nil {
		return nil, fmt.Errorf("building head indexes: %w", err)
	}
	paths, err := p.candidatePaths(workHead, prodHead)
	if err != nil {
		return nil, fmt.Errorf("enumerating candidate paths: %w", err)
	}

	out := &Outcome{}
	var fetched []string

	for _, path := range paths {
		rec, err := p.resolver.Resolve(path, workHead, prodHead)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		state, emit := classify.Classify(rec)
		if !emit {
			continue
		}

		switch state {
		case classify.StateUpdated:
			if err := copyFile(filepath.Join(p.prod.Dir, path), filepath.Join(p.work.Dir, path)); err != nil {
				return nil, fmt.Errorf("copying %s from production: %w", path, err)
			}
		case classify.StateDeleted:
			// Production has a path Work has never seen. Treated as a
			// brand-new fetch rather than a deletion signal, and
			// folded into the auto-commit below.
			if err := copyFile(filepath.Join(p.prod.Dir, path), filepath.Join(p.work.Dir, path)); err != nil {
				return nil, fmt.Errorf("fetching %s from production: %w", path, err)
			}
			fetched = append(fetched, path)
		case classify.StateConflicted:
			if reporter != nil {
				reporter.ReportConflict(path)
			}
			out.Conflicts = append(out.Conflicts, path)
		}

		p.stateCache.Invalidate(p.projectID, path)
	}

	if len(fetched) > 0 {
		if err := p.work.AddAll(); err != nil {
			return nil, fmt.Errorf("staging fetched paths: %w", err)
		}
		if err := p.work.Commit(DownloadAutoCommitMessage, ""); err != nil {
			return nil, fmt.Errorf("auto-committing fetched paths: %w", err)
		}
		p.tracked.Invalidate(p.work.Dir)
	}

	if len(out.Conflicts) > 0 {
		out.Err = fmt.Errorf("%w: %d path(s)", cccerr.ErrConflictPresent, len(out.Conflicts))
	}
	return out, nil
}

// Upload pushes Work's modified paths into Production under the
// invoking user's commit authorship.
func (p *Pipeline) Upload(actor, msg string) (*Outcome, error) {
	lock, err := p.locks.WithLock(productionLockName, DefaultLockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	scope, err := privilege.WithProductionPrivilege(actor, p.uploadGroup, "upload", p.log)
	if err != nil {
		return nil, err
	}
	defer scope.Exit()

	if err := p.ensureProductionIdentity(); err != nil {
		return nil, fmt.Errorf("pinning production identity: %w", err)
	}

	out := &Outcome{}
	if err := p.guardGitignore(out); err != nil {
		return nil, err
	}

	// A user may have edited Production files directly, outside this
	// pipeline. Commit those first so the upload commit contains only
	// the uploader's own changes.
	dirty, err := p.prod.HasUncommittedChanges()
	if err != nil {
		return nil, fmt.Errorf("checking production status: %w", err)
	}
	if dirty {
		if err := p.prod.AddAll(); err != nil {
			return nil, fmt.Errorf("staging direct edits: %w", err)
		}
		if err := p.prod.Commit(DirectEditSalvageMessage, SalvageAuthor); err != nil {
			return nil, fmt.Errorf("salvaging direct edits: %w", err)
		}
	}

	workHead, prodHead, err := p.resolver.BuildHeadIndexes()
	if err != nil {
		return nil, fmt.Errorf("building head indexes: %w", err)
	}
	paths, err := p.candidatePaths(workHead, prodHead)
	if err != nil {
		return nil, fmt.Errorf("enumerating candidate paths: %w", err)
	}

	gid, err := privilege.LookupGroupID(p.uploadGroup)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving upload group %q: %v", cccerr.ErrConfigError, p.uploadGroup, err)
	}

	var uploaded []string
	for _, path := range paths {
		if path == ".gitignore" {
			// .gitignore is managed exclusively by Download; an upload
			// never propagates it, even when it classifies as modified.
			continue
		}
		rec, err := p.resolver.Resolve(path, workHead, prodHead)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		state, emit := classify.Classify(rec)
		if !emit || state != classify.StateModified {
			continue
		}

		dst := filepath.Join(p.prod.Dir, path)
		if err := copyFile(filepath.Join(p.work.Dir, path), dst); err != nil {
			return nil, fmt.Errorf("copying %s to production: %w", path, err)
		}
		if err := os.Chown(dst, -1, gid); err != nil {
			return nil, fmt.Errorf("chgrp %s to %s: %w", path, p.uploadGroup, err)
		}
		if err := groupWritable(dst); err != nil {
			return nil, fmt.Errorf("setting group-writable mode on %s: %w", path, err)
		}
		uploaded = append(uploaded, path)
		p.stateCache.Invalidate(p.projectID, path)
	}

	if len(uploaded) > 0 {
		if err := p.prod.AddAll(); err != nil {
			return nil, fmt.Errorf("staging upload: %w", err)
		}
		author := fmt.Sprintf("%s <%s@cccopy.com>", actor, actor)
		if err := p.prod.Commit(msg, author); err != nil {
			return nil, fmt.Errorf("committing upload: %w", err)
		}
		p.tracked.Invalidate(p.prod.Dir)
	}

	out.Uploaded = uploaded
	return out, nil
}

// guardGitignore stops a modified Work .gitignore from ever reaching
// Production: if Work's copy differs, it is overwritten with
// Production's own copy and a warning is recorded; the rest of the
// upload still proceeds.
func (p *Pipeline) guardGitignore(out *Outcome) error {
	workPath := filepath.Join(p.work.Dir, ".gitignore")
	prodPath := filepath.Join(p.prod.Dir, ".gitignore")

	workData, workErr := os.ReadFile(workPath)
	if workErr != nil {
		if os.IsNotExist(workErr) {
			return nil
		}
		return fmt.Errorf("reading work .gitignore: %w", workErr)
	}
	prodData, prodErr := os.ReadFile(prodPath)
	if prodErr != nil && !os.IsNotExist(prodErr) {
		return fmt.Errorf("reading production .gitignore: %w", prodErr)
	}
	if prodErr == nil && bytes.Equal(workData, prodData) {
		return nil
	}

	if prodErr == nil {
		if err := copyFile(prodPath, workPath); err != nil {
			return fmt.Errorf("restoring production .gitignore: %w", err)
		}
	}
	warning := fmt.Sprintf("%v: work .gitignore differed from production; restored production's copy", cccerr.ErrGitignoreViolation)
	out.Warnings = append(out.Warnings, warning)
	p.log.Warn().Str("path", ".gitignore").Msg(warning)
	return nil
}

// bootstrap initializes either tree if absent and mirrors Production's
// .gitignore into Work on every Download, not only the first: the
// project's ignore rules are owned by Production, so each Download
// reasserts them and rebuilds Work's index under them.
func (p *Pipeline) bootstrap() error {
	if !repoInitialized(p.work.Dir) {
		if err := fileutil.EnsureDir(p.work.Dir); err != nil {
			return fmt.Errorf("creating work directory: %w", err)
		}
		if err := p.work.Init(); err != nil {
			return fmt.Errorf("initializing work repo: %w", err)
		}
		name, email, err := settings.WorkIdentity()
		if err != nil {
			return fmt.Errorf("resolving work identity: %w", err)
		}
		if err := p.work.SetIdentity(name, email); err != nil {
			return fmt.Errorf("setting work identity: %w", err)
		}
	}

	if err := p.prepareProduction(); err != nil {
		return err
	}

	prodGitignore := filepath.Join(p.prod.Dir, ".gitignore")
	if _, err := os.Stat(prodGitignore); err == nil {
		if err := copyFile(prodGitignore, filepath.Join(p.work.Dir, ".gitignore")); err != nil {
			return fmt.Errorf("mirroring production .gitignore: %w", err)
		}
		if p.work.HeadExists() {
			if err := p.work.RmCachedAll(); err != nil {
				return fmt.Errorf("refreshing work index under new ignore rules: %w", err)
			}
			if err := p.work.AddAll(); err != nil {
				return fmt.Errorf("re-adding work tree under new ignore rules: %w", err)
			}
		}
	}
	return nil
}

// prepareProduction initializes the Production repo if absent and pins
// its fixed committer identity. The privilege scope is entered only
// when a write is actually needed, and exited before any Work-side
// step runs.
func (p *Pipeline) prepareProduction() error {
	needInit := !repoInitialized(p.prod.Dir)
	if !needInit && p.productionIdentityCorrect() {
		return nil
	}

	scope, err := privilege.WithProductionPrivilege("cccopy", p.uploadGroup, "prepare production repository", p.log)
	if err != nil {
		return err
	}
	defer scope.Exit()

	if needInit {
		if err := fileutil.EnsureDir(p.prod.Dir); err != nil {
			return fmt.Errorf("creating production directory: %w", err)
		}
		if err := p.prod.Init(); err != nil {
			return fmt.Errorf("initializing production repo: %w", err)
		}
	}
	if err := p.ensureProductionIdentity(); err != nil {
		return fmt.Errorf("pinning production identity: %w", err)
	}
	return nil
}

func (p *Pipeline) productionIdentityCorrect() bool {
	name, email, err := p.prod.Identity()
	return err == nil &&
		name == settings.ProductionCommitterName &&
		email == settings.ProductionCommitterEmail
}

// ensureProductionIdentity pins the fixed committer identity on the
// Production repo. The caller must already hold the privilege scope.
func (p *Pipeline) ensureProductionIdentity() error {
	if p.productionIdentityCorrect() {
		return nil
	}
	return p.prod.SetIdentity(settings.ProductionCommitterName, settings.ProductionCommitterEmail)
}

// candidatePaths unions every path either tree's HEAD already tracks
// with every path currently on disk in either tree and accepted by the
// pattern matcher.
func (p *Pipeline) candidatePaths(workHead, prodHead classify.HeadIndex) ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	add := func(path string) {
		if !seen[path] && p.matcher.Member(path) {
			seen[path] = true
			all = append(all, path)
		}
	}

	for path := range workHead {
		add(path)
	}
	for path := range prodHead {
		add(path)
	}

	workPaths, err := p.matcher.WalkMembers(p.work.Dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("walking work tree: %w", err)
	}
	for _, path := range workPaths {
		add(path)
	}

	prodPaths, err := p.matcher.WalkMembers(p.prod.Dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("walking production tree: %w", err)
	}
	for _, path := range prodPaths {
		add(path)
	}

	return all, nil
}

func repoInitialized(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// copyFile copies src to dst, creating dst's parent directories as
// needed and preserving dst's existing mode if it already exists.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, statErr := os.Stat(dst); statErr == nil {
		mode = info.Mode()
	}
	return os.WriteFile(dst, data, mode)
}

// groupWritable sets the group-write bit on an already-written file.
func groupWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0o020)
}
