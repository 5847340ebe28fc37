// Package pattern evaluates project membership for repository-relative
// paths: a path belongs to the project when at least one source glob
// matches it and no exclude pattern does. Globs support literal
// segments, "*" (one path segment, never crossing a separator), and
// "**" (any number of segments). Matching is case-sensitive and runs
// against POSIX-normalized relative paths.
//
// Source patterns are matched with doublestar; excludes are compiled as
// gitignore-style rules, whose syntax is a superset of the exclude
// globs and handles directory-trailing-slash semantics natively.
package pattern

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// alwaysExcluded are control directories excluded unconditionally,
// regardless of the project's configured excludes.
var alwaysExcluded = []string{".git/", ".cccopy/"}

// Matcher evaluates effective project membership for a path.
type Matcher struct {
	sources  []string
	excludes *ignore.GitIgnore
}

// New compiles a Matcher from ordered include (source) globs and
// exclude globs.
func New(sources, excludes []string) *Matcher {
	all := append(append([]string{}, alwaysExcluded...), excludes...)
	return &Matcher{
		sources:  sources,
		excludes: ignore.CompileIgnoreLines(all...),
	}
}

// normalize converts a path to the POSIX form matching runs against:
// "/" separators, no leading "./".
func normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.TrimPrefix(p, "./")
}

// Includes reports whether any source pattern matches p.
func (m *Matcher) Includes(p string) bool {
	p = normalize(p)
	for _, pat := range m.sources {
		ok, err := doublestar.Match(pat, p)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// Excluded reports whether any exclude pattern (including the
// unconditional .git/ and .cccopy/ rules) matches p.
func (m *Matcher) Excluded(p string) bool {
	p = normalize(p)
	return m.excludes.MatchesPath(p)
}

// Member reports effective project membership: included and not
// excluded.
func (m *Matcher) Member(p string) bool {
	return m.Includes(p) && !m.Excluded(p)
}

// WalkMembers recursively walks root and returns every regular file's
// root-relative, POSIX-normalized path that satisfies Member. The walk
// prunes .git and .cccopy directories outright rather than relying on
// Excluded to filter every descendant one at a time.
func (m *Matcher) WalkMembers(root string) ([]string, error) {
	var members []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".cccopy" {
				return filepath.SkipDir
			}
			return nil
		}
		if m.Member(rel) {
			members = append(members, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}
