// Package classify labels every tracked path in one of six states by
// comparing the Work and Production working copies against each tree's
// HEAD. Classify itself is a pure function over a Record; the Resolver
// fills Records in from the two git trees, so the state table stays
// unit-testable without a repository.
package classify

import (
	"strings"

	"github.com/re-cinq/cccopy/internal/gitrepo"
)

// State is one of the six closed states a tracked path can be in.
type State string

const (
	StateSame       State = "SAME"
	StateModified   State = "MODIFIED"
	StateUpdated    State = "UPDATED"
	StateConflicted State = "CONFLICTED"
	StateDeleted    State = "DELETED"
	StatePending    State = "PENDING" // never produced by Classify; published by the scheduler as a placeholder
	stateNotTracked State = ""        // path absent from both trees, no row emitted
)

// Record is the per-path tuple Classify derives a State from.
type Record struct {
	ExistsWork   bool
	ExistsProd   bool
	HashWork     string // "" if ExistsWork is false
	HashProd     string
	HashWorkHead string
	HashProdHead string
}

// Classify derives State from a Record. The same Record always yields
// the same State, and Classify never returns StatePending.
func Classify(r Record) (State, bool) {
	switch {
	case !r.ExistsWork && !r.ExistsProd:
		return stateNotTracked, false

	case !r.ExistsWork && r.ExistsProd:
		return StateDeleted, true

	case r.ExistsWork && !r.ExistsProd:
		// A Work path absent from Production is MODIFIED uniformly,
		// whether or not it was ever fetched from Production.
		return StateModified, true

	case r.HashWork == r.HashProd:
		// Equal content dominates, so two sides converging on the same
		// bytes never report CONFLICTED even when both HEADs disagree.
		return StateSame, true

	case r.HashWork == r.HashWorkHead && r.HashProd != r.HashProdHead:
		// Only Production moved.
		return StateUpdated, true

	case r.HashWork != r.HashWorkHead && r.HashProd == r.HashProdHead:
		// Only Work moved.
		return StateModified, true

	case r.HashWork != r.HashWorkHead && r.HashProd != r.HashProdHead:
		// Both sides moved.
		return StateConflicted, true

	default:
		// Both working copies clean yet the trees disagree. Without
		// history this is indistinguishable from a committed local
		// change, so default to MODIFIED; the Resolver's baseline
		// reconciliation rewrites the head fields first when history
		// can break the tie.
		return StateModified, true
	}
}

// Resolver fills in Records by consulting the Work and Production git
// trees.
type Resolver struct {
	Work *gitrepo.Repo
	Prod *gitrepo.Repo
}

// NewResolver creates a Resolver over the two coordinated trees.
func NewResolver(work, prod *gitrepo.Repo) *Resolver {
	return &Resolver{Work: work, Prod: prod}
}

// HeadIndex is a path -> blob-hash lookup built from ls-tree -r HEAD.
type HeadIndex map[string]string

func buildHeadIndex(repo *gitrepo.Repo) (HeadIndex, error) {
	if !repo.HeadExists() {
		// A freshly init'd repo with no commits has no tree to index;
		// every path in it is by definition new relative to HEAD.
		return HeadIndex{}, nil
	}
	files, err := repo.LsTreeHead()
	if err != nil {
		return nil, err
	}
	idx := make(HeadIndex, len(files))
	for _, f := range files {
		idx[f.Path] = f.Hash
	}
	return idx, nil
}

// BuildHeadIndexes computes both trees' tracked-set/hash indexes.
// Callers normally cache the result for the tracked-files cache TTL.
func (r *Resolver) BuildHeadIndexes() (work, prod HeadIndex, err error) {
	work, err = buildHeadIndex(r.Work)
	if err != nil {
		return nil, nil, err
	}
	prod, err = buildHeadIndex(r.Prod)
	if err != nil {
		return nil, nil, err
	}
	return work, prod, nil
}

// Resolve computes the Record for path p given the two trees' HEAD
// indexes (built once per refresh generation) and the working-copy
// existence/hash of p in each tree.
func (r *Resolver) Resolve(p string, workHead, prodHead HeadIndex) (Record, error) {
	rec := Record{
		HashWorkHead: workHead[p],
		HashProdHead: prodHead[p],
	}

	workHash, workExists, err := hashInTree(r.Work, p)
	if err != nil {
		return Record{}, err
	}
	rec.ExistsWork = workExists
	rec.HashWork = workHash

	prodHash, prodExists, err := hashInTree(r.Prod, p)
	if err != nil {
		return Record{}, err
	}
	rec.ExistsProd = prodExists
	rec.HashProd = prodHash

	r.reconcileBaselines(p, &rec)
	return rec, nil
}

// reconcileBaselines handles the case where both working copies match
// their own HEADs yet the two trees disagree: the two HEAD hashes alone
// cannot tell a committed local change from a committed remote one.
// Git history breaks the tie. If Production once recorded exactly the
// content Work holds, Production has advanced past Work's sync point
// and the head fields are rewritten so the path classifies as UPDATED.
// If neither tree's history recognizes the other's content, both sides
// advanced independently and the path classifies as CONFLICTED. If only
// Work's history recognizes Production's content, Work advanced, and
// the default MODIFIED already holds.
func (r *Resolver) reconcileBaselines(p string, rec *Record) {
	if !rec.ExistsWork || !rec.ExistsProd ||
		rec.HashWork == rec.HashProd ||
		rec.HashWork != rec.HashWorkHead ||
		rec.HashProd != rec.HashProdHead {
		return
	}

	workContent, err := r.Work.Show("HEAD", p)
	if err != nil {
		return
	}
	prodContent, err := r.Prod.Show("HEAD", p)
	if err != nil {
		return
	}

	prodSawWork := historyHasContent(r.Prod, p, workContent)
	workSawProd := historyHasContent(r.Work, p, prodContent)
	switch {
	case prodSawWork && !workSawProd:
		rec.HashProdHead = rec.HashWorkHead
	case !prodSawWork && !workSawProd:
		rec.HashWorkHead = ""
		rec.HashProdHead = ""
	}
}

// historyHasContent reports whether any commit in repo's history of
// path recorded exactly content.
func historyHasContent(repo *gitrepo.Repo, path, content string) bool {
	out, err := repo.Log("%H", path)
	if err != nil || out == "" {
		return false
	}
	for _, commit := range strings.Split(out, "\n") {
		got, showErr := repo.Show(commit, path)
		if showErr == nil && got == content {
			return true
		}
	}
	return false
}

func hashInTree(repo *gitrepo.Repo, p string) (hash string, exists bool, err error) {
	hash, err = repo.HashObject(p)
	if err != nil {
		// hash-object fails when the path doesn't exist on disk; treat
		// that as "does not exist" rather than propagating the error.
		return "", false, nil
	}
	return hash, true, nil
}
