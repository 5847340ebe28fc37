package refresh

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/re-cinq/cccopy/internal/gitrepo"
)

// PollInterval is the Work-tree change-detection poll period.
const PollInterval = 5 * time.Second

// Watcher polls Work's `git status --porcelain` on a fixed interval and
// invalidates the cached state of any path whose dirty/clean status
// changed since the previous poll. An fsnotify watch on the currently
// displayed directory supplements the poll with a faster, additive
// path. The fsnotify signal is strictly a latency optimization:
// correctness never depends on it firing, only on the poll, since
// fsnotify backends are unreliable on several NFS clients.
type Watcher struct {
	work      *gitrepo.Repo
	scheduler *Scheduler
	log       zerolog.Logger

	displayedDir string
}

// NewWatcher creates a Watcher over the Work repo, posting
// invalidations and re-enqueues to scheduler.
func NewWatcher(work *gitrepo.Repo, scheduler *Scheduler, log zerolog.Logger) *Watcher {
	return &Watcher{work: work, scheduler: scheduler, log: log}
}

// SetDisplayedDir records which directory's rows are currently on
// screen so invalidated paths outside it aren't pointlessly
// re-enqueued.
func (w *Watcher) SetDisplayedDir(dir string) {
	w.displayedDir = dir
}

// Run polls Work every PollInterval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	prevChanged := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prevChanged = w.poll(prevChanged)
		}
	}
}

func (w *Watcher) poll(prevChanged map[string]bool) map[string]bool {
	porcelain, err := w.work.StatusPorcelain()
	if err != nil {
		w.log.Error().Err(err).Msg("watcher: status --porcelain failed")
		return prevChanged
	}

	changed := gitrepo.ChangedPaths(porcelain)
	changedSet := make(map[string]bool, len(changed))
	for _, p := range changed {
		changedSet[p] = true
		if !prevChanged[p] {
			w.invalidateAndMaybeRequeue(p)
		}
	}
	// Paths that were dirty and are now clean (committed, reverted) are
	// stale too, since a fresh classification may now differ.
	for p := range prevChanged {
		if !changedSet[p] {
			w.invalidateAndMaybeRequeue(p)
		}
	}
	return changedSet
}

func (w *Watcher) invalidateAndMaybeRequeue(path string) {
	w.scheduler.cache.Invalidate(w.scheduler.projectID, path)
	if !w.scheduler.matcher.Member(path) {
		return
	}
	if w.displayedDir == "" || inDir(path, w.displayedDir) {
		w.scheduler.Enqueue(path)
	}
}

// inDir reports whether path is an immediate child of dir.
func inDir(path, dir string) bool {
	if dir == "." || dir == "" {
		return !containsSeparator(path)
	}
	rel := path
	if len(rel) <= len(dir) || rel[:len(dir)] != dir || rel[len(dir)] != '/' {
		return false
	}
	return !containsSeparator(rel[len(dir)+1:])
}

func containsSeparator(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

// FastWatch starts an fsnotify watch on the single directory dir inside
// the tree rooted at root (non-recursive, matching the foreground
// scan's own boundedness) and re-enqueues any member path that changes,
// ahead of the next poll tick. It returns a stop function.
func FastWatch(root, dir string, scheduler *Scheduler, log zerolog.Logger) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				rel, relErr := filepath.Rel(root, event.Name)
				if relErr != nil {
					continue
				}
				rel = filepath.ToSlash(rel)
				if !scheduler.matcher.Member(rel) {
					continue
				}
				scheduler.cache.Invalidate(scheduler.projectID, rel)
				scheduler.Enqueue(rel)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("fsnotify watch error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
