// Package refresh keeps the file-state view responsive: a synchronous,
// non-recursive foreground scan publishes PENDING rows immediately,
// while a fixed-size background worker pool computes git-backed state
// and posts results onto a queue the UI drains. Each refresh carries a
// generation id; results from a superseded generation are discarded.
package refresh

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/re-cinq/cccopy/internal/classify"
	"github.com/re-cinq/cccopy/internal/gitrepo"
	"github.com/re-cinq/cccopy/internal/pattern"
)

// DefaultWorkers is the background classification pool size.
const DefaultWorkers = 2

// Row is one displayed file-state row.
type Row struct {
	Path       string
	State      classify.State
	Generation uint64
}

// task is one unit of background classification work.
type task struct {
	projectID  int
	path       string
	generation uint64
}

// Scheduler owns the state/tracked-files caches, the background worker
// pool, and the current refresh generation for one project.
type Scheduler struct {
	projectID int
	matcher   *pattern.Matcher
	resolver  *classify.Resolver
	cache     *StateCache
	tracked   *TrackedCache
	log       zerolog.Logger

	generation atomic.Uint64
	tasks      chan task
	results    chan Row
	workers    int
}

// NewScheduler creates a Scheduler for one project. The results channel
// is drained by the UI; workers never call UI code directly.
func NewScheduler(projectID int, matcher *pattern.Matcher, resolver *classify.Resolver, cache *StateCache, tracked *TrackedCache, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		projectID: projectID,
		matcher:   matcher,
		resolver:  resolver,
		cache:     cache,
		tracked:   tracked,
		log:       log,
		tasks:     make(chan task, 4096),
		results:   make(chan Row, 4096),
		workers:   DefaultWorkers,
	}
}

// Results returns the channel workers post completed Rows to.
func (s *Scheduler) Results() <-chan Row { return s.results }

// CurrentGeneration returns the generation currently being displayed.
func (s *Scheduler) CurrentGeneration() uint64 { return s.generation.Load() }

// NewGeneration bumps and returns the new current generation. Starting
// a new refresh supersedes the prior one: in-flight tasks from the old
// generation are not interrupted, but their results are discarded at
// apply time.
//
// A uuid is minted alongside the counter purely so log lines can
// correlate which refresh triggered later worker activity; the numeric
// generation restarts at zero every process launch.
func (s *Scheduler) NewGeneration() uint64 {
	gen := s.generation.Add(1)
	corrID := uuid.New()
	s.log.Debug().Uint64("generation", gen).Str("correlation_id", corrID.String()).Msg("refresh: new generation started")
	return gen
}

// Start launches the fixed-size worker pool; it runs until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			return s.workerLoop(ctx)
		})
	}
	return g.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-s.tasks:
			if !ok {
				return nil
			}
			s.process(t)
		}
	}
}

// process classifies one path and, if its generation has not been
// superseded, posts the result and updates the cache.
func (s *Scheduler) process(t task) {
	if t.generation != s.generation.Load() {
		return
	}

	workHead, prodHead, err := s.headIndexes()
	if err != nil {
		s.log.Error().Err(err).Str("path", t.path).Msg("refresh: building head indexes failed")
		return
	}

	rec, err := s.resolver.Resolve(t.path, workHead, prodHead)
	if err != nil {
		s.log.Error().Err(err).Str("path", t.path).Msg("refresh: classify resolve failed")
		return
	}

	state, emit := classify.Classify(rec)
	if !emit {
		return
	}

	if t.generation != s.generation.Load() {
		return
	}

	s.cache.Set(s.projectID, t.path, state)

	select {
	case s.results <- Row{Path: t.path, State: state, Generation: t.generation}:
	default:
		s.log.Warn().Str("path", t.path).Msg("refresh: results queue full, dropping row")
	}
}

func (s *Scheduler) headIndexes() (work, prod classify.HeadIndex, err error) {
	workHead, err := headCommit(s.resolver.Work)
	if err != nil {
		return nil, nil, err
	}
	prodHead, err := headCommit(s.resolver.Prod)
	if err != nil {
		return nil, nil, err
	}

	work, workOK := s.tracked.Get(s.resolver.Work.Dir, workHead)
	prod, prodOK := s.tracked.Get(s.resolver.Prod.Dir, prodHead)
	if workOK && prodOK {
		return work, prod, nil
	}

	freshWork, freshProd, err := s.resolver.BuildHeadIndexes()
	if err != nil {
		return nil, nil, err
	}
	s.tracked.Set(s.resolver.Work.Dir, workHead, freshWork)
	s.tracked.Set(s.resolver.Prod.Dir, prodHead, freshProd)
	return freshWork, freshProd, nil
}

func headCommit(repo *gitrepo.Repo) (string, error) {
	if !repo.HeadExists() {
		return "", nil
	}
	return repo.Log("%H", "")
}

// ForegroundScan performs the bounded, non-recursive filesystem scan of
// dir: it enumerates immediate children, filters them through the
// project's pattern matcher, and returns one Row per member, PENDING
// for anything not already cached, or the cached state if fresh.
// Non-cached rows are also enqueued for background classification at
// the current generation.
func (s *Scheduler) ForegroundScan(dir, relBase string) ([]Row, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	gen := s.generation.Load()
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(relBase, e.Name()))
		if !s.matcher.Member(rel) {
			continue
		}

		if cached, ok := s.cache.Get(s.projectID, rel); ok {
			rows = append(rows, Row{Path: rel, State: cached, Generation: gen})
			continue
		}

		rows = append(rows, Row{Path: rel, State: classify.StatePending, Generation: gen})
		s.Enqueue(rel)
	}
	return rows, nil
}

// Enqueue dispatches a single path for background classification at the
// current generation.
func (s *Scheduler) Enqueue(path string) {
	select {
	case s.tasks <- task{projectID: s.projectID, path: path, generation: s.generation.Load()}:
	default:
		s.log.Warn().Str("path", path).Msg("refresh: task queue full, dropping enqueue")
	}
}

// Close stops accepting new tasks. Safe to call once, after Start's ctx
// has been cancelled.
func (s *Scheduler) Close() {
	close(s.tasks)
}
