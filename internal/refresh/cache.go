package refresh

import (
	"sync"
	"time"

	"github.com/re-cinq/cccopy/internal/classify"
)

// StateCacheTTL is the lifetime of a cached per-path classification.
const StateCacheTTL = 300 * time.Second

// TrackedCacheTTL is the lifetime of a cached (repo, HEAD) tracked set.
const TrackedCacheTTL = 60 * time.Second

// StateCache holds the per-(project, path) classification cache. It is
// sharded per project so refreshes on different projects never contend
// on the same mutex.
type StateCache struct {
	ttl time.Duration

	mu     sync.Mutex
	shards map[int]*projectShard
}

type projectShard struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	state      classify.State
	computedAt time.Time
}

// NewStateCache creates an empty cache with the default TTL.
func NewStateCache() *StateCache {
	return &StateCache{ttl: StateCacheTTL, shards: make(map[int]*projectShard)}
}

func (c *StateCache) shard(projectID int) *projectShard {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shards[projectID]
	if !ok {
		s = &projectShard{entries: make(map[string]cacheEntry)}
		c.shards[projectID] = s
	}
	return s
}

// Get returns the cached state for (projectID, path) if present and not
// older than the TTL. A stale entry is never returned.
func (c *StateCache) Get(projectID int, path string) (classify.State, bool) {
	s := c.shard(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	if !ok || time.Since(e.computedAt) > c.ttl {
		return "", false
	}
	return e.state, true
}

// Set stores a freshly computed state.
func (c *StateCache) Set(projectID int, path string, state classify.State) {
	s := c.shard(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = cacheEntry{state: state, computedAt: time.Now()}
}

// Invalidate removes a single cached entry. The sync pipeline calls
// this for every path it mutates.
func (c *StateCache) Invalidate(projectID int, path string) {
	s := c.shard(projectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// InvalidateProject drops every cached entry for a project.
func (c *StateCache) InvalidateProject(projectID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, projectID)
}

// TrackedCache holds the (repo, HEAD) -> tracked-path-set cache.
type TrackedCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[trackedKey]trackedEntry
}

type trackedKey struct {
	repo string
	head string
}

type trackedEntry struct {
	index      classify.HeadIndex
	computedAt time.Time
}

// NewTrackedCache creates an empty tracked-files cache with the default
// TTL.
func NewTrackedCache() *TrackedCache {
	return &TrackedCache{ttl: TrackedCacheTTL, entries: make(map[trackedKey]trackedEntry)}
}

// Get returns the cached tracked-set/hash index for (repo, head), if
// fresh.
func (c *TrackedCache) Get(repo, head string) (classify.HeadIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[trackedKey{repo, head}]
	if !ok || time.Since(e.computedAt) > c.ttl {
		return nil, false
	}
	return e.index, true
}

// Set stores a freshly computed tracked-set/hash index.
func (c *TrackedCache) Set(repo, head string, index classify.HeadIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[trackedKey{repo, head}] = trackedEntry{index: index, computedAt: time.Now()}
}

// Invalidate drops every cached index for a repo, regardless of HEAD.
// Used after a commit changes HEAD and the old entry would otherwise
// linger unreferenced until its TTL expires.
func (c *TrackedCache) Invalidate(repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.repo == repo {
			delete(c.entries, k)
		}
	}
}
