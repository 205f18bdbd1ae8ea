// Package cache memoizes resolution results with an LRU bound and
// generation-validated entries.
//
// Entries are immutable once published. Correctness never depends on the
// eager invalidation path alone: every cache read revalidates the entry's
// recorded dependency generations against the store, so over-invalidation
// is merely wasted work and under-invalidation cannot serve stale data.
package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/value"
)

// DefaultCapacity is the default entry-count bound.
const DefaultCapacity = 4096

type key struct {
	entity   value.Path
	property string
}

// Entry is one published resolution result.
type Entry struct {
	Value  value.Value
	Source resolve.Provenance
	Deps   []resolve.Dep
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache wraps a resolution engine with an LRU of validated entries and a
// dependency index for writer-side eviction.
type Cache struct {
	engine *resolve.Engine
	graph  *graph.Store
	lru    *lru.Cache[key, *Entry]
	logger *slog.Logger

	// mu guards depIndex only; the LRU has its own lock and is never
	// called with mu held.
	mu       sync.Mutex
	depIndex map[value.Path]map[key]struct{}

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	capacity int
	logger   *slog.Logger
}

// WithCapacity sets the entry-count bound.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New builds a cache over the engine and store and registers its eviction
// hook with the store, so every mutation evicts dependent entries before it
// returns.
func New(engine *resolve.Engine, g *graph.Store, opts ...Option) (*Cache, error) {
	cfg := config{capacity: DefaultCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.capacity)
	}

	c := &Cache{
		engine:   engine,
		graph:    g,
		logger:   cfg.logger,
		depIndex: make(map[value.Path]map[key]struct{}),
	}
	l, err := lru.NewWithEvict[key, *Entry](cfg.capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	g.OnInvalidate(c.Invalidate)
	return c, nil
}

// Get returns the effective value of a property, serving a validated cache
// entry when one exists and resolving otherwise. The bool reports
// served-from-cache.
func (c *Cache) Get(id value.Path, property string) (value.Value, bool, error) {
	k := key{entity: id, property: property}
	if ent, ok := c.lru.Get(k); ok {
		if c.valid(ent) {
			c.hits.Add(1)
			return ent.Value, true, nil
		}
		// Stale on sight: the entry predates a dependency change.
		c.lru.Remove(k)
	}
	c.misses.Add(1)

	res, err := c.engine.Resolve(id, property)
	if err != nil {
		return nil, false, err
	}
	ent := &Entry{Value: res.Value, Source: res.Source, Deps: res.Deps}
	c.lru.Add(k, ent)
	c.index(k, ent)
	return res.Value, false, nil
}

// Lookup peeks at a cached entry without promoting or populating it.
func (c *Cache) Lookup(id value.Path, property string) (Entry, bool) {
	ent, ok := c.lru.Peek(key{entity: id, property: property})
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

// Invalidate evicts every entry that recorded a dependency on any of the
// given entities. The graph store calls this synchronously inside each
// mutation; it is also safe to call directly.
func (c *Cache) Invalidate(ids []value.Path) {
	victims := make(map[key]struct{})
	c.mu.Lock()
	for _, id := range ids {
		for k := range c.depIndex[id] {
			victims[k] = struct{}{}
		}
	}
	c.mu.Unlock()

	for k := range victims {
		c.lru.Remove(k)
	}
	if len(victims) > 0 {
		c.logger.Debug("cache invalidation", "entities", len(ids), "evicted", len(victims))
	}
}

// Stats returns the counter snapshot.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Len returns the live entry count.
func (c *Cache) Len() int { return c.lru.Len() }

// valid checks every recorded dependency generation against the store.
func (c *Cache) valid(e *Entry) bool {
	for _, d := range e.Deps {
		gen, ok := c.graph.Generation(d.Entity)
		if !ok || gen != d.Generation {
			return false
		}
	}
	return true
}

func (c *Cache) index(k key, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range e.Deps {
		set := c.depIndex[d.Entity]
		if set == nil {
			set = make(map[key]struct{})
			c.depIndex[d.Entity] = set
		}
		set[k] = struct{}{}
	}
}

// onEvict runs inside the LRU for capacity evictions and removals alike,
// keeping the dependency index exact.
func (c *Cache) onEvict(k key, e *Entry) {
	c.evictions.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range e.Deps {
		if set := c.depIndex[d.Entity]; set != nil {
			delete(set, k)
			if len(set) == 0 {
				delete(c.depIndex, d.Entity)
			}
		}
	}
}
