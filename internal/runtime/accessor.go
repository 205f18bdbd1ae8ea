// Package runtime is the game-facing read surface: flattened tables first,
// the resolution cache second, live resolution as the logged last resort.
package runtime

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/meshula/primstack/internal/cache"
	"github.com/meshula/primstack/internal/flatten"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/value"
)

// ErrTierDisabled reports a read of a property gated off at the entity's
// current tier. Callers treat it as control flow, not failure: the skip is
// the performance lever, the value was deliberately not computed.
var ErrTierDisabled = errors.New("property disabled at entity tier")

// DefaultWarnInterval throttles coverage-gap warnings.
const DefaultWarnInterval = 5 * time.Second

// published wraps one table with staleness bookkeeping. A table's
// staleness is monotonic: generations only move forward, so once a table
// goes stale it stays dead and freshness checks are memoized per store
// epoch. checkedEpoch stores epoch+1; zero means never checked.
type published struct {
	table        *flatten.Table
	checkedEpoch atomic.Uint64
	dead         atomic.Bool
}

type tableSet struct {
	tiers [4]*published
}

// Accessor serves reads lock-free. Publishing swaps an immutable table
// set; readers load the current pointer and never block writers.
type Accessor struct {
	store  *graph.Store
	cache  *cache.Cache
	lods   *lod.Manager
	logger *slog.Logger

	tables atomic.Pointer[tableSet]
	epoch  atomic.Uint64

	warnInterval time.Duration
	nowFn        func() time.Time
	lastWarn     atomic.Int64
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accessor) { a.logger = l }
}

// WithWarnInterval overrides the coverage-gap warning throttle.
func WithWarnInterval(d time.Duration) Option {
	return func(a *Accessor) { a.warnInterval = d }
}

// WithNow injects the clock used by the warning throttle.
func WithNow(now func() time.Time) Option {
	return func(a *Accessor) { a.nowFn = now }
}

// New wires an accessor over the store, the resolution cache and the tier
// gate. It subscribes to store invalidation to track table staleness.
func New(store *graph.Store, c *cache.Cache, lods *lod.Manager, opts ...Option) *Accessor {
	a := &Accessor{
		store:        store,
		cache:        c,
		lods:         lods,
		logger:       slog.Default(),
		warnInterval: DefaultWarnInterval,
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tables.Store(&tableSet{})
	store.OnInvalidate(func([]value.Path) { a.epoch.Add(1) })
	return a
}

// Publish swaps in a freshly baked table for its tier. Meant to be called
// from the flattening pipeline; one publisher at a time.
func (a *Accessor) Publish(tier lod.Tier, t *flatten.Table) {
	if int(tier) >= len(a.tables.Load().tiers) {
		return
	}
	old := a.tables.Load()
	next := &tableSet{tiers: old.tiers}
	next.tiers[tier] = &published{table: t}
	a.tables.Store(next)
	a.logger.Debug("table published",
		"tier", tier.String(),
		"entities", t.EntityCount(),
		"build", t.BuildID().String())
}

// Read returns the effective value of a property for the entity's current
// tier. Disabled properties return ErrTierDisabled without resolving.
// Reads prefer the baked table, then the cache; a read that had to run a
// full resolve is answered anyway and logged as a coverage gap.
func (a *Accessor) Read(id value.Path, property string) (value.Value, error) {
	tier := a.lods.Tier(id)
	if !a.lods.EnabledAt(tier, property) {
		return nil, ErrTierDisabled
	}

	if t := a.freshTable(tier); t != nil {
		if v, ok := t.Lookup(id, property); ok {
			return v, nil
		}
	}

	v, cached, err := a.cache.Get(id, property)
	if err != nil {
		return nil, err
	}
	if !cached {
		a.warnGap(id, property, tier)
	}
	return v, nil
}

// Source reports where a previously read value came from, when the cache
// still holds it. Debug surface only.
func (a *Accessor) Source(id value.Path, property string) (resolve.Provenance, bool) {
	e, ok := a.cache.Lookup(id, property)
	if !ok {
		return resolve.Provenance{}, false
	}
	return e.Source, true
}

// Table returns the published table for a tier if it is still fresh.
func (a *Accessor) Table(tier lod.Tier) (*flatten.Table, bool) {
	t := a.freshTable(tier)
	return t, t != nil
}

// freshTable returns the tier's published table only while its generation
// snapshot still matches the store. The verdict is memoized per store
// epoch so steady-state reads skip the snapshot walk.
func (a *Accessor) freshTable(tier lod.Tier) *flatten.Table {
	set := a.tables.Load()
	if int(tier) >= len(set.tiers) {
		return nil
	}
	pt := set.tiers[tier]
	if pt == nil || pt.dead.Load() {
		return nil
	}
	epoch := a.epoch.Load()
	if pt.checkedEpoch.Load() == epoch+1 {
		return pt.table
	}
	if pt.table.Stale(a.store) {
		pt.dead.Store(true)
		a.logger.Debug("table went stale", "tier", tier.String(), "build", pt.table.BuildID().String())
		return nil
	}
	pt.checkedEpoch.Store(epoch + 1)
	return pt.table
}

func (a *Accessor) warnGap(id value.Path, property string, tier lod.Tier) {
	now := a.nowFn().UnixNano()
	last := a.lastWarn.Load()
	if now-last < a.warnInterval.Nanoseconds() {
		return
	}
	if !a.lastWarn.CompareAndSwap(last, now) {
		return
	}
	a.logger.Warn("flatten coverage gap, resolved live",
		"entity", string(id),
		"property", property,
		"tier", tier.String())
}
