package flatten

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/value"
)

// DefaultStability is how long the graph must sit unedited before a
// rebake triggers.
const DefaultStability = 2 * time.Second

// DefaultInterval is the scheduling cadence of the background worker.
const DefaultInterval = 250 * time.Millisecond

// PublishFunc receives finished tables. The runtime accessor's Publish
// satisfies it.
type PublishFunc func(tier lod.Tier, t *Table)

// Pipeline rebakes tier tables off the interactive path. It watches store
// invalidation, waits for edits to settle, then flattens the whole store
// per tier and hands the tables to the publish sink.
type Pipeline struct {
	flattener *Flattener
	store     *graph.Store
	publish   PublishFunc
	stability time.Duration
	interval  time.Duration
	tiers     []lod.Tier
	nowFn     func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	pending bool
	hot     map[value.Path]time.Time
	editSeq uint64
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStability overrides the settle window.
func WithStability(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.stability = d }
}

// WithInterval overrides the worker cadence.
func WithInterval(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.interval = d }
}

// WithTiers restricts which tiers get baked. Defaults to all four.
func WithTiers(tiers ...lod.Tier) PipelineOption {
	return func(p *Pipeline) { p.tiers = tiers }
}

// WithPipelineNow injects the clock used for stability timing.
func WithPipelineNow(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.nowFn = now }
}

// WithPipelineLogger sets the structured logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires a pipeline over a flattener and subscribes it to the
// store's invalidation feed. The first bake happens on the first step; it
// does not wait for an edit.
func NewPipeline(f *Flattener, publish PublishFunc, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		flattener: f,
		store:     f.store,
		publish:   publish,
		stability: DefaultStability,
		interval:  DefaultInterval,
		tiers:     []lod.Tier{lod.TierNear, lod.TierMid, lod.TierFar, lod.TierCulled},
		nowFn:     time.Now,
		logger:    slog.Default(),
		pending:   true,
		hot:       make(map[value.Path]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.store.OnInvalidate(p.noteEdits)
	return p
}

func (p *Pipeline) noteEdits(ids []value.Path) {
	now := p.nowFn()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = true
	for _, id := range ids {
		p.hot[id] = now
	}
	p.editSeq++
}

// Run drives the worker until the context is cancelled. Hosts that prefer
// their own cadence can call Step directly instead.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("flatten pipeline running",
		"stability", p.stability,
		"interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("flatten pipeline stopped")
			return
		case <-ticker.C:
			p.Step()
		}
	}
}

// Step makes one scheduling decision: bake if work is pending and the
// stability window has passed since the newest edit, otherwise defer.
func (p *Pipeline) Step() {
	now := p.nowFn()

	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	var newest time.Time
	for _, t := range p.hot {
		if t.After(newest) {
			newest = t
		}
	}
	if !newest.IsZero() && now.Sub(newest) < p.stability {
		hot := len(p.hot)
		p.mu.Unlock()
		p.logger.Debug("bake deferred", "hot", hot)
		return
	}
	seq := p.editSeq
	p.mu.Unlock()

	ids := p.store.Paths()
	for _, tier := range p.tiers {
		t, err := p.flattener.Flatten(ids, tier)
		if err != nil {
			p.logger.Error("bake failed", "tier", tier.String(), "error", err)
			return
		}
		p.publish(tier, t)
	}

	p.mu.Lock()
	// Edits that landed mid-bake keep the pipeline pending; the tables
	// just published are already stale and the next stable window redoes
	// them.
	if p.editSeq == seq {
		p.pending = false
		p.hot = make(map[value.Path]time.Time)
	}
	p.mu.Unlock()
}
