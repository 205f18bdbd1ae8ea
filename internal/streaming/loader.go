// Package streaming loads payload content in the background and flips the
// payload gate on completion.
//
// A payload arc contributes nothing until its load gate is set, so an
// in-flight or cancelled load is invisible to resolution: the store mutates
// exactly once, after the fetch has fully succeeded. Failures are reported
// on the task and the entity keeps resolving as if the payload were absent.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/value"
)

// Fetcher acquires the content behind a payload arc. Implementations block
// until the content is resident (or ctx is done); the loader never inspects
// the content itself, only whether the fetch succeeded.
type Fetcher interface {
	Fetch(ctx context.Context, target value.Path) error
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, target value.Path) error

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, target value.Path) error {
	return f(ctx, target)
}

// LoadError reports a payload fetch that did not complete.
type LoadError struct {
	Entity value.Path
	Target value.Path
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading payload %s for %s: %v", e.Target, e.Entity, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Task is one in-flight payload load. Concurrent Load calls for the same
// arc share a task.
type Task struct {
	entity value.Path
	target value.Path

	cancel context.CancelFunc
	done   chan struct{}

	// err is written exactly once, before done closes.
	err error
}

// Entity returns the entity whose payload is being loaded.
func (t *Task) Entity() value.Path { return t.entity }

// Target returns the payload target being fetched.
func (t *Task) Target() value.Path { return t.target }

// Done returns a channel that closes when the task settles, whether the
// load succeeded, failed, or was cancelled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task outcome. It is nil until Done is closed, nil after
// a successful load, and the fetch or cancellation error otherwise.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel abandons the load. A task that has already settled is unaffected;
// otherwise the fetch context is cancelled and the store is never touched.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task settles or ctx is done, and returns the task
// outcome.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loader runs payload fetches asynchronously against a store.
type Loader struct {
	store   *graph.Store
	fetcher Fetcher
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[arcKey]*Task
	wg       sync.WaitGroup
}

type arcKey struct {
	entity value.Path
	target value.Path
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader returns a loader that fetches payload content through fetcher
// and flips the corresponding gate on store when a fetch succeeds.
func NewLoader(store *graph.Store, fetcher Fetcher, opts ...Option) *Loader {
	ld := &Loader{
		store:    store,
		fetcher:  fetcher,
		logger:   slog.Default(),
		inflight: make(map[arcKey]*Task),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load starts fetching the payload arc from id to target and returns a task
// tracking it. If the arc is already loaded the returned task is settled
// with no error and nothing is fetched. A second Load for an arc with a
// live task returns the same task.
//
// The arc must exist: loading an undeclared payload is an error, not a
// deferred failure, because there is no gate to flip.
func (l *Loader) Load(ctx context.Context, id, target value.Path) (*Task, error) {
	loaded, err := l.arcState(id, target)
	if err != nil {
		return nil, err
	}

	k := arcKey{entity: id, target: target}

	l.mu.Lock()
	if t, ok := l.inflight[k]; ok {
		l.mu.Unlock()
		return t, nil
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		entity: id,
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if loaded {
		// Nothing to do; settle immediately.
		cancel()
		close(t.done)
		l.mu.Unlock()
		return t, nil
	}
	l.inflight[k] = t
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(tctx, k, t)
	return t, nil
}

func (l *Loader) run(ctx context.Context, k arcKey, t *Task) {
	defer l.wg.Done()
	defer l.settle(k, t)

	l.logger.Debug("payload load started", "entity", t.entity, "target", t.target)

	if err := l.fetcher.Fetch(ctx, t.target); err != nil {
		t.err = &LoadError{Entity: t.entity, Target: t.target, Err: err}
		l.logger.Warn("payload load failed", "entity", t.entity, "target", t.target, "error", err)
		return
	}
	// A fetch may have raced its own cancellation; a cancelled task must
	// not mutate the store.
	if err := ctx.Err(); err != nil {
		t.err = &LoadError{Entity: t.entity, Target: t.target, Err: err}
		l.logger.Debug("payload load cancelled", "entity", t.entity, "target", t.target)
		return
	}

	if err := l.store.SetPayloadLoaded(t.entity, t.target, true); err != nil {
		// The arc was removed, or the entity undefined, while the fetch
		// was in flight. The fetch result is simply dropped.
		t.err = &LoadError{Entity: t.entity, Target: t.target, Err: err}
		l.logger.Warn("payload gate flip failed", "entity", t.entity, "target", t.target, "error", err)
		return
	}
	l.logger.Info("payload loaded", "entity", t.entity, "target", t.target)
}

func (l *Loader) settle(k arcKey, t *Task) {
	l.mu.Lock()
	delete(l.inflight, k)
	l.mu.Unlock()
	t.cancel()
	close(t.done)
}

// Unload drops the payload gate on an arc. It is synchronous: resident
// payload content has no teardown to wait for, only a gate to clear.
func (l *Loader) Unload(id, target value.Path) error {
	return l.store.SetPayloadLoaded(id, target, false)
}

// Pending returns the number of in-flight loads.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// Wait blocks until every task started so far has settled. Loads started
// after Wait begins are not covered.
func (l *Loader) Wait() { l.wg.Wait() }

// arcState confirms the payload arc exists and reports its gate.
func (l *Loader) arcState(id, target value.Path) (loaded bool, err error) {
	verr := l.store.View(func(v *graph.View) error {
		if !v.Defined(id) {
			return &graph.UnknownEntityError{Path: id}
		}
		for _, a := range v.Arcs(id) {
			if a.Kind == graph.ArcPayload && a.Target == target {
				loaded = a.Loaded
				return nil
			}
		}
		return &graph.UnknownArcError{Path: id, Kind: graph.ArcPayload, Target: target}
	})
	return loaded, verr
}
