package resolve

import (
	"log/slog"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// DefaultMaxDepth bounds the composition walk. Legal graphs are acyclic, so
// the bound only trips on pathologically deep arc chains.
const DefaultMaxDepth = 256

// Provenance identifies where a resolved value came from.
type Provenance struct {
	// Arc is the winning arc kind on the requesting entity. ArcLocal for
	// wins in the entity's own blocks and for schema defaults.
	Arc graph.ArcKind

	// Index is the declaration position within the winning kind: the block
	// position for local wins, the per-kind arc position otherwise.
	Index int

	// Author is the entity whose local content held the winning opinion.
	Author value.Path

	// Default is set when no authored opinion exists anywhere and the
	// requesting type's schema default was returned.
	Default bool
}

// Dep records one entity consulted during a walk and the generation
// observed. Cache entries validate against these.
type Dep struct {
	Entity     value.Path
	Generation uint64
}

// Result is a resolved property: the effective value, where it came from,
// and every entity the answer depends on (requester first).
type Result struct {
	Value  value.Value
	Source Provenance
	Deps   []Dep
}

// Engine resolves properties against a graph store and schema registry.
type Engine struct {
	graph    *graph.Store
	schemas  *schema.Registry
	maxDepth int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides the composition depth bound.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a resolution engine over a store and its registry.
func New(g *graph.Store, schemas *schema.Registry, opts ...Option) *Engine {
	e := &Engine{
		graph:    g,
		schemas:  schemas,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve computes the effective value of a property on an entity.
// Identical graph state yields identical results, independent of timing or
// query history.
func (e *Engine) Resolve(id value.Path, property string) (Result, error) {
	var res Result
	err := e.graph.View(func(v *graph.View) error {
		var err error
		res, err = e.resolveInView(v, id, property)
		return err
	})
	return res, err
}

// ResolveInView is Resolve against an already-open snapshot, so flattening
// can compose many properties from one consistent point in time.
func (e *Engine) ResolveInView(v *graph.View, id value.Path, property string) (Result, error) {
	return e.resolveInView(v, id, property)
}

func (e *Engine) resolveInView(v *graph.View, id value.Path, property string) (Result, error) {
	typeName, ok := v.TypeName(id)
	if !ok {
		return Result{}, &graph.UnknownEntityError{Path: id}
	}
	rt, err := e.schemas.ResolveType(typeName)
	if err != nil {
		return Result{}, err
	}
	spec, ok := rt.Spec(property)
	if !ok {
		return Result{}, &schema.UnknownPropertyError{Type: typeName, Property: property}
	}

	w := &walker{
		view:     v,
		spec:     spec,
		property: property,
		maxDepth: e.maxDepth,
		seen:     make(map[value.Path]struct{}),
		logger:   e.logger,
	}
	w.record(id)

	// The requester's own frame is unrolled here so provenance can name
	// the winning arc kind and its declaration position.
	if op, block, found := w.localOpinion(id); found {
		return Result{
			Value:  op.Resolved(),
			Source: Provenance{Arc: graph.ArcLocal, Index: block, Author: id},
			Deps:   w.deps,
		}, nil
	}

	for _, strength := range strengthBuckets {
		kindIndex := make(map[graph.ArcKind]int)
		for _, arc := range v.Arcs(id) {
			if arc.Kind.Strength() != strength {
				continue
			}
			index := kindIndex[arc.Kind]
			kindIndex[arc.Kind] = index + 1

			if skipArc(v, arc) {
				continue
			}
			w.record(arc.Target)
			op, author, found, err := w.walk(arc.Target, 1)
			if err != nil {
				return Result{}, err
			}
			if found {
				return Result{
					Value:  op.Resolved(),
					Source: Provenance{Arc: arc.Kind, Index: index, Author: author},
					Deps:   w.deps,
				}, nil
			}
		}
	}

	return Result{
		Value:  spec.Default,
		Source: Provenance{Arc: graph.ArcLocal, Author: id, Default: true},
		Deps:   w.deps,
	}, nil
}

// strengthBuckets is the fixed walk order over target-bearing arcs:
// reference/payload, then inherit, then specialize.
var strengthBuckets = []int{1, 2, 3}

// skipArc applies the gating rules: unloaded payloads and arcs targeting
// undefined or inactive entities contribute nothing, exactly as if absent.
func skipArc(v *graph.View, arc graph.Arc) bool {
	if arc.Kind == graph.ArcPayload && !arc.Loaded {
		return true
	}
	return !v.Active(arc.Target)
}

type walker struct {
	view     *graph.View
	spec     schema.PropertySpec
	property string
	maxDepth int
	seen     map[value.Path]struct{}
	deps     []Dep
	logger   *slog.Logger
}

func (w *walker) record(id value.Path) {
	if _, ok := w.seen[id]; ok {
		return
	}
	w.seen[id] = struct{}{}
	gen, _ := w.view.Generation(id)
	w.deps = append(w.deps, Dep{Entity: id, Generation: gen})
}

// localOpinion returns the entity's first kind-compatible opinion for the
// property. An authored opinion of the wrong kind is skipped, not surfaced;
// cross-entity kind drift is an authoring-time problem, and the query path
// must keep its declared-kind contract.
func (w *walker) localOpinion(id value.Path) (graph.Opinion, int, bool) {
	op, block, found := w.view.LocalOpinion(id, w.property)
	if !found {
		return graph.Opinion{}, 0, false
	}
	if !w.accepts(op) {
		w.logger.Debug("skipping kind-mismatched opinion",
			"entity", string(id), "property", w.property)
		return graph.Opinion{}, 0, false
	}
	return op, block, true
}

func (w *walker) accepts(op graph.Opinion) bool {
	if op.IsEdit {
		return w.spec.Kind == value.KindRelation
	}
	return op.Value != nil && op.Value.Kind() == w.spec.Kind
}

// walk performs the full strength-ordered search on one entity, returning
// the first opinion found and its authoring entity.
func (w *walker) walk(id value.Path, depth int) (graph.Opinion, value.Path, bool, error) {
	if depth > w.maxDepth {
		return graph.Opinion{}, "", false, &DepthExceededError{
			Entity:   id,
			Property: w.property,
			Max:      w.maxDepth,
		}
	}

	if op, _, found := w.localOpinion(id); found {
		return op, id, true, nil
	}

	for _, strength := range strengthBuckets {
		for _, arc := range w.view.Arcs(id) {
			if arc.Kind.Strength() != strength {
				continue
			}
			if skipArc(w.view, arc) {
				continue
			}
			w.record(arc.Target)
			op, author, found, err := w.walk(arc.Target, depth+1)
			if err != nil {
				return graph.Opinion{}, "", false, err
			}
			if found {
				return op, author, true, nil
			}
		}
	}
	return graph.Opinion{}, "", false, nil
}
