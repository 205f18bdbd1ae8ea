package harness

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/meshula/primstack/internal/cache"
	"github.com/meshula/primstack/internal/compiler"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/testutil"
	"github.com/meshula/primstack/internal/value"
)

// Harness executes one scenario against a freshly built world.
type Harness struct {
	registry *schema.Registry
	store    *graph.Store
	engine   *resolve.Engine
	cache    *cache.Cache
	lods     *lod.Manager
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario builds a fresh world from its scene document: registry,
// store, resolution engine, cache, and tier manager on a deterministic
// clock pinned to the Unix epoch. Steps run in order and are expected to
// succeed; a refused mutation aborts the run. Check failures accumulate on
// the result, and every step and check appends what actually happened to
// the trace.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario.Scene)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(i, &scenario.Steps[i], result); err != nil {
			return nil, err
		}
	}
	for i := range scenario.Checks {
		h.evaluateCheck(i, &scenario.Checks[i], result)
	}
	return result, nil
}

// newHarness builds a fresh world from the scene document directory.
func newHarness(scene string) (*Harness, error) {
	doc, err := compiler.Load(scene)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile scene: %w", err)
	}

	registry := schema.NewRegistry()
	store := graph.NewStore(registry)
	if err := compiler.Apply(compiled, registry, store); err != nil {
		return nil, fmt.Errorf("failed to build scene: %w", err)
	}

	engine := resolve.New(store, registry)
	memo, err := cache.New(engine, store)
	if err != nil {
		return nil, err
	}

	cfg := lod.DefaultConfig()
	if compiled.LOD != nil {
		cfg = *compiled.LOD
	}
	clock := testutil.NewDeterministicClock(time.Unix(0, 0))
	lods, err := lod.NewManager(cfg, lod.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to build tier manager: %w", err)
	}

	return &Harness{
		registry: registry,
		store:    store,
		engine:   engine,
		cache:    memo,
		lods:     lods,
		clock:    clock,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // scenario runs stay quiet
	}, nil
}

// executeStep runs one mutation or probe and records it in the trace.
// The trace captures what actually happened, so a read step records the
// value it observed and whether the cache served it.
func (h *Harness) executeStep(index int, st *Step, result *Result) error {
	fail := func(err error) error {
		return fmt.Errorf("step %d (%s): %w", index, st.Op, err)
	}

	if st.Op == StepAdvance {
		d := time.Duration(st.Millis) * time.Millisecond
		h.clock.Advance(d)
		result.addTrace(TraceEvent{Type: "step", Op: st.Op, Value: d.String()})
		return nil
	}

	id, err := value.NewPath(st.Entity)
	if err != nil {
		return fail(err)
	}
	ev := TraceEvent{Type: "step", Op: st.Op, Entity: string(id)}

	switch st.Op {
	case StepDefine:
		if err := h.store.Define(id, st.Type); err != nil {
			return fail(err)
		}
		ev.Value = st.Type

	case StepRemove:
		if err := h.store.Remove(id); err != nil {
			return fail(err)
		}

	case StepSetLocal:
		spec, err := h.propertySpec(id, st.Property)
		if err != nil {
			return fail(err)
		}
		val, err := yamlValue(st.Value, spec.Kind)
		if err != nil {
			return fail(fmt.Errorf("property %q: %w", st.Property, err))
		}
		if err := h.store.SetLocalValue(id, st.Property, graph.ValueOpinion(val)); err != nil {
			return fail(err)
		}
		ev.Property = st.Property
		ev.Value = value.Render(val)

	case StepClearLocal:
		if err := h.store.ClearLocalValue(id, st.Property); err != nil {
			return fail(err)
		}
		ev.Property = st.Property

	case StepAddArc:
		kind, err := graph.ParseArcKind(st.Kind)
		if err != nil {
			return fail(err)
		}
		target, err := value.NewPath(st.Target)
		if err != nil {
			return fail(err)
		}
		var opts []graph.ArcOption
		if st.Loaded != nil {
			opts = append(opts, graph.Loaded(*st.Loaded))
		}
		if err := h.store.AddArc(id, kind, target, opts...); err != nil {
			return fail(err)
		}
		ev.Target = string(target)
		ev.Source = kind.String()

	case StepRemoveArc:
		kind, err := graph.ParseArcKind(st.Kind)
		if err != nil {
			return fail(err)
		}
		target, err := value.NewPath(st.Target)
		if err != nil {
			return fail(err)
		}
		if err := h.store.RemoveArc(id, kind, target); err != nil {
			return fail(err)
		}
		ev.Target = string(target)
		ev.Source = kind.String()

	case StepSetPayload:
		target, err := value.NewPath(st.Target)
		if err != nil {
			return fail(err)
		}
		if err := h.store.SetPayloadLoaded(id, target, *st.Loaded); err != nil {
			return fail(err)
		}
		ev.Target = string(target)
		ev.Value = strconv.FormatBool(*st.Loaded)

	case StepSelectVariant:
		if err := h.store.SetVariantSelection(id, st.Set, st.Variant); err != nil {
			return fail(err)
		}
		ev.Value = st.Set + "=" + st.Variant

	case StepSetActive:
		if err := h.store.SetActive(id, *st.Active); err != nil {
			return fail(err)
		}
		ev.Value = strconv.FormatBool(*st.Active)

	case StepRead:
		val, cached, err := h.cache.Get(id, st.Property)
		if err != nil {
			return fail(err)
		}
		ent, _ := h.cache.Lookup(id, st.Property)
		ev.Property = st.Property
		ev.Value = value.Render(val)
		ev.Source = sourceString(ent.Source)
		ev.Cached = &cached

	case StepClassify:
		tier := h.lods.Classify(id, lod.Signals{
			Distance:       st.Distance,
			Importance:     st.Importance,
			BudgetPressure: st.Pressure,
		})
		ev.Tier = tier.String()

	default:
		return fmt.Errorf("step %d: unknown op %q", index, st.Op)
	}

	result.addTrace(ev)
	h.logger.Debug("step completed", "step", index, "op", st.Op, "entity", st.Entity)
	return nil
}

// evaluateCheck resolves the actual state, records it in the trace, and
// accumulates a failure message for every expectation that does not match.
// A resolution failure is itself a check failure, not a run error.
func (h *Harness) evaluateCheck(index int, c *Check, result *Result) {
	id, err := value.NewPath(c.Entity)
	if err != nil {
		result.AddError(fmt.Sprintf("check %d: %v", index, err))
		return
	}

	if c.Property == "" {
		tier := h.lods.Tier(id)
		result.addTrace(TraceEvent{Type: "check", Entity: string(id), Tier: tier.String()})
		if tier.String() != c.Tier {
			result.AddError(fmt.Sprintf("check %d: %s tier = %s, want %s", index, id, tier, c.Tier))
		}
		return
	}

	val, cached, err := h.cache.Get(id, c.Property)
	if err != nil {
		result.AddError(fmt.Sprintf("check %d: %s.%s: %v", index, id, c.Property, err))
		return
	}
	ent, _ := h.cache.Lookup(id, c.Property)
	result.addTrace(TraceEvent{
		Type:     "check",
		Entity:   string(id),
		Property: c.Property,
		Value:    value.Render(val),
		Source:   sourceString(ent.Source),
		Cached:   &cached,
	})

	for _, msg := range h.checkFailures(id, c, val, ent.Source, cached) {
		result.AddError(fmt.Sprintf("check %d: %s.%s: %s", index, id, c.Property, msg))
	}
}

// propertySpec looks up the declared spec for a property on an entity's
// resolved type.
func (h *Harness) propertySpec(id value.Path, property string) (schema.PropertySpec, error) {
	var typeName string
	err := h.store.View(func(v *graph.View) error {
		tn, ok := v.TypeName(id)
		if !ok {
			return fmt.Errorf("entity %s is not defined", id)
		}
		typeName = tn
		return nil
	})
	if err != nil {
		return schema.PropertySpec{}, err
	}
	rt, err := h.registry.ResolveType(typeName)
	if err != nil {
		return schema.PropertySpec{}, err
	}
	spec, ok := rt.Spec(property)
	if !ok {
		return schema.PropertySpec{}, fmt.Errorf("type %q does not declare property %q", typeName, property)
	}
	return spec, nil
}

// sourceString renders provenance the way the CLI does: "default" for a
// schema fallback, otherwise the winning arc kind and authoring entity.
func sourceString(p resolve.Provenance) string {
	if p.Default {
		return "default"
	}
	return fmt.Sprintf("%s %s", p.Arc, p.Author)
}
