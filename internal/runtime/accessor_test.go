package runtime

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshula/primstack/internal/cache"
	"github.com/meshula/primstack/internal/flatten"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

type world struct {
	store     *graph.Store
	cache     *cache.Cache
	lods      *lod.Manager
	flattener *flatten.Flattener
}

func buildWorld(t *testing.T, lodCfg *lod.Config) *world {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.RegisterComponent(schema.Component{
		Name: "Core",
		Properties: []schema.PropertySpec{
			{Name: "core:name", Kind: value.KindString, Default: value.String("unnamed")},
			{Name: "core:visible", Kind: value.KindBool, Default: value.Bool(true)},
		},
	}))
	require.NoError(t, r.RegisterComponent(schema.Component{
		Name: "Stats",
		Properties: []schema.PropertySpec{
			{Name: "stats:health", Kind: value.KindFloat, Default: value.Float(100)},
			{Name: "stats:level", Kind: value.KindInt, Default: value.Int(1)},
		},
	}))
	require.NoError(t, r.RegisterType(schema.Type{Name: "Creature", Components: []string{"Core", "Stats"}}))

	s := graph.NewStore(r)
	require.NoError(t, s.Define("/Proto/Base", "Creature"))
	require.NoError(t, s.SetLocalValue("/Proto/Base", "stats:level", graph.ValueOpinion(value.Int(7))))
	require.NoError(t, s.Define("/World/Hero", "Creature"))
	require.NoError(t, s.AddArc("/World/Hero", graph.ArcReference, "/Proto/Base"))
	require.NoError(t, s.SetLocalValue("/World/Hero", "stats:health", graph.ValueOpinion(value.Float(250))))

	eng := resolve.New(s, r)
	c, err := cache.New(eng, s)
	require.NoError(t, err)

	cfg := lod.Config{Thresholds: [3]float64{10, 20, 30}}
	if lodCfg != nil {
		cfg = *lodCfg
	}
	lods, err := lod.NewManager(cfg)
	require.NoError(t, err)

	return &world{
		store:     s,
		cache:     c,
		lods:      lods,
		flattener: flatten.NewFlattener(s, r, eng, lods),
	}
}

func (w *world) bakeNear(t *testing.T) *flatten.Table {
	t.Helper()
	table, err := w.flattener.Flatten(w.store.Paths(), lod.TierNear)
	require.NoError(t, err)
	return table
}

func TestReadServesFromFreshTable(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)
	a.Publish(lod.TierNear, w.bakeNear(t))

	v, err := a.Read("/World/Hero", "stats:health")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Float(250), v))

	// The table answered; the cache was never consulted.
	assert.Equal(t, uint64(0), w.cache.Stats().Misses)
	assert.Equal(t, uint64(0), w.cache.Stats().Hits)
}

func TestReadWithoutTableFallsToCache(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)

	v, err := a.Read("/World/Hero", "stats:level")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(7), v))
	assert.Equal(t, uint64(1), w.cache.Stats().Misses)

	v, err = a.Read("/World/Hero", "stats:level")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(7), v))
	assert.Equal(t, uint64(1), w.cache.Stats().Hits)
}

func TestTierDisabledIsControlFlow(t *testing.T) {
	coreOnly, err := lod.NewPropertyFilter("core:*")
	require.NoError(t, err)
	w := buildWorld(t, &lod.Config{
		Thresholds: [3]float64{10, 20, 30},
		Tiers: map[lod.Tier]lod.PropertyFilter{
			lod.TierNear: lod.MatchAll(),
			lod.TierMid:  coreOnly,
		},
	})
	a := New(w.store, w.cache, w.lods)

	w.lods.Classify("/World/Hero", lod.Signals{Distance: 15})
	require.Equal(t, lod.TierMid, w.lods.Tier("/World/Hero"))

	_, err = a.Read("/World/Hero", "stats:health")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTierDisabled))

	// The skip never reached resolution.
	assert.Equal(t, uint64(0), w.cache.Stats().Misses)

	v, err := a.Read("/World/Hero", "core:name")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("unnamed"), v))
}

func TestEditStalesTableAndReadStaysCorrect(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)
	a.Publish(lod.TierNear, w.bakeNear(t))

	_, ok := a.Table(lod.TierNear)
	require.True(t, ok)

	// Editing the prototype invalidates the hero's baked level.
	require.NoError(t, w.store.SetLocalValue("/Proto/Base", "stats:level", graph.ValueOpinion(value.Int(9))))

	v, err := a.Read("/World/Hero", "stats:level")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(9), v))

	_, ok = a.Table(lod.TierNear)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), w.cache.Stats().Misses)
}

func TestRepublishRestoresTablePath(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)
	a.Publish(lod.TierNear, w.bakeNear(t))

	require.NoError(t, w.store.SetLocalValue("/World/Hero", "stats:health", graph.ValueOpinion(value.Float(60))))
	a.Publish(lod.TierNear, w.bakeNear(t))

	v, err := a.Read("/World/Hero", "stats:health")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Float(60), v))
	assert.Equal(t, uint64(0), w.cache.Stats().Misses)
}

func TestCoverageGapWarnsThrottled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// Start well past zero so the first warn clears the throttle state.
	now := time.Unix(100, 0)
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods,
		WithLogger(logger),
		WithNow(func() time.Time { return now }))

	// Two cold reads inside one throttle window warn once.
	_, err := a.Read("/World/Hero", "stats:health")
	require.NoError(t, err)
	_, err = a.Read("/World/Hero", "stats:level")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "coverage gap"))

	now = now.Add(DefaultWarnInterval + time.Second)
	_, err = a.Read("/World/Hero", "core:name")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "coverage gap"))
}

func TestSourceExposesProvenance(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)

	_, ok := a.Source("/World/Hero", "stats:level")
	require.False(t, ok)

	_, err := a.Read("/World/Hero", "stats:level")
	require.NoError(t, err)

	var src resolve.Provenance
	src, ok = a.Source("/World/Hero", "stats:level")
	require.True(t, ok)
	assert.Equal(t, graph.ArcReference, src.Arc)
	assert.Equal(t, value.MustPath("/Proto/Base"), src.Author)
	assert.False(t, src.Default)
}

func TestReadUnknownEntityFails(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)

	_, err := a.Read("/World/Ghost", "stats:health")
	require.Error(t, err)
	assert.True(t, graph.IsUnknownEntity(err))
}

func TestPerTierTableSelection(t *testing.T) {
	w := buildWorld(t, nil)
	a := New(w.store, w.cache, w.lods)

	nearTable := w.bakeNear(t)
	midTable, err := w.flattener.Flatten(w.store.Paths(), lod.TierMid)
	require.NoError(t, err)
	a.Publish(lod.TierNear, nearTable)
	a.Publish(lod.TierMid, midTable)

	// The hero walks out to mid; reads come from the mid table.
	w.lods.Classify("/World/Hero", lod.Signals{Distance: 15})
	require.Equal(t, lod.TierMid, w.lods.Tier("/World/Hero"))

	v, err := a.Read("/World/Hero", "stats:health")
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Float(250), v))
	assert.Equal(t, uint64(0), w.cache.Stats().Misses)

	got, ok := a.Table(lod.TierMid)
	require.True(t, ok)
	assert.Same(t, midTable, got)
}
