package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/value"
)

func TestYamlValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		kind    value.Kind
		want    value.Value
		wantErr string
	}{
		{name: "bool", raw: true, kind: value.KindBool, want: value.Bool(true)},
		{name: "bool_rejects_string", raw: "true", kind: value.KindBool, wantErr: "expected bool, got string"},
		{name: "int", raw: 5, kind: value.KindInt, want: value.Int(5)},
		{name: "int64", raw: int64(7), kind: value.KindInt, want: value.Int(7)},
		{name: "int_rejects_float", raw: 2.5, kind: value.KindInt, wantErr: "expected int, got float64"},
		{name: "float", raw: 2.5, kind: value.KindFloat, want: value.Float(2.5)},
		{name: "float_accepts_int_notation", raw: 15, kind: value.KindFloat, want: value.Float(15)},
		{name: "float_rejects_string", raw: "fast", kind: value.KindFloat, wantErr: "expected number, got string"},
		{name: "string", raw: "orange", kind: value.KindString, want: value.String("orange")},
		{name: "token", raw: "metal", kind: value.KindToken, want: value.Token("metal")},
		{name: "vec3", raw: []interface{}{1, 2.5, 3}, kind: value.KindVec3, want: value.Vec3{1, 2.5, 3}},
		{name: "vec3_wrong_length", raw: []interface{}{1, 2}, kind: value.KindVec3, wantErr: "expected 3-element list"},
		{name: "vec3_bad_component", raw: []interface{}{1, "two", 3}, kind: value.KindVec3, wantErr: "component 1: expected number, got string"},
		{
			name: "map",
			raw:  map[string]interface{}{"hp": 10, "rare": true, "label": "boss"},
			kind: value.KindMap,
			want: value.Map{"hp": value.Int(10), "rare": value.Bool(true), "label": value.String("boss")},
		},
		{
			name: "map_nested",
			raw:  map[string]interface{}{"outer": map[string]interface{}{"inner": 1.5}},
			kind: value.KindMap,
			want: value.Map{"outer": value.Map{"inner": value.Float(1.5)}},
		},
		{
			name:    "map_rejects_list_member",
			raw:     map[string]interface{}{"bad": []interface{}{1}},
			kind:    value.KindMap,
			wantErr: `key "bad": unsupported map member`,
		},
		{
			name: "relation",
			raw:  []interface{}{"/World/A", "/World/B"},
			kind: value.KindRelation,
			want: value.Relation{mustPath(t, "/World/A"), mustPath(t, "/World/B")},
		},
		{name: "relation_bad_path", raw: []interface{}{"not-absolute"}, kind: value.KindRelation, wantErr: "target 0:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := yamlValue(tt.raw, tt.kind)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, value.Equal(tt.want, got), "got %s, want %s", value.Render(got), value.Render(tt.want))
		})
	}
}

func mustPath(t *testing.T, s string) value.Path {
	t.Helper()
	p, err := value.NewPath(s)
	require.NoError(t, err)
	return p
}

func TestCheckFailures(t *testing.T) {
	h, err := newHarness("testdata/scenes/garden")
	require.NoError(t, err)

	carrot := mustPath(t, "/Garden/Carrot")
	localSrc := resolve.Provenance{Arc: graph.ArcLocal, Author: carrot}

	cachedTrue := true
	cachedFalse := false

	tests := []struct {
		name     string
		check    Check
		actual   value.Value
		src      resolve.Provenance
		cached   bool
		wantMsgs []string
	}{
		{
			name:   "all_expectations_met",
			check:  Check{Property: "stats:health", Value: 250, Source: "local", Author: "/Garden/Carrot", Cached: &cachedTrue},
			actual: value.Float(250),
			src:    localSrc,
			cached: true,
		},
		{
			name:     "value_mismatch",
			check:    Check{Property: "stats:health", Value: 100},
			actual:   value.Float(250),
			src:      localSrc,
			cached:   false,
			wantMsgs: []string{"value = 250, want 100"},
		},
		{
			name:     "source_mismatch",
			check:    Check{Property: "stats:health", Source: "specialize"},
			actual:   value.Float(250),
			src:      localSrc,
			cached:   false,
			wantMsgs: []string{"source = local, want specialize"},
		},
		{
			name:     "default_source",
			check:    Check{Property: "stats:health", Source: "local"},
			actual:   value.Float(100),
			src:      resolve.Provenance{Default: true},
			cached:   false,
			wantMsgs: []string{"source = default, want local"},
		},
		{
			name:     "author_mismatch",
			check:    Check{Property: "stats:health", Author: "/Garden/EliteCarrot"},
			actual:   value.Float(250),
			src:      localSrc,
			cached:   false,
			wantMsgs: []string{"author = /Garden/Carrot, want /Garden/EliteCarrot"},
		},
		{
			name:     "cached_mismatch",
			check:    Check{Property: "stats:health", Cached: &cachedFalse},
			actual:   value.Float(250),
			src:      localSrc,
			cached:   true,
			wantMsgs: []string{"cached = true, want false"},
		},
		{
			name:     "multiple_mismatches",
			check:    Check{Property: "stats:health", Value: 100, Source: "specialize", Cached: &cachedFalse},
			actual:   value.Float(250),
			src:      localSrc,
			cached:   true,
			wantMsgs: []string{"value = 250, want 100", "source = local, want specialize", "cached = true, want false"},
		},
		{
			name:     "undeclared_property",
			check:    Check{Property: "stats:mana", Value: 5},
			actual:   value.Float(5),
			src:      localSrc,
			cached:   false,
			wantMsgs: []string{`type "Vegetable" does not declare property "stats:mana"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := h.checkFailures(carrot, &tt.check, tt.actual, tt.src, tt.cached)
			if len(tt.wantMsgs) == 0 {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, len(tt.wantMsgs))
			for i, want := range tt.wantMsgs {
				assert.Contains(t, msgs[i], want)
			}
		})
	}
}
