package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshula/primstack/internal/value"
)

func healthComponent() Component {
	return Component{
		Name: "Stats",
		Properties: []PropertySpec{
			{Name: "stats:health", Kind: value.KindFloat, Default: value.Float(100)},
			{Name: "stats:stamina", Kind: value.KindFloat, Default: value.Float(50)},
		},
	}
}

func combatComponent() Component {
	return Component{
		Name: "Combat",
		Properties: []PropertySpec{
			{Name: "combat:melee:damage", Kind: value.KindFloat, Default: value.Float(10)},
			{Name: "combat:stance", Kind: value.KindToken, Default: value.Token("idle"),
				AllowedTokens: []string{"idle", "aggressive", "fleeing"}},
		},
	}
}

func TestRegisterTypeMergesComponents(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterComponent(healthComponent()))
	require.NoError(t, r.RegisterComponent(combatComponent()))
	require.NoError(t, r.RegisterType(Type{
		Name:       "Creature",
		Components: []string{"Stats", "Combat"},
		Properties: []PropertySpec{
			{Name: "core:visible", Kind: value.KindBool, Default: value.Bool(true)},
		},
	}))

	rt, err := r.ResolveType("Creature")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"combat:melee:damage", "combat:stance", "core:visible",
		"stats:health", "stats:stamina",
	}, rt.PropertyNames())

	def, ok := rt.Default("stats:health")
	require.True(t, ok)
	assert.True(t, value.Equal(value.Float(100), def))
}

func TestRegisterTypeParentChain(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterComponent(healthComponent()))
	require.NoError(t, r.RegisterType(Type{Name: "Entity", Components: []string{"Stats"}}))
	require.NoError(t, r.RegisterType(Type{
		Name:   "Creature",
		Parent: "Entity",
		Properties: []PropertySpec{
			// Default override on an inherited property, same kind.
			{Name: "stats:health", Kind: value.KindFloat, Default: value.Float(250)},
		},
	}))

	rt, err := r.ResolveType("Creature")
	require.NoError(t, err)
	def, _ := rt.Default("stats:health")
	assert.True(t, value.Equal(value.Float(250), def))

	// The parent's view is untouched.
	parent, err := r.ResolveType("Entity")
	require.NoError(t, err)
	def, _ = parent.Default("stats:health")
	assert.True(t, value.Equal(value.Float(100), def))
}

func TestRegisterTypeComponentKindConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterComponent(healthComponent()))
	require.NoError(t, r.RegisterComponent(Component{
		Name: "AltStats",
		Properties: []PropertySpec{
			{Name: "stats:health", Kind: value.KindInt, Default: value.Int(100)},
		},
	}))

	err := r.RegisterType(Type{Name: "Broken", Components: []string{"Stats", "AltStats"}})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "stats:health")

	// The failed registration left nothing behind.
	assert.False(t, r.HasType("Broken"))
}

func TestRegisterTypeIdenticalComponentSpecsMerge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterComponent(healthComponent()))
	require.NoError(t, r.RegisterComponent(Component{
		Name: "StatsMirror",
		Properties: []PropertySpec{
			{Name: "stats:health", Kind: value.KindFloat, Default: value.Float(100)},
		},
	}))

	// Same property, same kind, same default: not a conflict.
	assert.NoError(t, r.RegisterType(Type{Name: "Ok", Components: []string{"Stats", "StatsMirror"}}))
}

func TestRegisterDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterComponent(healthComponent()))

	// Identical re-registration is idempotent.
	assert.NoError(t, r.RegisterComponent(healthComponent()))

	// Different content under the same name is rejected.
	altered := healthComponent()
	altered.Properties[0].Default = value.Float(1)
	err := r.RegisterComponent(altered)
	require.Error(t, err)
	assert.True(t, IsDuplicateType(err))
}

func TestRegisterTypeUnknownReferences(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterType(Type{Name: "Orphan", Parent: "Missing"})
	require.Error(t, err)
	assert.True(t, IsUnknownType(err))

	err = r.RegisterType(Type{Name: "NoComp", Components: []string{"Missing"}})
	require.Error(t, err)
	assert.True(t, IsUnknownType(err))

	_, err = r.ResolveType("NeverRegistered")
	assert.True(t, IsUnknownType(err))
}

func TestPropertySpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    PropertySpec
		wantErr string
	}{
		{"bare name", PropertySpec{Name: "health", Kind: value.KindFloat, Default: value.Float(1)}, "not namespaced"},
		{"missing default", PropertySpec{Name: "stats:health", Kind: value.KindFloat}, "missing default"},
		{"kind mismatch", PropertySpec{Name: "stats:health", Kind: value.KindFloat, Default: value.Int(1)}, "declared kind"},
		{"token outside set", PropertySpec{Name: "ai:mood", Kind: value.KindToken, Default: value.Token("x"),
			AllowedTokens: []string{"calm", "angry"}}, "not an allowed token"},
		{"allowed on non-token", PropertySpec{Name: "stats:health", Kind: value.KindFloat, Default: value.Float(1),
			AllowedTokens: []string{"a"}}, "non-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckValue(t *testing.T) {
	spec := PropertySpec{Name: "combat:stance", Kind: value.KindToken,
		Default: value.Token("idle"), AllowedTokens: []string{"idle", "aggressive"}}

	assert.NoError(t, spec.CheckValue(value.Token("aggressive")))
	assert.Error(t, spec.CheckValue(value.Token("berserk")))
	assert.Error(t, spec.CheckValue(value.String("idle")))
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "combat", Namespace("combat:melee:damage"))
	assert.Equal(t, "stats", Namespace("stats:health"))
}
