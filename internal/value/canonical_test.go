package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalScalars(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"bool", Bool(true), "true"},
		{"int", Int(-7), "-7"},
		{"float", Float(1.5), "1.5"},
		{"float negative zero", Float(math.Copysign(0, -1)), "0"},
		{"string", String("carrot"), `"carrot"`},
		{"token", Token("near"), `"near"`},
		{"vec3", Vec3{1, 2.5, -3}, "[1,2.5,-3]"},
		{"relation", Relation{"/World/A", "/World/B"}, `["/World/A","/World/B"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalMapKeyOrder(t *testing.T) {
	// UTF-16 code unit order puts uppercase before lowercase.
	m := Map{"b": Int(2), "A": Int(1), "a": Int(3)}
	got, err := Canonical(m)
	require.NoError(t, err)
	assert.Equal(t, `{"A":1,"a":3,"b":2}`, string(got))
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	got, err := Canonical(String("<a>&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(got))
}

func TestCanonicalNFCNormalization(t *testing.T) {
	// e + combining acute composes to the single code point form.
	decomposed := String("Carroté")
	composed := String("Carroté")

	a, err := Canonical(decomposed)
	require.NoError(t, err)
	b, err := Canonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestCanonicalLineSeparatorsLiteral(t *testing.T) {
	got, err := Canonical(String("a b c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(got))

	// A literal backslash followed by the text u2028 stays escaped.
	got, err = Canonical(String(`a b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestCanonicalRejectsNonFinite(t *testing.T) {
	_, err := Canonical(Float(math.NaN()))
	assert.Error(t, err)

	_, err = Canonical(Vec3{1, math.Inf(1), 3})
	assert.Error(t, err)
}

func TestCanonicalDeterministic(t *testing.T) {
	m := Map{
		"zeta":  Float(0.25),
		"alpha": Map{"inner": Int(9)},
		"mid":   String("x"),
	}
	first, err := Canonical(m)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		again, err := Canonical(m)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestCompareUTF16SurrogateOrder(t *testing.T) {
	// U+FF61 is a single BMP unit; U+10000 encodes as a surrogate pair
	// starting at 0xD800, so UTF-16 order differs from UTF-8 byte order.
	high := "｡"
	supp := string(rune(0x10000))

	assert.Equal(t, 1, compareUTF16(high, supp))
	assert.Equal(t, -1, compareUTF16(supp, high))
	assert.Equal(t, 0, compareUTF16("same", "same"))
}
