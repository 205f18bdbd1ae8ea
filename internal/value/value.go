package value

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the concrete type of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindToken
	KindVec3
	KindMap
	KindRelation
)

// String returns the lower-case kind name used in authoring documents.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindToken:
		return "token"
	case KindVec3:
		return "vec3"
	case KindMap:
		return "map"
	case KindRelation:
		return "relation"
	default:
		return "invalid"
	}
}

// ParseKind maps an authoring-document kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "token":
		return KindToken, nil
	case "vec3":
		return KindVec3, nil
	case "map":
		return KindMap, nil
	case "relation":
		return KindRelation, nil
	default:
		return KindInvalid, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is a sealed interface over the property value types.
// Only Bool, Int, Float, String, Token, Vec3, Map, and Relation implement it.
type Value interface {
	Kind() Kind
	sealed()
}

// Bool is a boolean property value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) sealed()    {}

// Int is a signed integer property value. Always int64.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) sealed()    {}

// Float is a scalar numeric property value. Equality is by bit pattern so
// composed results compare deterministically even for NaN payloads.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) sealed()    {}

// String is a free-form string property value. NFC normalization happens at
// the canonical encoding boundary, not at construction.
type String string

func (String) Kind() Kind { return KindString }
func (String) sealed()    {}

// Token is a string drawn from a schema-declared allowed set.
type Token string

func (Token) Kind() Kind { return KindToken }
func (Token) sealed()    {}

// Vec3 is a three-component vector property value.
type Vec3 [3]float64

func (Vec3) Kind() Kind { return KindVec3 }
func (Vec3) sealed()    {}

// Map is a nested string-keyed mapping. Map values are restricted to Bool,
// Int, Float, String, and Map; Validate enforces this at mutation boundaries
// so the canonical encoding stays injective.
type Map map[string]Value

func (Map) Kind() Kind { return KindMap }
func (Map) sealed()    {}

// Relation is an ordered list of entity path targets, the resolved form of a
// relationship property.
type Relation []Path

func (Relation) Kind() Kind { return KindRelation }
func (Relation) sealed()    {}

// SortedKeys returns map keys in canonical (UTF-16 code unit) order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Validate checks the map-value shape restriction recursively.
func (m Map) Validate() error {
	for k, v := range m {
		switch inner := v.(type) {
		case Bool, Int, Float, String:
		case Map:
			if err := inner.Validate(); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		case nil:
			return fmt.Errorf("key %q: nil value", k)
		default:
			return fmt.Errorf("key %q: %s values cannot nest inside maps", k, v.Kind())
		}
	}
	return nil
}

// Equal reports deep equality between two values. Values of different kinds
// are never equal. Floats compare by bit pattern.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Float:
		return math.Float64bits(float64(av)) == math.Float64bits(float64(b.(Float)))
	case String:
		return av == b.(String)
	case Token:
		return av == b.(Token)
	case Vec3:
		bv := b.(Vec3)
		for i := range av {
			if math.Float64bits(av[i]) != math.Float64bits(bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	case Relation:
		bv := b.(Relation)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Finite reports whether every float component of v is finite. Mutation
// boundaries reject non-finite values so journal payloads stay encodable.
func Finite(v Value) bool {
	switch val := v.(type) {
	case Float:
		f := float64(val)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case Vec3:
		for _, f := range val {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
		return true
	case Map:
		for _, inner := range val {
			if !Finite(inner) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Render returns a human-readable form for logs and CLI output.
func Render(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case Bool:
		return strconv.FormatBool(bool(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return formatFloat(float64(val))
	case String:
		return strconv.Quote(string(val))
	case Token:
		return string(val)
	case Vec3:
		return "(" + formatFloat(val[0]) + ", " + formatFloat(val[1]) + ", " + formatFloat(val[2]) + ")"
	case Map:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(Render(val[k]))
		}
		sb.WriteByte('}')
		return sb.String()
	case Relation:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, p := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(string(p))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// formatFloat produces the shortest round-trip decimal form, shared by
// Render and the canonical encoder so the two never disagree.
func formatFloat(f float64) string {
	if f == 0 {
		// Negative zero renders as plain zero.
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
