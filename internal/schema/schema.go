// Package schema holds the registry of entity types, reusable component
// property blocks, and the merged per-type property views the resolution
// engine consults for declarations and default values.
//
// The registry is populated during scene load and immutable afterward:
// resolved views are frozen at registration time, so the query path reads
// them without synchronization concerns.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/meshula/primstack/internal/value"
)

// PropertySpec declares one property: a namespaced name, a value kind, the
// schema default used when composition finds no opinion, and, for token
// kinds, an optional allowed-value set.
type PropertySpec struct {
	Name          string
	Kind          value.Kind
	Default       value.Value
	AllowedTokens []string
}

// Validate checks the spec in isolation: name shape, default kind agreement,
// token membership, and map shape.
func (s PropertySpec) Validate() error {
	if err := ValidatePropertyName(s.Name); err != nil {
		return err
	}
	if s.Default == nil {
		return fmt.Errorf("property %q: missing default value", s.Name)
	}
	if s.Default.Kind() != s.Kind {
		return fmt.Errorf("property %q: default is %s, declared kind is %s",
			s.Name, s.Default.Kind(), s.Kind)
	}
	if !value.Finite(s.Default) {
		return fmt.Errorf("property %q: non-finite default", s.Name)
	}
	if m, ok := s.Default.(value.Map); ok {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("property %q: %w", s.Name, err)
		}
	}
	if len(s.AllowedTokens) > 0 {
		if s.Kind != value.KindToken {
			return fmt.Errorf("property %q: allowed tokens on non-token kind %s", s.Name, s.Kind)
		}
		if !slices.Contains(s.AllowedTokens, string(s.Default.(value.Token))) {
			return fmt.Errorf("property %q: default %q is not an allowed token", s.Name, s.Default.(value.Token))
		}
	}
	return nil
}

// CheckValue verifies that v is an acceptable opinion for this property:
// matching kind, finite, and within the allowed token set when one is
// declared.
func (s PropertySpec) CheckValue(v value.Value) error {
	if v == nil {
		return fmt.Errorf("property %q: nil value", s.Name)
	}
	if v.Kind() != s.Kind {
		return fmt.Errorf("property %q: value is %s, declared kind is %s", s.Name, v.Kind(), s.Kind)
	}
	if !value.Finite(v) {
		return fmt.Errorf("property %q: non-finite value", s.Name)
	}
	if m, ok := v.(value.Map); ok {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("property %q: %w", s.Name, err)
		}
	}
	if len(s.AllowedTokens) > 0 {
		if !slices.Contains(s.AllowedTokens, string(v.(value.Token))) {
			return fmt.Errorf("property %q: %q is not an allowed token", s.Name, v.(value.Token))
		}
	}
	return nil
}

func (s PropertySpec) equal(other PropertySpec) bool {
	return s.Name == other.Name &&
		s.Kind == other.Kind &&
		value.Equal(s.Default, other.Default) &&
		slices.Equal(s.AllowedTokens, other.AllowedTokens)
}

// ValidatePropertyName checks the namespaced name shape: at least two
// non-empty colon-separated segments, as in "stats:health" or
// "combat:melee:damage".
func ValidatePropertyName(name string) error {
	if name == "" {
		return fmt.Errorf("empty property name")
	}
	segs := strings.Split(name, ":")
	if len(segs) < 2 {
		return fmt.Errorf("property name %q is not namespaced", name)
	}
	for _, seg := range segs {
		if seg == "" {
			return fmt.Errorf("property name %q contains an empty segment", name)
		}
	}
	return nil
}

// Namespace returns the leading segment of a namespaced property name.
func Namespace(name string) string {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Component is a reusable block of property declarations applied to types.
type Component struct {
	Name       string
	Properties []PropertySpec
}

// Type declares an entity type: an optional parent whose structure it
// inherits, applied components, and its own property declarations. Own
// declarations may re-declare an inherited property with the same kind to
// override its default.
type Type struct {
	Name       string
	Parent     string
	Components []string
	Properties []PropertySpec
}
