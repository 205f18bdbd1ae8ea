package harness

import (
	"fmt"

	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/value"
)

// checkFailures compares the resolved state against one check's
// expectations and returns a message per mismatch. The expected value is
// decoded against the property's declared kind, so a scenario writes `5`
// for a float property and `[1, 2, 3]` for a vec3.
func (h *Harness) checkFailures(id value.Path, c *Check, actual value.Value, src resolve.Provenance, cached bool) []string {
	var msgs []string

	if c.Value != nil {
		spec, err := h.propertySpec(id, c.Property)
		if err != nil {
			return append(msgs, err.Error())
		}
		expected, err := yamlValue(c.Value, spec.Kind)
		if err != nil {
			return append(msgs, err.Error())
		}
		if !value.Equal(actual, expected) {
			msgs = append(msgs, fmt.Sprintf("value = %s, want %s", value.Render(actual), value.Render(expected)))
		}
	}

	if c.Source != "" {
		got := "default"
		if !src.Default {
			got = src.Arc.String()
		}
		if got != c.Source {
			msgs = append(msgs, fmt.Sprintf("source = %s, want %s", got, c.Source))
		}
	}

	if c.Author != "" {
		want, err := value.NewPath(c.Author)
		if err != nil {
			msgs = append(msgs, err.Error())
		} else if src.Author != want {
			msgs = append(msgs, fmt.Sprintf("author = %s, want %s", src.Author, want))
		}
	}

	if c.Cached != nil && cached != *c.Cached {
		msgs = append(msgs, fmt.Sprintf("cached = %t, want %t", cached, *c.Cached))
	}

	return msgs
}

// yamlValue converts a YAML-parsed value to a property value of the given
// kind. YAML parses integers as int, so float properties accept both
// notations.
func yamlValue(raw interface{}, kind value.Kind) (value.Value, error) {
	switch kind {
	case value.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return value.Bool(b), nil

	case value.KindInt:
		switch v := raw.(type) {
		case int:
			return value.Int(v), nil
		case int64:
			return value.Int(v), nil
		default:
			return nil, fmt.Errorf("expected int, got %T", raw)
		}

	case value.KindFloat:
		f, ok := yamlNumber(raw)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return value.Float(f), nil

	case value.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return value.String(s), nil

	case value.KindToken:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected token string, got %T", raw)
		}
		return value.Token(s), nil

	case value.KindVec3:
		list, ok := raw.([]interface{})
		if !ok || len(list) != 3 {
			return nil, fmt.Errorf("expected 3-element list, got %T", raw)
		}
		var vec value.Vec3
		for i, elem := range list {
			f, ok := yamlNumber(elem)
			if !ok {
				return nil, fmt.Errorf("component %d: expected number, got %T", i, elem)
			}
			vec[i] = f
		}
		return vec, nil

	case value.KindMap:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", raw)
		}
		return yamlMap(m)

	case value.KindRelation:
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected path list, got %T", raw)
		}
		rel := make(value.Relation, len(list))
		for i, elem := range list {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("target %d: expected path string, got %T", i, elem)
			}
			p, err := value.NewPath(s)
			if err != nil {
				return nil, fmt.Errorf("target %d: %w", i, err)
			}
			rel[i] = p
		}
		return rel, nil

	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

// yamlMap converts a YAML mapping to a map value, inferring member kinds
// from the parsed types. Members follow the map-value shape restriction:
// bool, int, float, string, and nested maps.
func yamlMap(raw map[string]interface{}) (value.Map, error) {
	m := make(value.Map, len(raw))
	for k, elem := range raw {
		switch v := elem.(type) {
		case bool:
			m[k] = value.Bool(v)
		case int:
			m[k] = value.Int(v)
		case int64:
			m[k] = value.Int(v)
		case float64:
			m[k] = value.Float(v)
		case string:
			m[k] = value.String(v)
		case map[string]interface{}:
			inner, err := yamlMap(v)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = inner
		default:
			return nil, fmt.Errorf("key %q: unsupported map member %T", k, elem)
		}
	}
	return m, nil
}

// yamlNumber accepts the numeric types the YAML parser produces.
func yamlNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
