package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// decodeOpinion converts one authored property entry into an opinion. For
// relation properties a struct entry is read as a list edit with prepend,
// append, and delete clauses; every other shape must match the declared
// kind.
func decodeOpinion(v cue.Value, spec schema.PropertySpec) (graph.Opinion, error) {
	if spec.Kind == value.KindRelation && v.IncompleteKind() == cue.StructKind {
		edit, err := decodeRelationEdit(v)
		if err != nil {
			return graph.Opinion{}, err
		}
		return graph.EditOpinion(edit), nil
	}
	val, err := decodeValue(v, spec.Kind)
	if err != nil {
		return graph.Opinion{}, err
	}
	return graph.ValueOpinion(val), nil
}

func decodeRelationEdit(v cue.Value) (value.RelationEdit, error) {
	iter, err := v.Fields()
	if err != nil {
		return value.RelationEdit{}, formatCUEError(err)
	}
	for iter.Next() {
		switch fieldLabel(iter) {
		case "prepend", "append", "delete":
		default:
			return value.RelationEdit{}, fmt.Errorf("unknown relation edit clause %q", fieldLabel(iter))
		}
	}

	var edit value.RelationEdit
	clauses := []struct {
		name string
		dst  *[]value.Path
	}{
		{"prepend", &edit.Prepend},
		{"append", &edit.Append},
		{"delete", &edit.Delete},
	}
	for _, c := range clauses {
		cv := v.LookupPath(cue.ParsePath(c.name))
		if !cv.Exists() {
			continue
		}
		paths, err := decodePaths(cv)
		if err != nil {
			return value.RelationEdit{}, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = paths
	}
	if edit.IsZero() {
		return value.RelationEdit{}, fmt.Errorf("relation edit needs at least one of prepend, append, delete")
	}
	return edit, nil
}

// decodeValue reads a concrete CUE value as the declared kind.
func decodeValue(v cue.Value, kind value.Kind) (value.Value, error) {
	switch kind {
	case value.KindBool:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Bool(b), nil
	case value.KindInt:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Int(i), nil
	case value.KindFloat:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Float(f), nil
	case value.KindString:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.String(s), nil
	case value.KindToken:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Token(s), nil
	case value.KindVec3:
		return decodeVec3(v)
	case value.KindMap:
		return decodeMap(v)
	case value.KindRelation:
		paths, err := decodePaths(v)
		if err != nil {
			return nil, err
		}
		return value.Relation(paths), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

func decodeVec3(v cue.Value) (value.Value, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out value.Vec3
	n := 0
	for list.Next() {
		if n < 3 {
			f, err := list.Value().Float64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			out[n] = f
		}
		n++
	}
	if n != 3 {
		return nil, fmt.Errorf("vec3 needs exactly 3 components, got %d", n)
	}
	return out, nil
}

func decodeMap(v cue.Value) (value.Value, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m := make(value.Map)
	for iter.Next() {
		mv, err := decodeMapMember(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", fieldLabel(iter), err)
		}
		m[fieldLabel(iter)] = mv
	}
	return m, nil
}

// decodeMapMember infers a map member's kind from the concrete CUE value.
// Map members are bool, int, float, string, or nested map; token, vec3, and
// relation never nest inside maps.
func decodeMapMember(v cue.Value) (value.Value, error) {
	switch v.Kind() {
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Int(i), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.String(s), nil
	case cue.StructKind:
		return decodeMap(v)
	default:
		return nil, fmt.Errorf("map members must be bool, int, float, string, or map, got %v", v.Kind())
	}
}

func decodePaths(v cue.Value) ([]value.Path, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []value.Path
	for i := 0; list.Next(); i++ {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p, err := value.NewPath(s)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// zeroValue is the schema default used when a property declaration omits
// one.
func zeroValue(kind value.Kind) value.Value {
	switch kind {
	case value.KindBool:
		return value.Bool(false)
	case value.KindInt:
		return value.Int(0)
	case value.KindFloat:
		return value.Float(0)
	case value.KindString:
		return value.String("")
	case value.KindToken:
		return value.Token("")
	case value.KindVec3:
		return value.Vec3{}
	case value.KindMap:
		return value.Map{}
	case value.KindRelation:
		return value.Relation{}
	default:
		return nil
	}
}
