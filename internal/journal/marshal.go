package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/value"
)

// editDomain is the domain prefix for content-addressed edit IDs.
// Version suffix enables future algorithm migration.
const editDomain = "primstack/edit/v1"

// editID computes the content-addressed ID for an edit.
// Format: SHA256(domain + 0x00 + prevID + 0x00 + canonical edit document)
// The null byte separators prevent boundary ambiguity. Chaining on the
// previous ID keeps IDs free of database sequence numbers while still
// distinguishing repeated identical mutations.
func editID(prevID string, e graph.Edit, params value.Map) (string, error) {
	doc := value.Map{
		"op":     value.String(string(e.Op)),
		"entity": value.String(string(e.Entity)),
		"params": params,
	}
	canonical, err := value.Canonical(doc)
	if err != nil {
		return "", fmt.Errorf("edit id: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(editDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(prevID))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// editParams builds the canonical parameter document for an edit. Op and
// entity live in their own columns; the payload column stores only the
// per-op arguments.
func editParams(e graph.Edit) (value.Map, error) {
	switch e.Op {
	case graph.EditDefine:
		return value.Map{"type": value.String(e.Type)}, nil
	case graph.EditRemove:
		return value.Map{}, nil
	case graph.EditSetActive:
		return value.Map{"active": value.Bool(e.Active)}, nil
	case graph.EditAddArc:
		return value.Map{
			"kind":   value.String(e.Kind.String()),
			"target": value.String(string(e.Target)),
			"loaded": value.Bool(e.Loaded),
		}, nil
	case graph.EditRemoveArc:
		return value.Map{
			"kind":   value.String(e.Kind.String()),
			"target": value.String(string(e.Target)),
		}, nil
	case graph.EditSetPayloadLoaded:
		return value.Map{
			"target": value.String(string(e.Target)),
			"loaded": value.Bool(e.Loaded),
		}, nil
	case graph.EditSetLocal:
		if e.Opinion == nil {
			return nil, fmt.Errorf("set_local edit carries no opinion")
		}
		return value.Map{
			"property": value.String(e.Property),
			"opinion":  opinionDoc(*e.Opinion),
		}, nil
	case graph.EditClearLocal:
		return value.Map{"property": value.String(e.Property)}, nil
	case graph.EditAppendBlock:
		return value.Map{"opinions": opinionsDoc(e.Opinions)}, nil
	case graph.EditDefineVariantSet:
		variants := make(value.Map, len(e.Variants))
		for name, block := range e.Variants {
			variants[name] = opinionsDoc(block)
		}
		return value.Map{
			"set":       value.String(e.Set),
			"selection": value.String(e.Variant),
			"variants":  variants,
		}, nil
	case graph.EditSetVariantSelection:
		return value.Map{
			"set":     value.String(e.Set),
			"variant": value.String(e.Variant),
		}, nil
	default:
		return nil, fmt.Errorf("unknown edit op %q", e.Op)
	}
}

func opinionsDoc(block map[string]graph.Opinion) value.Map {
	doc := make(value.Map, len(block))
	for prop, op := range block {
		doc[prop] = opinionDoc(op)
	}
	return doc
}

// opinionDoc encodes an opinion as a kind-tagged document. Plain values use
// valueDoc; relation list edits get the distinct kind "edit" with their
// three target lists inline.
func opinionDoc(o graph.Opinion) value.Value {
	if o.IsEdit {
		return value.Map{
			"kind":    value.String("edit"),
			"prepend": value.Relation(o.Edit.Prepend),
			"append":  value.Relation(o.Edit.Append),
			"delete":  value.Relation(o.Edit.Delete),
		}
	}
	return valueDoc(o.Value)
}

// valueDoc wraps a value with its kind name, recursively for maps. Canonical
// JSON alone cannot carry kinds: Int(1) and Float(1) render identically, as
// do String and Token. The tag is what makes decode exact.
func valueDoc(v value.Value) value.Value {
	if v == nil {
		// The canonical encoder rejects the embedded nil.
		return value.Map{"kind": value.String("invalid"), "value": nil}
	}
	if m, ok := v.(value.Map); ok {
		inner := make(value.Map, len(m))
		for k, mv := range m {
			inner[k] = valueDoc(mv)
		}
		return value.Map{"kind": value.String("map"), "value": inner}
	}
	return value.Map{"kind": value.String(v.Kind().String()), "value": v}
}

// decodeEdit reconstructs an edit from its journal row.
func decodeEdit(opStr, entityStr, payload string) (graph.Edit, error) {
	entity, err := value.NewPath(entityStr)
	if err != nil {
		return graph.Edit{}, fmt.Errorf("edit entity: %w", err)
	}
	e := graph.Edit{Op: graph.EditOp(opStr), Entity: entity}

	// json.Number keeps large integers exact; float64 would round past 2^53.
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return graph.Edit{}, fmt.Errorf("edit payload: %w", err)
	}

	switch e.Op {
	case graph.EditDefine:
		e.Type, err = docString(params, "type")
	case graph.EditRemove:
		// No parameters.
	case graph.EditSetActive:
		e.Active, err = docBool(params, "active")
	case graph.EditAddArc:
		if e.Kind, e.Target, err = docArc(params); err == nil {
			e.Loaded, err = docBool(params, "loaded")
		}
	case graph.EditRemoveArc:
		e.Kind, e.Target, err = docArc(params)
	case graph.EditSetPayloadLoaded:
		if e.Target, err = docPath(params, "target"); err == nil {
			e.Loaded, err = docBool(params, "loaded")
		}
	case graph.EditSetLocal:
		if e.Property, err = docString(params, "property"); err == nil {
			var op graph.Opinion
			if op, err = decodeOpinion(params["opinion"]); err == nil {
				e.Opinion = &op
			}
		}
	case graph.EditClearLocal:
		e.Property, err = docString(params, "property")
	case graph.EditAppendBlock:
		e.Opinions, err = decodeOpinions(params["opinions"])
	case graph.EditDefineVariantSet:
		if e.Set, err = docString(params, "set"); err != nil {
			break
		}
		if e.Variant, err = docString(params, "selection"); err != nil {
			break
		}
		e.Variants, err = decodeVariants(params["variants"])
	case graph.EditSetVariantSelection:
		if e.Set, err = docString(params, "set"); err == nil {
			e.Variant, err = docString(params, "variant")
		}
	default:
		err = fmt.Errorf("unknown edit op %q", opStr)
	}
	if err != nil {
		return graph.Edit{}, fmt.Errorf("decode %s edit: %w", opStr, err)
	}
	return e, nil
}

func decodeVariants(raw any) (map[string]map[string]graph.Opinion, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("variants is not an object")
	}
	out := make(map[string]map[string]graph.Opinion, len(obj))
	for name, block := range obj {
		decoded, err := decodeOpinions(block)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", name, err)
		}
		out[name] = decoded
	}
	return out, nil
}

func decodeOpinions(raw any) (map[string]graph.Opinion, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("opinions is not an object")
	}
	out := make(map[string]graph.Opinion, len(obj))
	for prop, doc := range obj {
		op, err := decodeOpinion(doc)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", prop, err)
		}
		out[prop] = op
	}
	return out, nil
}

func decodeOpinion(raw any) (graph.Opinion, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return graph.Opinion{}, fmt.Errorf("opinion is not an object")
	}
	kind, err := docString(obj, "kind")
	if err != nil {
		return graph.Opinion{}, err
	}
	if kind != "edit" {
		v, err := decodeValueDoc(raw)
		if err != nil {
			return graph.Opinion{}, err
		}
		return graph.ValueOpinion(v), nil
	}

	var edit value.RelationEdit
	if edit.Prepend, err = docPaths(obj, "prepend"); err != nil {
		return graph.Opinion{}, err
	}
	if edit.Append, err = docPaths(obj, "append"); err != nil {
		return graph.Opinion{}, err
	}
	if edit.Delete, err = docPaths(obj, "delete"); err != nil {
		return graph.Opinion{}, err
	}
	return graph.EditOpinion(edit), nil
}

func decodeValueDoc(raw any) (value.Value, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value doc is not an object")
	}
	kindStr, err := docString(obj, "kind")
	if err != nil {
		return nil, err
	}
	kind, err := value.ParseKind(kindStr)
	if err != nil {
		return nil, err
	}
	body, ok := obj["value"]
	if !ok {
		return nil, fmt.Errorf("%s doc has no value", kind)
	}

	switch kind {
	case value.KindBool:
		b, ok := body.(bool)
		if !ok {
			return nil, fmt.Errorf("bool doc holds %T", body)
		}
		return value.Bool(b), nil
	case value.KindInt:
		num, ok := body.(json.Number)
		if !ok {
			return nil, fmt.Errorf("int doc holds %T", body)
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int doc: %w", err)
		}
		return value.Int(n), nil
	case value.KindFloat:
		num, ok := body.(json.Number)
		if !ok {
			return nil, fmt.Errorf("float doc holds %T", body)
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("float doc: %w", err)
		}
		return value.Float(f), nil
	case value.KindString:
		s, ok := body.(string)
		if !ok {
			return nil, fmt.Errorf("string doc holds %T", body)
		}
		return value.String(s), nil
	case value.KindToken:
		s, ok := body.(string)
		if !ok {
			return nil, fmt.Errorf("token doc holds %T", body)
		}
		return value.Token(s), nil
	case value.KindVec3:
		arr, ok := body.([]any)
		if !ok || len(arr) != 3 {
			return nil, fmt.Errorf("vec3 doc is not a 3-element array")
		}
		var v value.Vec3
		for i, el := range arr {
			num, ok := el.(json.Number)
			if !ok {
				return nil, fmt.Errorf("vec3 doc element %d holds %T", i, el)
			}
			f, err := num.Float64()
			if err != nil {
				return nil, fmt.Errorf("vec3 doc element %d: %w", i, err)
			}
			v[i] = f
		}
		return v, nil
	case value.KindMap:
		inner, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("map doc holds %T", body)
		}
		m := make(value.Map, len(inner))
		for k, el := range inner {
			mv, err := decodeValueDoc(el)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			m[k] = mv
		}
		return m, nil
	case value.KindRelation:
		arr, ok := body.([]any)
		if !ok {
			return nil, fmt.Errorf("relation doc holds %T", body)
		}
		rel := make(value.Relation, 0, len(arr))
		for i, el := range arr {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("relation doc target %d holds %T", i, el)
			}
			p, err := value.NewPath(s)
			if err != nil {
				return nil, fmt.Errorf("relation doc target %d: %w", i, err)
			}
			rel = append(rel, p)
		}
		return rel, nil
	default:
		return nil, fmt.Errorf("value doc has unsupported kind %s", kind)
	}
}

func docArc(params map[string]any) (graph.ArcKind, value.Path, error) {
	kindStr, err := docString(params, "kind")
	if err != nil {
		return 0, "", err
	}
	kind, err := graph.ParseArcKind(kindStr)
	if err != nil {
		return 0, "", err
	}
	target, err := docPath(params, "target")
	if err != nil {
		return 0, "", err
	}
	return kind, target, nil
}

func docPath(params map[string]any, key string) (value.Path, error) {
	s, err := docString(params, key)
	if err != nil {
		return "", err
	}
	p, err := value.NewPath(s)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return p, nil
}

func docPaths(params map[string]any, key string) ([]value.Path, error) {
	raw, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", key)
	}
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]value.Path, 0, len(arr))
	for i, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, fmt.Errorf("field %q target %d holds %T", key, i, el)
		}
		p, err := value.NewPath(s)
		if err != nil {
			return nil, fmt.Errorf("field %q target %d: %w", key, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func docString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q holds %T", key, raw)
	}
	return s, nil
}

func docBool(params map[string]any, key string) (bool, error) {
	raw, ok := params[key]
	if !ok {
		return false, fmt.Errorf("missing field %q", key)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("field %q holds %T", key, raw)
	}
	return b, nil
}
