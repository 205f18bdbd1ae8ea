package flatten

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/meshula/primstack/internal/value"
)

// Blob encoding for Map and Relation payloads: a kind tag followed by a
// kind-specific body, big-endian, nesting recursively for Map values. The
// tag bytes are the value.Kind numbering and are part of the wire format.
//
// Canonical JSON is not reused here: inside a map an int and a whole-number
// float render to the same JSON text, and a table read must return the
// exact kind the resolver produced.

func appendBlobValue(dst []byte, v value.Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value in blob")
	}
	dst = append(dst, byte(v.Kind()))
	switch val := v.(type) {
	case value.Bool:
		if val {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case value.Int:
		return binary.BigEndian.AppendUint64(dst, uint64(val)), nil
	case value.Float:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(float64(val))), nil
	case value.String:
		return appendBlobString(dst, string(val)), nil
	case value.Token:
		return appendBlobString(dst, string(val)), nil
	case value.Vec3:
		for _, f := range val {
			dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(f))
		}
		return dst, nil
	case value.Map:
		keys := val.SortedKeys()
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(keys)))
		for _, k := range keys {
			dst = appendBlobString(dst, k)
			var err error
			dst, err = appendBlobValue(dst, val[k])
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
		}
		return dst, nil
	case value.Relation:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(val)))
		for _, p := range val {
			dst = appendBlobString(dst, string(p))
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("no blob encoding for %T", v)
	}
}

func appendBlobString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func decodeBlobValue(r *byteReader) (value.Value, error) {
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch value.Kind(tag) {
	case value.KindBool:
		b, err := r.u8()
		if err != nil {
			return nil, err
		}
		return value.Bool(b != 0), nil
	case value.KindInt:
		n, err := r.u64()
		if err != nil {
			return nil, err
		}
		return value.Int(n), nil
	case value.KindFloat:
		n, err := r.u64()
		if err != nil {
			return nil, err
		}
		return value.Float(math.Float64frombits(n)), nil
	case value.KindString:
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		return value.String(s), nil
	case value.KindToken:
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		return value.Token(s), nil
	case value.KindVec3:
		var v value.Vec3
		for i := range v {
			n, err := r.u64()
			if err != nil {
				return nil, err
			}
			v[i] = math.Float64frombits(n)
		}
		return v, nil
	case value.KindMap:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		m := make(value.Map)
		for i := uint32(0); i < count; i++ {
			k, err := r.str()
			if err != nil {
				return nil, err
			}
			v, err := decodeBlobValue(r)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	case value.KindRelation:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		var rel value.Relation
		for i := uint32(0); i < count; i++ {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			rel = append(rel, value.Path(s))
		}
		return rel, nil
	default:
		return nil, fmt.Errorf("unknown blob value tag %d", tag)
	}
}
