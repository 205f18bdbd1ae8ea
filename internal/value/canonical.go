package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// AppendCanonical appends the canonical JSON encoding of v to dst.
// Canonical bytes are the only serialization used for content-addressed
// identity (journal edit IDs) and for blob-pooled values in binary tables.
//
// Properties of the encoding:
//  1. Map keys sorted by UTF-16 code units, not UTF-8 bytes
//  2. No HTML escaping (< > & are never escaped)
//  3. Strings and paths NFC normalized
//  4. Floats in shortest round-trip form, negative zero as 0
//  5. Non-finite floats rejected (JSON cannot carry them)
func AppendCanonical(dst []byte, v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil value has no canonical form")
	case Bool:
		if val {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case Int:
		return fmt.Appendf(dst, "%d", int64(val)), nil
	case Float:
		return appendCanonicalFloat(dst, float64(val))
	case String:
		return AppendCanonicalString(dst, string(val))
	case Token:
		return AppendCanonicalString(dst, string(val))
	case Vec3:
		dst = append(dst, '[')
		for i, f := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = appendCanonicalFloat(dst, f)
			if err != nil {
				return nil, fmt.Errorf("vec3[%d]: %w", i, err)
			}
		}
		return append(dst, ']'), nil
	case Map:
		return appendCanonicalMap(dst, val)
	case Relation:
		dst = append(dst, '[')
		for i, p := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = AppendCanonicalString(dst, string(p))
			if err != nil {
				return nil, fmt.Errorf("relation[%d]: %w", i, err)
			}
		}
		return append(dst, ']'), nil
	default:
		return nil, fmt.Errorf("no canonical form for %T", v)
	}
}

// Canonical returns the canonical JSON encoding of v.
func Canonical(v Value) ([]byte, error) {
	return AppendCanonical(nil, v)
}

func appendCanonicalFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v has no canonical form", f)
	}
	return append(dst, formatFloat(f)...), nil
}

func appendCanonicalMap(dst []byte, m Map) ([]byte, error) {
	dst = append(dst, '{')
	for i, k := range m.SortedKeys() {
		if i > 0 {
			dst = append(dst, ',')
		}
		var err error
		dst, err = AppendCanonicalString(dst, k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		dst = append(dst, ':')
		dst, err = AppendCanonical(dst, m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	return append(dst, '}'), nil
}

// AppendCanonicalString appends the canonical JSON string encoding of s:
// NFC normalized, no HTML escaping, and U+2028/U+2029 left literal.
// Exported so the journal can compose canonical payload objects around
// embedded values without a generic walker.
func AppendCanonicalString(dst []byte, s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder appends a trailing newline.
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}

	// The encoder escapes U+2028 and U+2029 for JavaScript embedding; the
	// canonical form keeps them literal. A \u202x sequence preceded by an
	// even run of backslashes is an encoder escape; an odd run means a
	// literal backslash in the source text, which must stay escaped.
	out = unescapeLineSeparators(out)

	return append(dst, out...), nil
}

func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			run := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, " "...)
				} else {
					out = append(out, " "...)
				}
				i += 6
				continue
			}
		}
		out = append(out, data[i])
		i++
	}
	return out
}

// SortKeysCanonical sorts keys in place using UTF-16 code unit order, the
// same ordering Map.SortedKeys uses.
func SortKeysCanonical(keys []string) {
	slices.SortFunc(keys, compareUTF16)
}

// compareUTF16 compares strings by UTF-16 code units. Go's native string
// comparison is UTF-8 byte order, which disagrees above the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := len(a16)
	if len(b16) < n {
		n = len(b16)
	}
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
