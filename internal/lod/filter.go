package lod

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/meshula/primstack/internal/schema"
)

// PropertyFilter is an enabled-property set for one tier. A filter holds
// exact property names and namespace globs; the zero filter enables
// nothing.
type PropertyFilter struct {
	all      bool
	exact    map[string]struct{}
	prefixes []string
}

// MatchAll returns the filter that enables every property.
func MatchAll() PropertyFilter {
	return PropertyFilter{all: true}
}

// NewPropertyFilter builds a filter from patterns. A pattern is a bare
// "*", a namespace glob such as "stats:*" or "stats:combat:*", or an
// exact property name.
func NewPropertyFilter(patterns ...string) (PropertyFilter, error) {
	var f PropertyFilter
	for _, raw := range patterns {
		p := norm.NFC.String(raw)
		switch {
		case p == "*":
			f.all = true
		case strings.HasSuffix(p, ":*"):
			prefix := strings.TrimSuffix(p, "*")
			for _, seg := range strings.Split(strings.TrimSuffix(prefix, ":"), ":") {
				if seg == "" || strings.Contains(seg, "*") {
					return PropertyFilter{}, &InvalidConfigError{
						Field:  "tiers",
						Reason: fmt.Sprintf("bad filter pattern %q", raw),
					}
				}
			}
			f.prefixes = append(f.prefixes, prefix)
		default:
			if strings.Contains(p, "*") {
				return PropertyFilter{}, &InvalidConfigError{
					Field:  "tiers",
					Reason: fmt.Sprintf("bad filter pattern %q: glob must end in :*", raw),
				}
			}
			if err := schema.ValidatePropertyName(p); err != nil {
				return PropertyFilter{}, &InvalidConfigError{
					Field:  "tiers",
					Reason: fmt.Sprintf("bad filter pattern %q: %v", raw, err),
				}
			}
			if f.exact == nil {
				f.exact = make(map[string]struct{})
			}
			f.exact[p] = struct{}{}
		}
	}
	slices.Sort(f.prefixes)
	f.prefixes = slices.Compact(f.prefixes)
	return f, nil
}

// Enabled reports whether the filter admits the property name.
func (f PropertyFilter) Enabled(property string) bool {
	if f.all {
		return true
	}
	if _, ok := f.exact[property]; ok {
		return true
	}
	for _, prefix := range f.prefixes {
		if strings.HasPrefix(property, prefix) {
			return true
		}
	}
	return false
}

// covers reports whether every property g admits, f admits too. Used to
// validate that nearer tiers never drop a farther tier's properties.
func (f PropertyFilter) covers(g PropertyFilter) bool {
	if f.all {
		return true
	}
	if g.all {
		return false
	}
	for name := range g.exact {
		if !f.Enabled(name) {
			return false
		}
	}
	for _, prefix := range g.prefixes {
		if !slices.ContainsFunc(f.prefixes, func(own string) bool {
			return strings.HasPrefix(prefix, own)
		}) {
			return false
		}
	}
	return true
}

// Patterns renders the filter back to its pattern list, sorted, for
// inspection output.
func (f PropertyFilter) Patterns() []string {
	if f.all {
		return []string{"*"}
	}
	out := make([]string, 0, len(f.exact)+len(f.prefixes))
	for name := range f.exact {
		out = append(out, name)
	}
	for _, prefix := range f.prefixes {
		out = append(out, prefix+"*")
	}
	slices.Sort(out)
	return out
}
