package schema

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/meshula/primstack/internal/value"
)

// Registry holds registered components and types plus the merged property
// view frozen for each type at registration time.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	types      map[string]Type
	resolved   map[string]*ResolvedType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
		types:      make(map[string]Type),
		resolved:   make(map[string]*ResolvedType),
	}
}

// RegisterComponent validates and stores a component block. Registering the
// identical component twice is idempotent; a different component under a
// taken name returns DuplicateTypeError.
func (r *Registry) RegisterComponent(c Component) error {
	c = normalizeComponent(c)
	if c.Name == "" {
		return fmt.Errorf("component with empty name")
	}
	seen := make(map[string]struct{}, len(c.Properties))
	for _, p := range c.Properties {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("component %q: %w", c.Name, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("component %q declares property %q twice", c.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.components[c.Name]; ok {
		if componentsEqual(prev, c) {
			return nil
		}
		return &DuplicateTypeError{Name: c.Name}
	}
	r.components[c.Name] = c
	return nil
}

// RegisterType validates a type declaration, computes its merged property
// view (parent chain, then components in declared order, then own
// declarations), and freezes the view. The parent and every applied
// component must already be registered.
func (r *Registry) RegisterType(t Type) error {
	t = normalizeType(t)
	if t.Name == "" {
		return fmt.Errorf("type with empty name")
	}
	for _, p := range t.Properties {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("type %q: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.types[t.Name]; ok {
		if typesEqual(prev, t) {
			return nil
		}
		return &DuplicateTypeError{Name: t.Name}
	}

	merged := make(map[string]PropertySpec)
	source := make(map[string]string)

	if t.Parent != "" {
		parent, ok := r.resolved[t.Parent]
		if !ok {
			return &UnknownTypeError{Name: t.Parent, Referrer: t.Name}
		}
		for _, name := range parent.order {
			merged[name] = parent.props[name]
			source[name] = "parent " + t.Parent
		}
	}

	for _, compName := range t.Components {
		comp, ok := r.components[compName]
		if !ok {
			return &UnknownTypeError{Name: compName, Referrer: t.Name}
		}
		for _, p := range comp.Properties {
			prev, exists := merged[p.Name]
			if !exists {
				merged[p.Name] = p
				source[p.Name] = "component " + compName
				continue
			}
			if prev.equal(p) {
				continue
			}
			reason := "defaults differ"
			if prev.Kind != p.Kind {
				reason = fmt.Sprintf("kinds differ (%s vs %s)", prev.Kind, p.Kind)
			}
			return &SchemaConflictError{
				Type:     t.Name,
				Property: p.Name,
				First:    source[p.Name],
				Second:   "component " + compName,
				Reason:   reason,
			}
		}
	}

	// Own declarations override inherited defaults but never change kinds.
	seen := make(map[string]struct{}, len(t.Properties))
	for _, p := range t.Properties {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("type %q declares property %q twice", t.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if prev, exists := merged[p.Name]; exists && prev.Kind != p.Kind {
			return &SchemaConflictError{
				Type:     t.Name,
				Property: p.Name,
				First:    source[p.Name],
				Second:   "own declaration",
				Reason:   fmt.Sprintf("kinds differ (%s vs %s)", prev.Kind, p.Kind),
			}
		}
		merged[p.Name] = p
		source[p.Name] = "own declaration"
	}

	order := make([]string, 0, len(merged))
	for name := range merged {
		order = append(order, name)
	}
	sort.Strings(order)

	r.types[t.Name] = t
	r.resolved[t.Name] = &ResolvedType{Name: t.Name, props: merged, order: order}
	return nil
}

// ResolveType returns the frozen merged view for a type.
func (r *Registry) ResolveType(name string) (*ResolvedType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.resolved[name]
	if !ok {
		return nil, &UnknownTypeError{Name: name}
	}
	return rt, nil
}

// HasType reports whether a type name is registered.
func (r *Registry) HasType(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolved[name]
	return ok
}

// TypeNames returns the registered type names in sorted order.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComponentNames returns the registered component names in sorted order.
func (r *Registry) ComponentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvedType is the immutable merged property view of one type.
type ResolvedType struct {
	Name  string
	props map[string]PropertySpec
	order []string
}

// Spec returns the declaration for a property name.
func (rt *ResolvedType) Spec(name string) (PropertySpec, bool) {
	p, ok := rt.props[name]
	return p, ok
}

// Has reports whether the type declares the property.
func (rt *ResolvedType) Has(name string) bool {
	_, ok := rt.props[name]
	return ok
}

// Default returns the schema default for a declared property.
func (rt *ResolvedType) Default(name string) (value.Value, bool) {
	p, ok := rt.props[name]
	if !ok {
		return nil, false
	}
	return p.Default, true
}

// Properties returns every declaration in sorted name order.
func (rt *ResolvedType) Properties() []PropertySpec {
	out := make([]PropertySpec, 0, len(rt.order))
	for _, name := range rt.order {
		out = append(out, rt.props[name])
	}
	return out
}

// PropertyNames returns the declared names in sorted order.
func (rt *ResolvedType) PropertyNames() []string {
	return append([]string(nil), rt.order...)
}

func normalizeComponent(c Component) Component {
	c.Name = norm.NFC.String(c.Name)
	c.Properties = normalizeSpecs(c.Properties)
	return c
}

func normalizeType(t Type) Type {
	t.Name = norm.NFC.String(t.Name)
	t.Parent = norm.NFC.String(t.Parent)
	for i, comp := range t.Components {
		t.Components[i] = norm.NFC.String(comp)
	}
	t.Properties = normalizeSpecs(t.Properties)
	return t
}

func normalizeSpecs(specs []PropertySpec) []PropertySpec {
	for i := range specs {
		specs[i].Name = norm.NFC.String(specs[i].Name)
	}
	return specs
}

func componentsEqual(a, b Component) bool {
	if a.Name != b.Name || len(a.Properties) != len(b.Properties) {
		return false
	}
	for i := range a.Properties {
		if !a.Properties[i].equal(b.Properties[i]) {
			return false
		}
	}
	return true
}

func typesEqual(a, b Type) bool {
	if a.Name != b.Name || a.Parent != b.Parent {
		return false
	}
	if len(a.Components) != len(b.Components) || len(a.Properties) != len(b.Properties) {
		return false
	}
	for i := range a.Components {
		if a.Components[i] != b.Components[i] {
			return false
		}
	}
	for i := range a.Properties {
		if !a.Properties[i].equal(b.Properties[i]) {
			return false
		}
	}
	return true
}
