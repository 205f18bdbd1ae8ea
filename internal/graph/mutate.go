package graph

import (
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// ArcOption configures an arc at AddArc time.
type ArcOption func(*Arc)

// Loaded sets a payload arc's initial load state.
func Loaded(loaded bool) ArcOption {
	return func(a *Arc) { a.Loaded = loaded }
}

// AddArc appends a target-bearing arc in that kind's declaration order.
// The target may be undefined (it is skipped until defined); the addition
// is rejected with CompositionCycleError if it would close a cycle, leaving
// both entities' arc lists untouched.
func (s *Store) AddArc(id value.Path, kind ArcKind, target value.Path, opts ...ArcOption) error {
	if !kind.targetBearing() {
		return fmt.Errorf("entity %s: %s is not a target-bearing arc kind", id, kind)
	}
	target, err := checkPath(target)
	if err != nil {
		return err
	}

	arc := Arc{Kind: kind, Target: target}
	for _, opt := range opts {
		opt(&arc)
	}
	if arc.Loaded && kind != ArcPayload {
		return fmt.Errorf("entity %s: load state is only meaningful on payload arcs", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return &UnknownEntityError{Path: id}
	}
	if id == target {
		return &CompositionCycleError{From: id, To: target, Cycle: []value.Path{id, id}}
	}
	if trail, found := s.cyclePath(target, id); found {
		cycle := append([]value.Path{id}, trail...)
		return &CompositionCycleError{From: id, To: target, Cycle: cycle}
	}
	if err := s.append(Edit{Op: EditAddArc, Entity: id, Kind: kind, Target: target, Loaded: arc.Loaded}); err != nil {
		return err
	}

	ent := s.entities[id]
	ent.arcs = append(ent.arcs, arc)
	s.addReverse(target, id)
	s.finish(id, "add_arc")
	return nil
}

// RemoveArc removes the first stored arc matching kind and target.
// Removing an unloaded payload arc is observationally identical to it never
// having existed.
func (s *Store) RemoveArc(id value.Path, kind ArcKind, target value.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	idx := slices.IndexFunc(ent.arcs, func(a Arc) bool {
		return a.Kind == kind && a.Target == target
	})
	if idx < 0 {
		return &UnknownArcError{Path: id, Kind: kind, Target: target}
	}
	if err := s.append(Edit{Op: EditRemoveArc, Entity: id, Kind: kind, Target: target}); err != nil {
		return err
	}

	ent.arcs = slices.Delete(ent.arcs, idx, idx+1)
	s.dropReverse(target, id)
	s.finish(id, "remove_arc")
	return nil
}

// SetPayloadLoaded flips the load gate on a payload arc. Setting the
// current state is a no-op that bumps nothing.
func (s *Store) SetPayloadLoaded(id value.Path, target value.Path, loaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	idx := slices.IndexFunc(ent.arcs, func(a Arc) bool {
		return a.Kind == ArcPayload && a.Target == target
	})
	if idx < 0 {
		return &UnknownArcError{Path: id, Kind: ArcPayload, Target: target}
	}
	if ent.arcs[idx].Loaded == loaded {
		return nil
	}
	if err := s.append(Edit{Op: EditSetPayloadLoaded, Entity: id, Target: target, Loaded: loaded}); err != nil {
		return err
	}

	ent.arcs[idx].Loaded = loaded
	s.finish(id, "set_payload_loaded")
	return nil
}

// SetLocalValue authors an opinion in the entity's primary plain block.
// The property must be declared by the entity's type; the opinion must
// satisfy the declaration.
func (s *Store) SetLocalValue(id value.Path, property string, op Opinion) error {
	property = norm.NFC.String(property)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	if err := s.validateOpinion(ent.typeName, property, op); err != nil {
		return err
	}
	if err := s.append(Edit{Op: EditSetLocal, Entity: id, Property: property, Opinion: &op}); err != nil {
		return err
	}

	ent.blocks[0].opinions[property] = op.clone()
	s.finish(id, "set_local")
	return nil
}

// ClearLocalValue removes an opinion from the primary plain block. Clearing
// an absent opinion is a no-op that bumps nothing.
func (s *Store) ClearLocalValue(id value.Path, property string) error {
	property = norm.NFC.String(property)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	if _, present := ent.blocks[0].opinions[property]; !present {
		return nil
	}
	if err := s.append(Edit{Op: EditClearLocal, Entity: id, Property: property}); err != nil {
		return err
	}

	delete(ent.blocks[0].opinions, property)
	s.finish(id, "clear_local")
	return nil
}

// AppendLocalBlock appends an additional plain opinion block after the
// existing local content. Document loaders use this to keep authored block
// order; runtime edits normally go through SetLocalValue.
func (s *Store) AppendLocalBlock(id value.Path, opinions map[string]Opinion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	normalized := make(map[string]Opinion, len(opinions))
	for prop, op := range opinions {
		prop = norm.NFC.String(prop)
		if err := s.validateOpinion(ent.typeName, prop, op); err != nil {
			return err
		}
		normalized[prop] = op
	}
	if err := s.append(Edit{Op: EditAppendBlock, Entity: id, Opinions: normalized}); err != nil {
		return err
	}

	ent.blocks = append(ent.blocks, localBlock{opinions: cloneOpinions(normalized)})
	s.finish(id, "append_block")
	return nil
}

// DefineVariantSet declares a named, switchable block of local opinions.
// The set contributes at the local position its declaration occupies, after
// all previously added blocks. An empty selection leaves the set mute.
func (s *Store) DefineVariantSet(id value.Path, set string, variants map[string]map[string]Opinion, selection string) error {
	if set == "" {
		return fmt.Errorf("entity %s: empty variant set name", id)
	}
	set = norm.NFC.String(set)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	if _, exists := ent.sets[set]; exists {
		return fmt.Errorf("entity %s: variant set %q is already defined", id, set)
	}
	normalized := make(map[string]map[string]Opinion, len(variants))
	for variant, opinions := range variants {
		variant = norm.NFC.String(variant)
		block := make(map[string]Opinion, len(opinions))
		for prop, op := range opinions {
			prop = norm.NFC.String(prop)
			if err := s.validateOpinion(ent.typeName, prop, op); err != nil {
				return fmt.Errorf("variant %q: %w", variant, err)
			}
			block[prop] = op.clone()
		}
		normalized[variant] = block
	}
	if selection != "" {
		selection = norm.NFC.String(selection)
		if _, ok := normalized[selection]; !ok {
			return &UnknownVariantError{Path: id, Set: set, Variant: selection}
		}
	}
	if err := s.append(Edit{Op: EditDefineVariantSet, Entity: id, Set: set, Variant: selection, Variants: normalized}); err != nil {
		return err
	}

	ent.sets[set] = &variantSet{selection: selection, variants: normalized}
	ent.blocks = append(ent.blocks, localBlock{variantSet: set})
	s.finish(id, "define_variant_set")
	return nil
}

// SetVariantSelection switches a variant set's active block. Selecting the
// current variant is a no-op that bumps nothing.
func (s *Store) SetVariantSelection(id value.Path, set, variant string) error {
	set = norm.NFC.String(set)
	variant = norm.NFC.String(variant)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	vs, ok := ent.sets[set]
	if !ok {
		return &UnknownVariantError{Path: id, Set: set}
	}
	if _, ok := vs.variants[variant]; !ok {
		return &UnknownVariantError{Path: id, Set: set, Variant: variant}
	}
	if vs.selection == variant {
		return nil
	}
	if err := s.append(Edit{Op: EditSetVariantSelection, Entity: id, Set: set, Variant: variant}); err != nil {
		return err
	}

	vs.selection = variant
	s.finish(id, "set_variant_selection")
	return nil
}

// validateOpinion checks an opinion against the entity type's declaration.
// Called with the lock held.
func (s *Store) validateOpinion(typeName, property string, op Opinion) error {
	rt, err := s.registry.ResolveType(typeName)
	if err != nil {
		return err
	}
	spec, ok := rt.Spec(property)
	if !ok {
		return &schema.UnknownPropertyError{Type: typeName, Property: property}
	}
	if op.IsEdit {
		if spec.Kind != value.KindRelation {
			return fmt.Errorf("property %q: list edit on non-relation kind %s", property, spec.Kind)
		}
		return checkEditPaths(property, op.Edit)
	}
	if rel, ok := op.Value.(value.Relation); ok {
		for i, p := range rel {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("property %q: target %d: %w", property, i, err)
			}
		}
	}
	return spec.CheckValue(op.Value)
}

func checkEditPaths(property string, e value.RelationEdit) error {
	check := func(label string, paths []value.Path) error {
		for i, p := range paths {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("property %q: %s target %d: %w", property, label, i, err)
			}
		}
		return nil
	}
	if err := check("prepend", e.Prepend); err != nil {
		return err
	}
	if err := check("append", e.Append); err != nil {
		return err
	}
	return check("delete", e.Delete)
}
