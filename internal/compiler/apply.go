package compiler

import (
	"fmt"
	"slices"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/schema"
)

// Apply registers the document's schema and replays its entities into the
// store through the public mutation API, so every declaration is journaled
// and validated exactly like a runtime edit. All entities are defined
// before any local content or arc is applied, which lets a document
// reference entities declared later in it. Store cycle and validation
// errors are returned as the store raised them.
func Apply(c *Compiled, reg *schema.Registry, store *graph.Store) error {
	if err := ApplySchema(c, reg); err != nil {
		return err
	}

	for _, ent := range c.Entities {
		if err := store.Define(ent.Path, ent.Type); err != nil {
			return err
		}
		if !ent.Active {
			if err := store.SetActive(ent.Path, false); err != nil {
				return err
			}
		}
	}

	for i := range c.Entities {
		if err := applyContent(&c.Entities[i], store); err != nil {
			return err
		}
	}
	return nil
}

// ApplySchema registers only the document's components and types. Journal
// replay starts from this: the schema comes from the document, the
// entities come from the recorded edits.
func ApplySchema(c *Compiled, reg *schema.Registry) error {
	for _, comp := range c.Components {
		if err := reg.RegisterComponent(comp); err != nil {
			return err
		}
	}
	for _, t := range c.Types {
		if err := reg.RegisterType(t); err != nil {
			return err
		}
	}
	return nil
}

// applyContent replays one entity's local blocks and arcs in declaration
// order. A leading plain block lands in the primary block so later runtime
// edits to the same property replace it in place; every other plain block
// is appended, and variant sets are defined at their declared position.
func applyContent(ent *Entity, store *graph.Store) error {
	for i, b := range ent.Blocks {
		switch {
		case b.Set != nil:
			variants := make(map[string]map[string]graph.Opinion, len(b.Set.Variants))
			for _, v := range b.Set.Variants {
				variants[v.Name] = v.Opinions
			}
			if err := store.DefineVariantSet(ent.Path, b.Set.Name, variants, b.Set.Selection); err != nil {
				return err
			}
		case i == 0:
			props := make([]string, 0, len(b.Opinions))
			for prop := range b.Opinions {
				props = append(props, prop)
			}
			slices.Sort(props)
			for _, prop := range props {
				if err := store.SetLocalValue(ent.Path, prop, b.Opinions[prop]); err != nil {
					return fmt.Errorf("entity %s: %w", ent.Path, err)
				}
			}
		default:
			if len(b.Opinions) == 0 {
				continue
			}
			if err := store.AppendLocalBlock(ent.Path, b.Opinions); err != nil {
				return fmt.Errorf("entity %s: %w", ent.Path, err)
			}
		}
	}

	for _, target := range ent.References {
		if err := store.AddArc(ent.Path, graph.ArcReference, target); err != nil {
			return err
		}
	}
	for _, p := range ent.Payloads {
		if err := store.AddArc(ent.Path, graph.ArcPayload, p.Target, graph.Loaded(p.Loaded)); err != nil {
			return err
		}
	}
	for _, target := range ent.Inherits {
		if err := store.AddArc(ent.Path, graph.ArcInherit, target); err != nil {
			return err
		}
	}
	for _, target := range ent.Specializes {
		if err := store.AddArc(ent.Path, graph.ArcSpecialize, target); err != nil {
			return err
		}
	}
	return nil
}
