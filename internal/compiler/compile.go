package compiler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// Compiled is a document lowered to registration and mutation inputs.
type Compiled struct {
	Components []schema.Component // document order
	Types      []schema.Type     // parent-first registration order
	Entities   []Entity          // sorted by path
	LOD        *lod.Config       // nil when the document has no lod block
}

// Entity is one declared entity with its local content in document order.
type Entity struct {
	Path        value.Path
	Type        string
	Active      bool
	Blocks      []Block
	References  []value.Path
	Payloads    []Payload
	Inherits    []value.Path
	Specializes []value.Path
}

// Block is one entry of an entity's ordered local content: a plain opinion
// block, or a variant set defined at this position.
type Block struct {
	Opinions map[string]graph.Opinion
	Set      *VariantSet
}

// VariantSet is a named switchable opinion block with its authored
// selection. An empty selection leaves the set mute.
type VariantSet struct {
	Name      string
	Selection string
	Variants  []Variant // document order
}

// Variant is one named opinion block inside a variant set.
type Variant struct {
	Name     string
	Opinions map[string]graph.Opinion
}

// Payload is a declared payload arc with its initial load state.
type Payload struct {
	Target value.Path
	Loaded bool
}

// Compile lowers a loaded document. Entity opinions are decoded against the
// property kinds the document's own schema section declares, so a document
// is self-contained: every entity type must resolve within it. All problems
// are collected; on failure the returned error is an ErrorList covering
// every one of them.
func Compile(doc *Document) (*Compiled, error) {
	var errs ErrorList

	c := &Compiled{}
	var scratch *schema.Registry
	c.Components, c.Types, scratch = compileSchema(doc.root, &errs)
	c.Entities = compileEntities(doc.root, scratch, &errs)
	c.LOD = compileLOD(doc.root, &errs)

	if err := errs.errorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// fieldLabel returns the current field's name with any label quoting
// stripped, so quoted labels like "/World/Hero" and "core:health" come
// back as authored.
func fieldLabel(iter *cue.Iterator) string {
	return strings.Trim(iter.Selector().String(), `"`)
}

func addErr(errs *ErrorList, err error, field string, pos token.Pos) {
	*errs = append(*errs, asCompileError(err, field, pos))
}

// compileSchema parses the schema section and registers it into a scratch
// registry used to kind-direct entity opinion decoding.
func compileSchema(root cue.Value, errs *ErrorList) ([]schema.Component, []schema.Type, *schema.Registry) {
	reg := schema.NewRegistry()
	v := root.LookupPath(cue.ParsePath("schema"))
	if !v.Exists() {
		return nil, nil, reg
	}

	var components []schema.Component
	cpos := make(map[string]token.Pos)
	if cv := v.LookupPath(cue.ParsePath("components")); cv.Exists() {
		iter, err := cv.Fields()
		if err != nil {
			addErr(errs, formatCUEError(err), "components", cv.Pos())
		} else {
			for iter.Next() {
				name := fieldLabel(iter)
				props := compileProperties(iter.Value().LookupPath(cue.ParsePath("properties")), "components."+name, errs)
				components = append(components, schema.Component{Name: name, Properties: props})
				cpos[name] = iter.Value().Pos()
			}
		}
	}

	var types []schema.Type
	tpos := make(map[string]token.Pos)
	if tv := v.LookupPath(cue.ParsePath("types")); tv.Exists() {
		iter, err := tv.Fields()
		if err != nil {
			addErr(errs, formatCUEError(err), "types", tv.Pos())
		} else {
			for iter.Next() {
				name := fieldLabel(iter)
				item := iter.Value()
				t := schema.Type{Name: name}
				if pv := item.LookupPath(cue.ParsePath("parent")); pv.Exists() {
					parent, err := pv.String()
					if err != nil {
						addErr(errs, formatCUEError(err), "types."+name, pv.Pos())
					}
					t.Parent = parent
				}
				if cv := item.LookupPath(cue.ParsePath("components")); cv.Exists() {
					t.Components = compileStringList(cv, "types."+name+".components", errs)
				}
				t.Properties = compileProperties(item.LookupPath(cue.ParsePath("properties")), "types."+name, errs)
				types = append(types, t)
				tpos[name] = item.Pos()
			}
		}
	}

	types = orderTypes(types, tpos, errs)

	for _, comp := range components {
		if err := reg.RegisterComponent(comp); err != nil {
			errs.add("components."+comp.Name, err.Error(), cpos[comp.Name])
		}
	}
	for _, t := range types {
		if err := reg.RegisterType(t); err != nil {
			errs.add("types."+t.Name, err.Error(), tpos[t.Name])
		}
	}
	return components, types, reg
}

// compileProperties parses one properties struct into specs. A missing
// default becomes the kind's zero value.
func compileProperties(v cue.Value, field string, errs *ErrorList) []schema.PropertySpec {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		addErr(errs, formatCUEError(err), field, v.Pos())
		return nil
	}
	var specs []schema.PropertySpec
	for iter.Next() {
		name := fieldLabel(iter)
		pv := iter.Value()
		pfield := field + "." + name

		kindVal := pv.LookupPath(cue.ParsePath("kind"))
		if !kindVal.Exists() {
			errs.add(pfield, "kind is required", pv.Pos())
			continue
		}
		kindStr, err := kindVal.String()
		if err != nil {
			addErr(errs, formatCUEError(err), pfield, kindVal.Pos())
			continue
		}
		kind, err := value.ParseKind(kindStr)
		if err != nil {
			errs.add(pfield, err.Error(), kindVal.Pos())
			continue
		}

		spec := schema.PropertySpec{Name: name, Kind: kind}
		if dv := pv.LookupPath(cue.ParsePath("default")); dv.Exists() {
			spec.Default, err = decodeValue(dv, kind)
			if err != nil {
				addErr(errs, err, pfield, dv.Pos())
				continue
			}
		} else {
			spec.Default = zeroValue(kind)
		}
		if av := pv.LookupPath(cue.ParsePath("allowed")); av.Exists() {
			spec.AllowedTokens = compileStringList(av, pfield+".allowed", errs)
		}
		specs = append(specs, spec)
	}
	return specs
}

// orderTypes sorts type declarations parent-first so registration freezes
// each parent's merged view before its children need it. Types on a parent
// cycle or naming an undeclared parent are reported and dropped.
func orderTypes(types []schema.Type, pos map[string]token.Pos, errs *ErrorList) []schema.Type {
	byName := make(map[string]schema.Type, len(types))
	names := make([]string, 0, len(types))
	for _, t := range types {
		byName[t.Name] = t
		names = append(names, t.Name)
	}
	slices.Sort(names)

	// 0 unvisited, 1 visiting, 2 done.
	state := make(map[string]int, len(types))
	good := make(map[string]bool, len(types))
	ordered := make([]schema.Type, 0, len(types))
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case 2:
			return good[name]
		case 1:
			errs.add("types."+name, "parent chain forms a cycle", pos[name])
			return false
		}
		state[name] = 1
		t := byName[name]
		ok := true
		if t.Parent != "" {
			if _, declared := byName[t.Parent]; !declared {
				errs.add("types."+name, fmt.Sprintf("unknown parent type %q", t.Parent), pos[name])
				ok = false
			} else if !visit(t.Parent) {
				ok = false
			}
		}
		state[name] = 2
		good[name] = ok
		if ok {
			ordered = append(ordered, t)
		}
		return ok
	}
	for _, name := range names {
		visit(name)
	}
	return ordered
}

// compileEntities parses scene.entities against the scratch registry.
// Entities whose type cannot be resolved are reported and skipped; the rest
// still compile so one bad entity does not hide the others' problems.
func compileEntities(root cue.Value, reg *schema.Registry, errs *ErrorList) []Entity {
	v := root.LookupPath(cue.ParsePath("scene.entities"))
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		addErr(errs, formatCUEError(err), "entities", v.Pos())
		return nil
	}

	var entities []Entity
	for iter.Next() {
		label := fieldLabel(iter)
		item := iter.Value()
		field := "entities." + label

		path, err := value.NewPath(label)
		if err != nil {
			errs.add(field, err.Error(), item.Pos())
			continue
		}
		if ent, ok := compileEntity(path, item, field, reg, errs); ok {
			entities = append(entities, ent)
		}
	}
	slices.SortFunc(entities, func(a, b Entity) int {
		return strings.Compare(string(a.Path), string(b.Path))
	})
	return entities
}

func compileEntity(path value.Path, v cue.Value, field string, reg *schema.Registry, errs *ErrorList) (Entity, bool) {
	ent := Entity{Path: path, Active: true}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		errs.add(field, "type is required", v.Pos())
		return ent, false
	}
	typeName, err := typeVal.String()
	if err != nil {
		addErr(errs, formatCUEError(err), field, typeVal.Pos())
		return ent, false
	}
	ent.Type = typeName

	rt, err := reg.ResolveType(typeName)
	if err != nil {
		errs.add(field, fmt.Sprintf("unknown type %q", typeName), typeVal.Pos())
		return ent, false
	}

	if av := v.LookupPath(cue.ParsePath("active")); av.Exists() {
		active, err := av.Bool()
		if err != nil {
			addErr(errs, formatCUEError(err), field, av.Pos())
		} else {
			ent.Active = active
		}
	}

	sets, setOrder := compileVariantSets(v.LookupPath(cue.ParsePath("variantSets")), field, rt, errs)

	if bv := v.LookupPath(cue.ParsePath("blocks")); bv.Exists() {
		if lv := v.LookupPath(cue.ParsePath("local")); lv.Exists() {
			errs.add(field, "local and blocks are mutually exclusive", lv.Pos())
		}
		ent.Blocks = compileBlocks(bv, field, rt, sets, setOrder, errs)
	} else {
		if lv := v.LookupPath(cue.ParsePath("local")); lv.Exists() {
			ent.Blocks = append(ent.Blocks, Block{Opinions: compileOpinionBlock(lv, field+".local", rt, errs)})
		}
		for _, name := range setOrder {
			ent.Blocks = append(ent.Blocks, Block{Set: sets[name]})
		}
	}

	ent.References = compilePathList(v.LookupPath(cue.ParsePath("references")), field+".references", errs)
	ent.Payloads = compilePayloads(v.LookupPath(cue.ParsePath("payloads")), field+".payloads", errs)
	ent.Inherits = compilePathList(v.LookupPath(cue.ParsePath("inherits")), field+".inherits", errs)
	ent.Specializes = compilePathList(v.LookupPath(cue.ParsePath("specializes")), field+".specializes", errs)
	return ent, true
}

func compileVariantSets(v cue.Value, field string, rt *schema.ResolvedType, errs *ErrorList) (map[string]*VariantSet, []string) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		addErr(errs, formatCUEError(err), field+".variantSets", v.Pos())
		return nil, nil
	}

	sets := make(map[string]*VariantSet)
	var order []string
	for iter.Next() {
		name := fieldLabel(iter)
		sv := iter.Value()
		sfield := field + ".variantSets." + name

		set := &VariantSet{Name: name}
		selVal := sv.LookupPath(cue.ParsePath("selection"))
		if !selVal.Exists() {
			errs.add(sfield, "selection is required", sv.Pos())
		} else if set.Selection, err = selVal.String(); err != nil {
			addErr(errs, formatCUEError(err), sfield, selVal.Pos())
		}

		if vv := sv.LookupPath(cue.ParsePath("variants")); vv.Exists() {
			vIter, err := vv.Fields()
			if err != nil {
				addErr(errs, formatCUEError(err), sfield, vv.Pos())
			} else {
				for vIter.Next() {
					vname := fieldLabel(vIter)
					set.Variants = append(set.Variants, Variant{
						Name:     vname,
						Opinions: compileOpinionBlock(vIter.Value(), sfield+"."+vname, rt, errs),
					})
				}
			}
		}

		if set.Selection != "" && !slices.ContainsFunc(set.Variants, func(v Variant) bool { return v.Name == set.Selection }) {
			errs.add(sfield, fmt.Sprintf("selection %q is not a declared variant", set.Selection), sv.Pos())
		}
		sets[name] = set
		order = append(order, name)
	}
	return sets, order
}

// compileBlocks parses an explicit ordered block list. Variant sets never
// placed by a marker keep their declaration order after the listed entries.
func compileBlocks(v cue.Value, field string, rt *schema.ResolvedType, sets map[string]*VariantSet, setOrder []string, errs *ErrorList) []Block {
	list, err := v.List()
	if err != nil {
		addErr(errs, formatCUEError(err), field+".blocks", v.Pos())
		return nil
	}

	var blocks []Block
	used := make(map[string]bool)
	for i := 0; list.Next(); i++ {
		bv := list.Value()
		bfield := fmt.Sprintf("%s.blocks[%d]", field, i)

		setVal := bv.LookupPath(cue.ParsePath("variantSet"))
		valuesVal := bv.LookupPath(cue.ParsePath("values"))
		switch {
		case setVal.Exists() && valuesVal.Exists():
			errs.add(bfield, "block entry declares both values and variantSet", bv.Pos())
		case setVal.Exists():
			name, err := setVal.String()
			if err != nil {
				addErr(errs, formatCUEError(err), bfield, setVal.Pos())
				continue
			}
			set, ok := sets[name]
			if !ok {
				errs.add(bfield, fmt.Sprintf("unknown variant set %q", name), setVal.Pos())
				continue
			}
			if used[name] {
				errs.add(bfield, fmt.Sprintf("variant set %q placed twice", name), setVal.Pos())
				continue
			}
			used[name] = true
			blocks = append(blocks, Block{Set: set})
		default:
			var opinions map[string]graph.Opinion
			if valuesVal.Exists() {
				opinions = compileOpinionBlock(valuesVal, bfield, rt, errs)
			}
			blocks = append(blocks, Block{Opinions: opinions})
		}
	}
	for _, name := range setOrder {
		if !used[name] {
			blocks = append(blocks, Block{Set: sets[name]})
		}
	}
	return blocks
}

func compileOpinionBlock(v cue.Value, field string, rt *schema.ResolvedType, errs *ErrorList) map[string]graph.Opinion {
	iter, err := v.Fields()
	if err != nil {
		addErr(errs, formatCUEError(err), field, v.Pos())
		return nil
	}
	opinions := make(map[string]graph.Opinion)
	for iter.Next() {
		prop := fieldLabel(iter)
		pv := iter.Value()
		pfield := field + "." + prop

		spec, ok := rt.Spec(prop)
		if !ok {
			errs.add(pfield, fmt.Sprintf("type %q does not declare property %q", rt.Name, prop), pv.Pos())
			continue
		}
		op, err := decodeOpinion(pv, spec)
		if err != nil {
			addErr(errs, err, pfield, pv.Pos())
			continue
		}
		opinions[prop] = op
	}
	return opinions
}

func compilePathList(v cue.Value, field string, errs *ErrorList) []value.Path {
	if !v.Exists() {
		return nil
	}
	list, err := v.List()
	if err != nil {
		addErr(errs, formatCUEError(err), field, v.Pos())
		return nil
	}
	var out []value.Path
	for list.Next() {
		ev := list.Value()
		s, err := ev.String()
		if err != nil {
			addErr(errs, formatCUEError(err), field, ev.Pos())
			continue
		}
		p, err := value.NewPath(s)
		if err != nil {
			errs.add(field, err.Error(), ev.Pos())
			continue
		}
		out = append(out, p)
	}
	return out
}

func compilePayloads(v cue.Value, field string, errs *ErrorList) []Payload {
	if !v.Exists() {
		return nil
	}
	list, err := v.List()
	if err != nil {
		addErr(errs, formatCUEError(err), field, v.Pos())
		return nil
	}
	var out []Payload
	for list.Next() {
		ev := list.Value()
		tv := ev.LookupPath(cue.ParsePath("target"))
		if !tv.Exists() {
			errs.add(field, "payload target is required", ev.Pos())
			continue
		}
		s, err := tv.String()
		if err != nil {
			addErr(errs, formatCUEError(err), field, tv.Pos())
			continue
		}
		target, err := value.NewPath(s)
		if err != nil {
			errs.add(field, err.Error(), tv.Pos())
			continue
		}
		pl := Payload{Target: target}
		if lv := ev.LookupPath(cue.ParsePath("loaded")); lv.Exists() {
			loaded, err := lv.Bool()
			if err != nil {
				addErr(errs, formatCUEError(err), field, lv.Pos())
				continue
			}
			pl.Loaded = loaded
		}
		out = append(out, pl)
	}
	return out
}

func compileStringList(v cue.Value, field string, errs *ErrorList) []string {
	list, err := v.List()
	if err != nil {
		addErr(errs, formatCUEError(err), field, v.Pos())
		return nil
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			addErr(errs, formatCUEError(err), field, list.Value().Pos())
			continue
		}
		out = append(out, s)
	}
	return out
}

// compileLOD parses the optional scene.lod block into a classification
// config. The policy itself is validated here so threshold and tier-filter
// problems carry the document position.
func compileLOD(root cue.Value, errs *ErrorList) *lod.Config {
	v := root.LookupPath(cue.ParsePath("scene.lod"))
	if !v.Exists() {
		return nil
	}
	before := len(*errs)
	cfg := &lod.Config{}

	th := v.LookupPath(cue.ParsePath("thresholds"))
	if !th.Exists() {
		errs.add("lod", "thresholds are required", v.Pos())
	} else {
		for i, name := range []string{"near", "mid", "far"} {
			tv := th.LookupPath(cue.ParsePath(name))
			if !tv.Exists() {
				errs.add("lod.thresholds", name+" is required", th.Pos())
				continue
			}
			cut, err := tv.Float64()
			if err != nil {
				addErr(errs, formatCUEError(err), "lod.thresholds", tv.Pos())
				continue
			}
			cfg.Thresholds[i] = cut
		}
	}

	if hv := v.LookupPath(cue.ParsePath("hysteresis")); hv.Exists() {
		h, err := hv.Float64()
		if err != nil {
			addErr(errs, formatCUEError(err), "lod", hv.Pos())
		}
		cfg.Hysteresis = h
	}
	if dv := v.LookupPath(cue.ParsePath("dwellMillis")); dv.Exists() {
		ms, err := dv.Int64()
		if err != nil {
			addErr(errs, formatCUEError(err), "lod", dv.Pos())
		}
		cfg.Dwell = time.Duration(ms) * time.Millisecond
	}
	if fv := v.LookupPath(cue.ParsePath("importanceFloor")); fv.Exists() {
		floor, err := fv.Float64()
		if err != nil {
			addErr(errs, formatCUEError(err), "lod", fv.Pos())
		}
		cfg.ImportanceFloor = floor
	}

	if tiers := v.LookupPath(cue.ParsePath("tiers")); tiers.Exists() {
		iter, err := tiers.Fields()
		if err != nil {
			addErr(errs, formatCUEError(err), "lod.tiers", tiers.Pos())
		} else {
			cfg.Tiers = make(map[lod.Tier]lod.PropertyFilter)
			for iter.Next() {
				name := fieldLabel(iter)
				tier, err := lod.ParseTier(name)
				if err != nil {
					errs.add("lod.tiers", fmt.Sprintf("unknown tier %q", name), iter.Value().Pos())
					continue
				}
				patterns := compileStringList(iter.Value(), "lod.tiers."+name, errs)
				filter, err := lod.NewPropertyFilter(patterns...)
				if err != nil {
					errs.add("lod.tiers."+name, err.Error(), iter.Value().Pos())
					continue
				}
				cfg.Tiers[tier] = filter
			}
		}
	}

	// Validate the assembled policy only when the block itself parsed
	// clean, so partial parses do not cascade into config noise.
	if len(*errs) == before {
		if _, err := lod.NewManager(*cfg); err != nil {
			errs.add("lod", err.Error(), v.Pos())
		}
	}
	return cfg
}
