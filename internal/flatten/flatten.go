package flatten

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// Flattener bakes tables from live graph state.
type Flattener struct {
	store    *graph.Store
	registry *schema.Registry
	engine   *resolve.Engine
	lods     *lod.Manager
	newID    func() uuid.UUID
	logger   *slog.Logger
}

// Option configures a Flattener.
type Option func(*Flattener)

// WithBuildIDs injects the build ID generator. Defaults to random V7 IDs;
// tests swap in a seeded sequence for byte-identical output.
func WithBuildIDs(newID func() uuid.UUID) Option {
	return func(f *Flattener) { f.newID = newID }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flattener) { f.logger = l }
}

// NewFlattener wires a flattener over a store, its registry, a resolution
// engine and the tier gate.
func NewFlattener(store *graph.Store, registry *schema.Registry, engine *resolve.Engine, lods *lod.Manager, opts ...Option) *Flattener {
	f := &Flattener{
		store:    store,
		registry: registry,
		engine:   engine,
		lods:     lods,
		newID: func() uuid.UUID {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.New()
			}
			return id
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flatten bakes one table for the given entities at the given tier inside
// a single consistent snapshot.
func (f *Flattener) Flatten(ids []value.Path, tier lod.Tier) (*Table, error) {
	var t *Table
	err := f.store.View(func(v *graph.View) error {
		var err error
		t, err = f.FlattenInView(v, ids, tier)
		return err
	})
	return t, err
}

// FlattenInView bakes against an already-open snapshot. Every property
// enabled at the tier and declared by an entity's type is resolved; the
// dependency generations of every answer are captured so the table can
// report its own staleness.
func (f *Flattener) FlattenInView(v *graph.View, ids []value.Path, tier lod.Tier) (*Table, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	types := make(map[value.Path]*schema.ResolvedType, len(sorted))
	columns := make(map[string]value.Kind)
	for _, id := range sorted {
		typeName, ok := v.TypeName(id)
		if !ok {
			return nil, &graph.UnknownEntityError{Path: id}
		}
		rt, err := f.registry.ResolveType(typeName)
		if err != nil {
			return nil, err
		}
		types[id] = rt
		for _, spec := range rt.Properties() {
			if !f.lods.EnabledAt(tier, spec.Name) {
				continue
			}
			if prev, ok := columns[spec.Name]; ok && prev != spec.Kind {
				return nil, fmt.Errorf("property %s baked as %s and %s in one table", spec.Name, prev, spec.Kind)
			}
			columns[spec.Name] = spec.Kind
		}
	}

	b := newTableBuilder(tier, f.newID(), columns)
	snapshot := make(map[value.Path]uint64)

	for _, id := range sorted {
		rec := b.addRecord(id)
		rt := types[id]
		for pi, p := range b.table.props {
			if !rt.Has(p.name) {
				continue
			}
			res, err := f.engine.ResolveInView(v, id, p.name)
			if err != nil {
				return nil, fmt.Errorf("flatten %s %s: %w", id, p.name, err)
			}
			if err := b.pack(rec, pi, res.Value); err != nil {
				return nil, fmt.Errorf("flatten %s %s: %w", id, p.name, err)
			}
			for _, dep := range res.Deps {
				snapshot[dep.Entity] = dep.Generation
			}
		}
	}

	b.table.snapshot = make([]genEntry, 0, len(snapshot))
	for id, gen := range snapshot {
		b.table.snapshot = append(b.table.snapshot, genEntry{id: id, generation: gen})
	}
	slices.SortFunc(b.table.snapshot, func(a, b genEntry) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	b.table.finishIndexes()
	f.logger.Debug("flattened table",
		"tier", tier.String(),
		"entities", len(b.table.records),
		"properties", len(b.table.props),
		"build", b.table.buildID.String())
	return b.table, nil
}

type tableBuilder struct {
	table      *Table
	stringIdx  map[string]uint64
	blobIdx    map[string]uint64
	slotsTotal int
}

func newTableBuilder(tier lod.Tier, buildID uuid.UUID, columns map[string]value.Kind) *tableBuilder {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	slices.Sort(names)

	t := &Table{tier: tier, buildID: buildID}
	offset := 0
	for _, name := range names {
		kind := columns[name]
		n := slotsFor(kind)
		t.props = append(t.props, propEntry{name: name, kind: kind, slots: n, offset: offset})
		offset += n
	}
	return &tableBuilder{
		table:      t,
		stringIdx:  make(map[string]uint64),
		blobIdx:    make(map[string]uint64),
		slotsTotal: offset,
	}
}

func (b *tableBuilder) addRecord(id value.Path) *record {
	b.table.records = append(b.table.records, record{
		id:      id,
		present: make([]byte, (len(b.table.props)+7)/8),
		slots:   make([]uint64, b.slotsTotal),
	})
	return &b.table.records[len(b.table.records)-1]
}

func (b *tableBuilder) pack(rec *record, pi int, val value.Value) error {
	p := &b.table.props[pi]
	s := rec.slots[p.offset:]
	switch v := val.(type) {
	case value.Bool:
		if v {
			s[0] = 1
		}
	case value.Int:
		s[0] = uint64(v)
	case value.Float:
		s[0] = math.Float64bits(float64(v))
	case value.String:
		s[0] = b.intern(string(v))
	case value.Token:
		s[0] = b.intern(string(v))
	case value.Vec3:
		for i, f := range v {
			s[i] = math.Float64bits(f)
		}
	case value.Map, value.Relation:
		idx, err := b.internBlob(val)
		if err != nil {
			return err
		}
		s[0] = idx
	default:
		return fmt.Errorf("cannot pack %T", val)
	}
	rec.present[pi>>3] |= 1 << (pi & 7)
	return nil
}

func (b *tableBuilder) intern(s string) uint64 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := uint64(len(b.table.strings))
	b.table.strings = append(b.table.strings, s)
	b.stringIdx[s] = idx
	return idx
}

func (b *tableBuilder) internBlob(val value.Value) (uint64, error) {
	raw, err := appendBlobValue(nil, val)
	if err != nil {
		return 0, err
	}
	if idx, ok := b.blobIdx[string(raw)]; ok {
		return idx, nil
	}
	idx := uint64(len(b.table.blobs))
	b.table.blobs = append(b.table.blobs, raw)
	b.table.values = append(b.table.values, val)
	b.blobIdx[string(raw)] = idx
	return idx, nil
}
