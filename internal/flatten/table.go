// Package flatten bakes composed values into per-tier binary tables so the
// runtime can read stable regions of the scene with zero resolution cost.
//
// A table is a point-in-time product: it carries the generation snapshot of
// every entity its values depend on, and Stale reports whether any of them
// has moved since. Stale tables are rebuilt whole, never patched.
package flatten

import (
	"math"

	"github.com/google/uuid"

	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/value"
)

// slotsFor is the fixed slot width of each value kind in a record.
func slotsFor(kind value.Kind) int {
	if kind == value.KindVec3 {
		return 3
	}
	return 1
}

type propEntry struct {
	name   string
	kind   value.Kind
	slots  int
	offset int
}

type record struct {
	id      value.Path
	present []byte
	slots   []uint64
}

type genEntry struct {
	id         value.Path
	generation uint64
}

// Table is a flattened record set for one tier. Immutable once built;
// lookups are safe from any goroutine.
type Table struct {
	tier    lod.Tier
	buildID uuid.UUID

	props   []propEntry
	propIdx map[string]int

	records []record
	recIdx  map[value.Path]int

	// strings pools String and Token slot values. values pools decoded
	// Map and Relation payloads, parallel to blobs, which holds their
	// wire bytes.
	strings []string
	values  []value.Value
	blobs   [][]byte

	snapshot []genEntry
}

// Tier returns the tier the table was baked for.
func (t *Table) Tier() lod.Tier { return t.tier }

// BuildID returns the bake's identity stamp.
func (t *Table) BuildID() uuid.UUID { return t.buildID }

// EntityCount returns the number of baked records.
func (t *Table) EntityCount() int { return len(t.records) }

// Entities returns the baked entity paths in record order (sorted).
func (t *Table) Entities() []value.Path {
	out := make([]value.Path, len(t.records))
	for i := range t.records {
		out[i] = t.records[i].id
	}
	return out
}

// Properties returns the table's property directory in column order.
func (t *Table) Properties() []string {
	out := make([]string, len(t.props))
	for i := range t.props {
		out[i] = t.props[i].name
	}
	return out
}

// Kind returns the declared kind of a directory property.
func (t *Table) Kind(property string) (value.Kind, bool) {
	pi, ok := t.propIdx[property]
	if !ok {
		return value.KindInvalid, false
	}
	return t.props[pi].kind, true
}

// Lookup reads one baked value. The second result is false when the entity
// is not in the table or its type does not carry the property at this
// tier. Scalar reads touch only the record's slot array; Map and Relation
// values are shared immutable decodes.
func (t *Table) Lookup(id value.Path, property string) (value.Value, bool) {
	ri, ok := t.recIdx[id]
	if !ok {
		return nil, false
	}
	pi, ok := t.propIdx[property]
	if !ok {
		return nil, false
	}
	rec := &t.records[ri]
	if rec.present[pi>>3]&(1<<(pi&7)) == 0 {
		return nil, false
	}
	p := &t.props[pi]
	s := rec.slots[p.offset:]
	switch p.kind {
	case value.KindBool:
		return value.Bool(s[0] != 0), true
	case value.KindInt:
		return value.Int(s[0]), true
	case value.KindFloat:
		return value.Float(math.Float64frombits(s[0])), true
	case value.KindString:
		return value.String(t.strings[s[0]]), true
	case value.KindToken:
		return value.Token(t.strings[s[0]]), true
	case value.KindVec3:
		return value.Vec3{
			math.Float64frombits(s[0]),
			math.Float64frombits(s[1]),
			math.Float64frombits(s[2]),
		}, true
	case value.KindMap, value.KindRelation:
		return t.values[s[0]], true
	}
	return nil, false
}

// Float reads a float property without boxing. ok is false on a missing
// record, a missing column, or a non-float kind.
func (t *Table) Float(id value.Path, property string) (float64, bool) {
	s, kind, ok := t.scalar(id, property)
	if !ok || kind != value.KindFloat {
		return 0, false
	}
	return math.Float64frombits(s), true
}

// Int reads an int property without boxing.
func (t *Table) Int(id value.Path, property string) (int64, bool) {
	s, kind, ok := t.scalar(id, property)
	if !ok || kind != value.KindInt {
		return 0, false
	}
	return int64(s), true
}

// Bool reads a bool property without boxing.
func (t *Table) Bool(id value.Path, property string) (bool, bool) {
	s, kind, ok := t.scalar(id, property)
	if !ok || kind != value.KindBool {
		return false, false
	}
	return s != 0, true
}

func (t *Table) scalar(id value.Path, property string) (uint64, value.Kind, bool) {
	ri, ok := t.recIdx[id]
	if !ok {
		return 0, value.KindInvalid, false
	}
	pi, ok := t.propIdx[property]
	if !ok {
		return 0, value.KindInvalid, false
	}
	rec := &t.records[ri]
	if rec.present[pi>>3]&(1<<(pi&7)) == 0 {
		return 0, value.KindInvalid, false
	}
	p := &t.props[pi]
	return rec.slots[p.offset], p.kind, true
}

// Stale reports whether any entity the table's values depend on has moved
// past its captured generation, including entities removed outright.
func (t *Table) Stale(v StaleView) bool {
	for i := range t.snapshot {
		gen, ok := v.Generation(t.snapshot[i].id)
		if !ok || gen != t.snapshot[i].generation {
			return true
		}
	}
	return false
}

// StaleView is the slice of the graph view Stale needs. Both *graph.View
// and *graph.Store satisfy it, so staleness can be checked inside a
// snapshot or against live state.
type StaleView interface {
	Generation(id value.Path) (uint64, bool)
}

// Snapshot returns the captured dependency generations in path order.
func (t *Table) Snapshot() map[value.Path]uint64 {
	out := make(map[value.Path]uint64, len(t.snapshot))
	for _, ge := range t.snapshot {
		out[ge.id] = ge.generation
	}
	return out
}

func (t *Table) finishIndexes() {
	t.propIdx = make(map[string]int, len(t.props))
	for i := range t.props {
		t.propIdx[t.props[i].name] = i
	}
	t.recIdx = make(map[value.Path]int, len(t.records))
	for i := range t.records {
		t.recIdx[t.records[i].id] = i
	}
}

func (t *Table) slotsTotal() int {
	n := 0
	for i := range t.props {
		n += t.props[i].slots
	}
	return n
}
