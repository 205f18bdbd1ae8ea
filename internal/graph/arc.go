package graph

import (
	"fmt"

	"github.com/meshula/primstack/internal/value"
)

// ArcKind identifies a composition arc's strength class. Declaration order
// within one kind is the only ordering inside a strength class.
type ArcKind uint8

const (
	// ArcLocal is the entity's own opinion blocks, including selected
	// variant blocks. It never appears on stored target-bearing arcs; it
	// exists so provenance can name a local win.
	ArcLocal ArcKind = iota
	ArcReference
	ArcPayload
	ArcInherit
	ArcSpecialize
)

// String returns the lower-case arc kind name used in documents and output.
func (k ArcKind) String() string {
	switch k {
	case ArcLocal:
		return "local"
	case ArcReference:
		return "reference"
	case ArcPayload:
		return "payload"
	case ArcInherit:
		return "inherit"
	case ArcSpecialize:
		return "specialize"
	default:
		return "invalid"
	}
}

// ParseArcKind maps a document arc kind name to an ArcKind.
func ParseArcKind(s string) (ArcKind, error) {
	switch s {
	case "local":
		return ArcLocal, nil
	case "reference":
		return ArcReference, nil
	case "payload":
		return ArcPayload, nil
	case "inherit":
		return ArcInherit, nil
	case "specialize":
		return ArcSpecialize, nil
	default:
		return 0, fmt.Errorf("unknown arc kind %q", s)
	}
}

// Strength returns the strength bucket, lower is stronger. Payload shares
// the Reference bucket; its participation is gated by load state, not by a
// strength difference.
func (k ArcKind) Strength() int {
	switch k {
	case ArcLocal:
		return 0
	case ArcReference, ArcPayload:
		return 1
	case ArcInherit:
		return 2
	case ArcSpecialize:
		return 3
	default:
		return 4
	}
}

// targetBearing reports whether the kind is stored as an arc to another
// entity.
func (k ArcKind) targetBearing() bool {
	switch k {
	case ArcReference, ArcPayload, ArcInherit, ArcSpecialize:
		return true
	default:
		return false
	}
}

// Arc is one stored target-bearing arc. Loaded is meaningful only for
// payload arcs; unloaded payloads are skipped during resolution exactly as
// if the arc were absent.
type Arc struct {
	Kind   ArcKind
	Target value.Path
	Loaded bool
}

// Opinion is one authored local entry for a property: either a plain value
// or, for relation properties, a list edit.
type Opinion struct {
	Value  value.Value
	Edit   value.RelationEdit
	IsEdit bool
}

// ValueOpinion wraps a plain value as an opinion.
func ValueOpinion(v value.Value) Opinion {
	return Opinion{Value: v}
}

// EditOpinion wraps a relation list edit as an opinion.
func EditOpinion(e value.RelationEdit) Opinion {
	return Opinion{Edit: e, IsEdit: true}
}

// Resolved returns the effective value of the opinion. List edits are
// evaluated in isolation, within this single authored opinion.
func (o Opinion) Resolved() value.Value {
	if o.IsEdit {
		return o.Edit.Apply()
	}
	return o.Value
}

func (o Opinion) clone() Opinion {
	if o.IsEdit {
		return Opinion{Edit: o.Edit.Clone(), IsEdit: true}
	}
	return o
}

// localBlock is one entry in an entity's ordered local content: either a
// plain opinion block or a reference to a variant set whose selected block
// contributes at this position.
type localBlock struct {
	opinions   map[string]Opinion
	variantSet string
}

func (b localBlock) isVariant() bool { return b.variantSet != "" }

// variantSet is a named, switchable block of local opinions.
type variantSet struct {
	selection string
	variants  map[string]map[string]Opinion
}

type entity struct {
	path     value.Path
	typeName string
	active   bool
	blocks   []localBlock
	sets     map[string]*variantSet
	arcs     []Arc
	gen      uint64
}

// cloneOpinions deep-copies an opinion block so stored state never aliases
// caller maps.
func cloneOpinions(in map[string]Opinion) map[string]Opinion {
	out := make(map[string]Opinion, len(in))
	for k, v := range in {
		out[k] = v.clone()
	}
	return out
}
