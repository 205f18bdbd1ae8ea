package graph

import "github.com/meshula/primstack/internal/value"

// EditOp names a journaled mutation.
type EditOp string

const (
	EditDefine              EditOp = "define"
	EditRemove              EditOp = "remove"
	EditSetActive           EditOp = "set_active"
	EditAddArc              EditOp = "add_arc"
	EditRemoveArc           EditOp = "remove_arc"
	EditSetPayloadLoaded    EditOp = "set_payload_loaded"
	EditSetLocal            EditOp = "set_local"
	EditClearLocal          EditOp = "clear_local"
	EditAppendBlock         EditOp = "append_block"
	EditDefineVariantSet    EditOp = "define_variant_set"
	EditSetVariantSelection EditOp = "set_variant_selection"
)

// Edit is one journaled mutation record. Fields beyond Op and Entity are
// populated per operation; the journal serializes them canonically and
// Replay feeds them back through the public mutation API.
type Edit struct {
	Op       EditOp
	Entity   value.Path
	Type     string
	Kind     ArcKind
	Target   value.Path
	Property string
	Opinion  *Opinion
	Opinions map[string]Opinion
	Set      string
	Variant  string
	Variants map[string]map[string]Opinion
	Active   bool
	Loaded   bool
}

// Sink receives one Edit per successful mutation, synchronously, before the
// mutation applies. An Append error aborts the mutation with no state
// change.
type Sink interface {
	Append(e Edit) error
}
