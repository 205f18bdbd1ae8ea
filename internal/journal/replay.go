package journal

import (
	"context"
	"fmt"

	"github.com/meshula/primstack/internal/graph"
)

// Replay applies every recorded edit to the store in seq order, through the
// same public mutation API that produced them. It returns the number of
// edits applied; on failure the error names the seq of the edit that
// refused to apply, and the store keeps the state of every edit before it.
//
// Replaying into a store this journal is attached to is safe: appends are
// suppressed for the duration, since the replayed edits are already on
// disk.
func (j *Journal) Replay(ctx context.Context, store *graph.Store) (int, error) {
	records, err := j.Edits(ctx)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	j.setReplaying(true)
	defer j.setReplaying(false)

	applied := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return applied, fmt.Errorf("replay: %w", err)
		}
		if err := applyEdit(store, rec.Edit); err != nil {
			return applied, fmt.Errorf("replay edit %d (%s %s): %w", rec.Seq, rec.Edit.Op, rec.Edit.Entity, err)
		}
		applied++
	}

	j.logger.Info("journal replayed", "edits", applied)
	return applied, nil
}

func (j *Journal) setReplaying(on bool) {
	j.mu.Lock()
	j.replaying = on
	j.mu.Unlock()
}

// applyEdit dispatches one decoded edit to the store mutation it records.
func applyEdit(s *graph.Store, e graph.Edit) error {
	switch e.Op {
	case graph.EditDefine:
		return s.Define(e.Entity, e.Type)
	case graph.EditRemove:
		return s.Remove(e.Entity)
	case graph.EditSetActive:
		return s.SetActive(e.Entity, e.Active)
	case graph.EditAddArc:
		return s.AddArc(e.Entity, e.Kind, e.Target, graph.Loaded(e.Loaded))
	case graph.EditRemoveArc:
		return s.RemoveArc(e.Entity, e.Kind, e.Target)
	case graph.EditSetPayloadLoaded:
		return s.SetPayloadLoaded(e.Entity, e.Target, e.Loaded)
	case graph.EditSetLocal:
		if e.Opinion == nil {
			return fmt.Errorf("set_local edit carries no opinion")
		}
		return s.SetLocalValue(e.Entity, e.Property, *e.Opinion)
	case graph.EditClearLocal:
		return s.ClearLocalValue(e.Entity, e.Property)
	case graph.EditAppendBlock:
		return s.AppendLocalBlock(e.Entity, e.Opinions)
	case graph.EditDefineVariantSet:
		return s.DefineVariantSet(e.Entity, e.Set, e.Variants, e.Variant)
	case graph.EditSetVariantSelection:
		return s.SetVariantSelection(e.Entity, e.Set, e.Variant)
	default:
		return fmt.Errorf("unknown edit op %q", e.Op)
	}
}
