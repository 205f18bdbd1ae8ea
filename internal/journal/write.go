package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/value"
)

// Append records one edit. It implements graph.Sink, so it is called
// synchronously inside every store mutation, before the mutation applies;
// an error here aborts the mutation.
func (j *Journal) Append(e graph.Edit) error {
	return j.AppendContext(context.Background(), e)
}

// AppendContext is Append with a caller-supplied context.
// Uses ON CONFLICT(edit_id) DO NOTHING for idempotency - a retried append
// after an ambiguous failure computes the same chained ID and is silently
// ignored. Other constraint violations still return errors.
func (j *Journal) AppendContext(ctx context.Context, e graph.Edit) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Edits applied by Replay are already on disk.
	if j.replaying {
		return nil
	}

	params, err := editParams(e)
	if err != nil {
		return fmt.Errorf("append edit: %w", err)
	}
	payload, err := value.Canonical(params)
	if err != nil {
		return fmt.Errorf("append edit: %w", err)
	}
	id, err := editID(j.lastID, e, params)
	if err != nil {
		return fmt.Errorf("append edit: %w", err)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO edits
		(edit_id, op, entity, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(edit_id) DO NOTHING
	`,
		id,
		string(e.Op),
		string(e.Entity),
		string(payload),
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append edit: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append edit: %w", err)
	}
	if rows == 0 {
		j.logger.Debug("journal ignored duplicate edit", "op", e.Op, "entity", e.Entity)
	}

	j.lastID = id
	return nil
}

// BakeManifest is one recorded flatten build.
type BakeManifest struct {
	BuildID     string
	Tier        lod.Tier
	EntityCount int
	TableSHA    string
	CreatedAt   time.Time
}

// RecordBake inserts a bake manifest row. The journal stamps CreatedAt;
// a manifest-supplied value is ignored. Re-recording a build ID is a
// silent no-op.
func (j *Journal) RecordBake(ctx context.Context, m BakeManifest) error {
	if m.BuildID == "" {
		return fmt.Errorf("record bake: empty build id")
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO bakes
		(build_id, tier, entity_count, table_sha, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(build_id) DO NOTHING
	`,
		m.BuildID,
		int(m.Tier),
		m.EntityCount,
		m.TableSHA,
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record bake: %w", err)
	}
	return nil
}
