package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/value"
)

// Record is one journal row with its decoded edit.
type Record struct {
	Seq      int64
	EditID   string
	Edit     graph.Edit
	Recorded time.Time
}

// Edits returns every recorded edit in seq order, decoded. Seq order is the
// replay order; it is the order mutations were applied.
func (j *Journal) Edits(ctx context.Context) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, edit_id, op, entity, payload, recorded_at
		FROM edits
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read edits: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// History returns the recorded edits whose root entity is the given path,
// in seq order. Edits on other entities that merely target this path (arcs,
// relation opinions) are not included.
func (j *Journal) History(ctx context.Context, entity value.Path) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, edit_id, op, entity, payload, recorded_at
		FROM edits
		WHERE entity = ?
		ORDER BY seq ASC
	`, string(entity))
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec        Record
			op         string
			entity     string
			payload    string
			recordedAt string
		)
		if err := rows.Scan(&rec.Seq, &rec.EditID, &op, &entity, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		edit, err := decodeEdit(op, entity, payload)
		if err != nil {
			return nil, fmt.Errorf("edit %d: %w", rec.Seq, err)
		}
		rec.Edit = edit
		if rec.Recorded, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("edit %d: recorded_at: %w", rec.Seq, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read edits: %w", err)
	}
	return out, nil
}

// Bakes returns every recorded bake manifest in record order.
func (j *Journal) Bakes(ctx context.Context) ([]BakeManifest, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT build_id, tier, entity_count, table_sha, created_at
		FROM bakes
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read bakes: %w", err)
	}
	defer rows.Close()

	var out []BakeManifest
	for rows.Next() {
		var (
			m         BakeManifest
			tier      int
			createdAt string
		)
		if err := rows.Scan(&m.BuildID, &tier, &m.EntityCount, &m.TableSHA, &createdAt); err != nil {
			return nil, fmt.Errorf("scan bake: %w", err)
		}
		m.Tier = lod.Tier(tier)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("bake %s: created_at: %w", m.BuildID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read bakes: %w", err)
	}
	return out, nil
}
