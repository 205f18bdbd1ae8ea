package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meshula/primstack/internal/graph"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added entity index on edits
const currentSchemaVersion = 1

// Journal is the durable edit log. It implements graph.Sink, so attaching
// it to a store records every successful mutation before the mutation
// returns.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// mu guards the edit ID chain. Appends are already serialized by the
	// store's write lock; the mutex keeps direct Append callers safe too.
	mu        sync.Mutex
	lastID    string
	replaying bool
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithNow sets the clock used for recorded_at stamps. Tests inject a
// deterministic clock here; replay never reads the stamps.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open creates or opens a journal database at path, applying pragmas
// (WAL, synchronous=NORMAL, busy_timeout, foreign_keys) and any pending
// schema migrations. Opening an already-migrated journal is a no-op
// beyond the connection setup.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a second pooled connection only buys
	// SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	// Load the chain tail so new appends continue the existing ID chain.
	if err := j.loadLastID(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Attach registers the journal as the store's edit sink. Attach after
// Replay when bootstrapping from an existing journal; edits applied during
// Replay are already on disk and are not re-recorded.
func (j *Journal) Attach(s *graph.Store) {
	s.AttachJournal(j)
}

func (j *Journal) loadLastID() error {
	var id string
	err := j.db.QueryRow(`
		SELECT edit_id FROM edits
		ORDER BY seq DESC LIMIT 1
	`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load journal tail: %w", err)
	}
	j.lastID = id
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema executes the embedded schema (all CREATE statements are
// IF NOT EXISTS) and then brings user_version up to date.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations walks user_version up to currentSchemaVersion, one
// migration at a time.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the entity index to journals created before v1; new
// journals get it from schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_edits_entity
		ON edits(entity)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma took effect. Test hook.
func (j *Journal) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := j.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
