package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/lod"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// createTestJournal opens a journal in a temp directory.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// createTestRegistry builds a registry with one creature type covering
// every value kind the journal has to round-trip.
func createTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	err := reg.RegisterComponent(schema.Component{
		Name: "core",
		Properties: []schema.PropertySpec{
			{Name: "core:name", Kind: value.KindString, Default: value.String("unnamed")},
			{Name: "core:visible", Kind: value.KindBool, Default: value.Bool(true)},
			{Name: "core:level", Kind: value.KindInt, Default: value.Int(1)},
			{Name: "core:health", Kind: value.KindFloat, Default: value.Float(100)},
			{Name: "core:scale", Kind: value.KindVec3, Default: value.Vec3{1, 1, 1}},
			{Name: "core:material", Kind: value.KindToken, Default: value.Token("default")},
			{Name: "core:params", Kind: value.KindMap, Default: value.Map{}},
			{Name: "core:targets", Kind: value.KindRelation, Default: value.Relation{}},
		},
	})
	if err != nil {
		t.Fatalf("RegisterComponent() failed: %v", err)
	}
	err = reg.RegisterType(schema.Type{Name: "Creature", Components: []string{"core"}})
	if err != nil {
		t.Fatalf("RegisterType() failed: %v", err)
	}
	return reg
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer j.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		j.Close()
	}

	j, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer j.Close()

	// Verify schema is intact
	for _, table := range []string{"edits", "bakes"} {
		var name string
		err := j.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	j := createTestJournal(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, want := range checks {
		if err := j.verifyPragma(name, want); err != nil {
			t.Errorf("pragma check failed: %v", err)
		}
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	j := createTestJournal(t)

	var version int
	if err := j.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestAppend_RecordsMutationsInOrder(t *testing.T) {
	j := createTestJournal(t)
	reg := createTestRegistry(t)
	store := graph.NewStore(reg)
	j.Attach(store)

	if err := store.Define(value.MustPath("/World/Hero"), "Creature"); err != nil {
		t.Fatalf("Define() failed: %v", err)
	}
	if err := store.SetLocalValue(value.MustPath("/World/Hero"), "core:health", graph.ValueOpinion(value.Float(50))); err != nil {
		t.Fatalf("SetLocalValue() failed: %v", err)
	}
	if err := store.SetActive(value.MustPath("/World/Hero"), false); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}

	records, err := j.Edits(context.Background())
	if err != nil {
		t.Fatalf("Edits() failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	wantOps := []graph.EditOp{graph.EditDefine, graph.EditSetLocal, graph.EditSetActive}
	for i, rec := range records {
		if rec.Edit.Op != wantOps[i] {
			t.Errorf("records[%d].Op = %q, want %q", i, rec.Edit.Op, wantOps[i])
		}
		if rec.Seq != int64(i+1) {
			t.Errorf("records[%d].Seq = %d, want %d", i, rec.Seq, i+1)
		}
		if rec.Edit.Entity != value.MustPath("/World/Hero") {
			t.Errorf("records[%d].Entity = %q, want /World/Hero", i, rec.Edit.Entity)
		}
		if len(rec.EditID) != 64 {
			t.Errorf("records[%d].EditID length = %d, want 64 hex chars", i, len(rec.EditID))
		}
	}
}

func TestAppend_SkipsNoopMutations(t *testing.T) {
	j := createTestJournal(t)
	reg := createTestRegistry(t)
	store := graph.NewStore(reg)
	j.Attach(store)

	hero := value.MustPath("/World/Hero")
	if err := store.Define(hero, "Creature"); err != nil {
		t.Fatalf("Define() failed: %v", err)
	}
	// Setting the current activation state bumps nothing and journals nothing.
	if err := store.SetActive(hero, true); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	if err := store.ClearLocalValue(hero, "core:health"); err != nil {
		t.Fatalf("ClearLocalValue() failed: %v", err)
	}

	records, err := j.Edits(context.Background())
	if err != nil {
		t.Fatalf("Edits() failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1 (no-ops must not be journaled)", len(records))
	}
}

func TestAppend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	reg := createTestRegistry(t)

	j1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	store := graph.NewStore(reg)
	j1.Attach(store)
	if err := store.Define(value.MustPath("/World/Hero"), "Creature"); err != nil {
		t.Fatalf("Define() failed: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j2.Close()

	store2 := graph.NewStore(reg)
	j2.Attach(store2)
	if err := store2.Define(value.MustPath("/World/Crate"), "Creature"); err != nil {
		t.Fatalf("Define() after reopen failed: %v", err)
	}

	records, err := j2.Edits(context.Background())
	if err != nil {
		t.Fatalf("Edits() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].EditID == records[1].EditID {
		t.Error("edit IDs collided across reopen")
	}
	if records[1].Seq <= records[0].Seq {
		t.Errorf("seq did not advance across reopen: %d then %d", records[0].Seq, records[1].Seq)
	}
}

func TestAppend_DuplicateChainEntryIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// Two handles on the same file, both starting at the empty chain,
	// append the same edit. The second insert computes the same chained ID
	// and must be conflict-ignored.
	j1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	defer j1.Close()
	j2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer j2.Close()

	edit := graph.Edit{Op: graph.EditDefine, Entity: value.MustPath("/World/Hero"), Type: "Creature"}
	if err := j1.Append(edit); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	if err := j2.Append(edit); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}

	records, err := j1.Edits(context.Background())
	if err != nil {
		t.Fatalf("Edits() failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1 (duplicate must be ignored)", len(records))
	}
}

func TestHistory_FiltersByEntity(t *testing.T) {
	j := createTestJournal(t)
	reg := createTestRegistry(t)
	store := graph.NewStore(reg)
	j.Attach(store)

	hero := value.MustPath("/World/Hero")
	crate := value.MustPath("/World/Crate")
	if err := store.Define(hero, "Creature"); err != nil {
		t.Fatalf("Define(hero) failed: %v", err)
	}
	if err := store.Define(crate, "Creature"); err != nil {
		t.Fatalf("Define(crate) failed: %v", err)
	}
	if err := store.SetLocalValue(hero, "core:level", graph.ValueOpinion(value.Int(3))); err != nil {
		t.Fatalf("SetLocalValue() failed: %v", err)
	}

	records, err := j.History(context.Background(), hero)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	for i, rec := range records {
		if rec.Edit.Entity != hero {
			t.Errorf("records[%d].Entity = %q, want %q", i, rec.Edit.Entity, hero)
		}
	}
}

func TestRecordBake_StoresManifest(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	m := BakeManifest{
		BuildID:     "build-1",
		Tier:        lod.TierMid,
		EntityCount: 12,
		TableSHA:    "abc123",
	}
	if err := j.RecordBake(ctx, m); err != nil {
		t.Fatalf("RecordBake() failed: %v", err)
	}
	// Same build ID again is a silent no-op.
	if err := j.RecordBake(ctx, m); err != nil {
		t.Fatalf("second RecordBake() failed: %v", err)
	}
	if err := j.RecordBake(ctx, BakeManifest{BuildID: "build-2", Tier: lod.TierNear, EntityCount: 3, TableSHA: "def456"}); err != nil {
		t.Fatalf("third RecordBake() failed: %v", err)
	}

	bakes, err := j.Bakes(ctx)
	if err != nil {
		t.Fatalf("Bakes() failed: %v", err)
	}
	if len(bakes) != 2 {
		t.Fatalf("len(bakes) = %d, want 2", len(bakes))
	}
	if bakes[0].BuildID != "build-1" || bakes[1].BuildID != "build-2" {
		t.Errorf("bake order = %q, %q, want build-1, build-2", bakes[0].BuildID, bakes[1].BuildID)
	}
	if bakes[0].Tier != lod.TierMid {
		t.Errorf("bakes[0].Tier = %v, want %v", bakes[0].Tier, lod.TierMid)
	}
	if bakes[0].EntityCount != 12 {
		t.Errorf("bakes[0].EntityCount = %d, want 12", bakes[0].EntityCount)
	}
	if bakes[0].TableSHA != "abc123" {
		t.Errorf("bakes[0].TableSHA = %q, want abc123", bakes[0].TableSHA)
	}
	if bakes[0].CreatedAt.IsZero() {
		t.Error("bakes[0].CreatedAt is zero")
	}
}

func TestRecordBake_RejectsEmptyBuildID(t *testing.T) {
	j := createTestJournal(t)
	err := j.RecordBake(context.Background(), BakeManifest{Tier: lod.TierNear})
	if err == nil {
		t.Error("expected error for empty build id, got nil")
	}
}

func TestAppend_FailedSinkAbortsMutation(t *testing.T) {
	j := createTestJournal(t)
	reg := createTestRegistry(t)
	store := graph.NewStore(reg)
	j.Attach(store)

	// Closing the database makes the next append fail; the mutation must
	// abort without defining the entity.
	if err := j.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	err := store.Define(value.MustPath("/World/Hero"), "Creature")
	if err == nil {
		t.Fatal("Define() succeeded with a dead journal")
	}
	if _, defined := store.Generation(value.MustPath("/World/Hero")); defined {
		t.Error("entity was defined despite journal failure")
	}
}
