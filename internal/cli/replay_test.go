package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshula/primstack/internal/compiler"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/journal"
	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// recordJournal builds a live store over the scene's schema with an
// attached journal, runs a short edit script, and returns the database
// path. The replay command rebuilds everything from these edits alone.
func recordJournal(t *testing.T, sceneDir string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "edits.db")

	doc, err := compiler.Load(sceneDir)
	require.NoError(t, err)
	compiled, err := compiler.Compile(doc)
	require.NoError(t, err)
	reg := schema.NewRegistry()
	require.NoError(t, compiler.ApplySchema(compiled, reg))

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	store := graph.NewStore(reg)
	j.Attach(store)

	soldier := value.MustPath("/Classes/Soldier")
	hero := value.MustPath("/World/Hero")
	require.NoError(t, store.Define(soldier, "Creature"))
	require.NoError(t, store.Define(hero, "Creature"))
	require.NoError(t, store.SetLocalValue(soldier, "stats:health", graph.ValueOpinion(value.Float(80))))
	require.NoError(t, store.AddArc(hero, graph.ArcInherit, soldier))

	return dbPath
}

func TestReplayDeterministic(t *testing.T) {
	sceneDir := writeScene(t)
	dbPath := recordJournal(t, sceneDir)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir, "--journal", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Replayed 4 edit(s) into 2 entity(ies), deterministic")
}

func TestReplayJSON(t *testing.T) {
	sceneDir := writeScene(t)
	dbPath := recordJournal(t, sceneDir)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir, "--journal", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(raw, &result))

	assert.Equal(t, 4, result.Edits)
	assert.Equal(t, 2, result.Entities)
	assert.True(t, result.Deterministic)
	assert.Empty(t, result.Mismatches)
}

func TestReplayEmptyJournal(t *testing.T) {
	sceneDir := writeScene(t)
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir, "--journal", dbPath})

	err = cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Replayed 0 edit(s) into 0 entity(ies), deterministic")
}

func TestReplayMissingJournal(t *testing.T) {
	sceneDir := writeScene(t)

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir, "--journal", "/nonexistent/edits.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, buf.String(), "journal not found")
}

func TestReplayMissingScene(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "edits.db")
	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scene", "--journal", dbPath})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
}

func TestReplayRequiresJournalFlag(t *testing.T) {
	sceneDir := writeScene(t)

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal")
}
