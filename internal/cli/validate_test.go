package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScene writes a small valid scene document and returns its directory.
// Two entities: a class carrying an armor-style stat and a hero inheriting
// from it with a local name.
func writeScene(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := `package scene

schema: {
	components: stats: properties: {
		"stats:health": {kind: "float", default: 100.0}
	}
	types: Creature: {
		components: ["stats"]
		properties: "core:name": {kind: "string", default: "creature"}
	}
}

scene: entities: {
	"/Classes/Soldier": {
		type: "Creature"
		local: {"stats:health": 80.0}
	}
	"/World/Hero": {
		type: "Creature"
		local: {"core:name": "hero"}
		inherits: ["/Classes/Soldier"]
	}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.cue"), []byte(src), 0644))
	return dir
}

func writeSceneFile(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.cue"), []byte(src), 0644))
	return dir
}

func TestValidateValidScene(t *testing.T) {
	sceneDir := writeScene(t)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Scene valid")
	assert.Contains(t, buf.String(), "2 entity(ies)")
}

func TestValidateValidSceneJSON(t *testing.T) {
	sceneDir := writeScene(t)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/directory/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005") // ErrCodeNotFound
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestValidateUndeclaredProperty(t *testing.T) {
	sceneDir := writeSceneFile(t, `package scene

schema: types: Creature: properties: "core:name": {kind: "string", default: "x"}

scene: entities: "/World/Hero": {
	type: "Creature"
	local: {"stats:mana": 5.0}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, buf.String(), "Validation failed")
	assert.Contains(t, buf.String(), "stats:mana")
}

func TestValidateReportsEveryCycle(t *testing.T) {
	sceneDir := writeSceneFile(t, `package scene

schema: types: Prop: properties: "core:name": {kind: "string", default: "x"}

scene: entities: {
	"/World/A": {type: "Prop", references: ["/World/B"]}
	"/World/B": {type: "Prop", references: ["/World/A"]}
	"/World/C": {type: "Prop", inherits: ["/World/D"]}
	"/World/D": {type: "Prop", inherits: ["/World/C"]}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with 2 issue(s)")

	// Both cycles are reported in one run, not just the first.
	output := buf.String()
	assert.Contains(t, output, "E003")
	assert.Contains(t, output, "/World/A")
	assert.Contains(t, output, "/World/C")
}

func TestValidateInvalidSceneJSON(t *testing.T) {
	sceneDir := writeSceneFile(t, `package scene

schema: types: Creature: properties: "core:name": {kind: "string", default: "x"}

scene: entities: "/World/Hero": {
	type: "Ghost"
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
}

func TestValidateVerboseOutput(t *testing.T) {
	sceneDir := writeScene(t)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(stdoutBuf)
	cmd.SetErr(stderrBuf) // Verbose output goes to stderr
	cmd.SetArgs([]string{sceneDir})

	err := cmd.Execute()
	require.NoError(t, err)

	verboseOutput := stderrBuf.String()
	assert.Contains(t, verboseOutput, "Loaded 1 CUE file(s)")
	assert.Contains(t, verboseOutput, "Compiled")
}
