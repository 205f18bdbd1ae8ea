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

// writeTestFixtures writes a one-entity scene and a passing scenario that
// references it by relative path, returning both directories.
func writeTestFixtures(t *testing.T) (scenesDir, scenariosDir string) {
	t.Helper()

	scenesDir = t.TempDir()
	sceneDir := filepath.Join(scenesDir, "quarry")
	require.NoError(t, os.MkdirAll(sceneDir, 0755))
	src := `package scene

schema: types: Prop: properties: "core:name": {kind: "string", default: "rock"}
scene: entities: "/Quarry/Boulder": {type: "Prop"}
`
	require.NoError(t, os.WriteFile(filepath.Join(sceneDir, "scene.cue"), []byte(src), 0644))

	scenariosDir = t.TempDir()
	scenario := `name: boulder_default
description: "Schema default wins with no authored opinions"
scene: quarry
checks:
  - entity: /Quarry/Boulder
    property: "core:name"
    value: rock
    source: default
`
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "boulder_default.yaml"), []byte(scenario), 0644))
	return scenesDir, scenariosDir
}

func runTestCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTestCommandPassing(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ boulder_default")
	assert.Contains(t, output, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFailingCheck(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)
	failing := `name: boulder_wrong
description: "Expects a value the scene never authors"
scene: quarry
checks:
  - entity: /Quarry/Boulder
    property: "core:name"
    value: pebble
`
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "boulder_wrong.yaml"), []byte(failing), 0644))

	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 scenario(s) failed")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ boulder_wrong")
	assert.Contains(t, output, `value = "rock", want "pebble"`)
	assert.Contains(t, output, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandLoadError(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "broken.yaml"), []byte("name: [unclosed"), 0644))

	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestTestCommandJSON(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	buf, err := runTestCommand(t, "json", scenesDir, scenariosDir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TestResult
	require.NoError(t, json.Unmarshal(raw, &result))

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "boulder_default", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
}

func TestTestCommandJSONFailure(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)
	failing := `name: boulder_wrong
description: "Expects a value the scene never authors"
scene: quarry
checks:
  - entity: /Quarry/Boulder
    property: "core:name"
    value: pebble
`
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "boulder_wrong.yaml"), []byte(failing), 0644))

	buf, err := runTestCommand(t, "json", scenesDir, scenariosDir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommandFilter(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	// Matching filter runs the scenario.
	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir, "--filter", "boulder_*")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ boulder_default")

	// Non-matching filter runs nothing.
	buf, err = runTestCommand(t, "text", scenesDir, scenariosDir, "--filter", "payload_*")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir, "--update")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ boulder_default (golden updated)")

	goldenPath := filepath.Join(scenariosDir, "golden", "boulder_default.golden")
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario": "boulder_default"`)
	assert.Contains(t, string(data), `"\"rock\""`)

	// A fresh run against the recorded golden passes.
	buf, err = runTestCommand(t, "text", scenesDir, scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ All scenarios passed")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	goldenDir := filepath.Join(scenariosDir, "golden")
	require.NoError(t, os.MkdirAll(goldenDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "boulder_default.golden"), []byte("{}"), 0644))

	buf, err := runTestCommand(t, "text", scenesDir, scenariosDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 scenario(s) failed")
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestTestCommandMissingDirectories(t *testing.T) {
	scenesDir, scenariosDir := writeTestFixtures(t)

	_, err := runTestCommand(t, "text", "/nonexistent/scenes", scenariosDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")

	_, err = runTestCommand(t, "text", scenesDir, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
}
