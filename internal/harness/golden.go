package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a scenario run: the scenario
// name and every trace event, serialized as indented JSON.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// MarshalTrace renders the golden-file form of a run. The CLI test command
// and the goldie assertions both compare against this encoding.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{Scenario: name, Trace: result.Trace}
	return json.MarshalIndent(&snapshot, "", "  ")
}

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already-run result's trace against the named
// golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := MarshalTrace(name, result)
	if err != nil {
		t.Fatalf("failed to marshal trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
