package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/value"
)

// Scenario defines one composition test: a scene document to build, a
// sequence of mutations to run against it, and the expectations every
// run must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scene is the scene document directory. A relative path resolves
	// against the scenario file's directory (or an explicit base path).
	Scene string `yaml:"scene"`

	// Steps are mutations executed in order after the scene is built.
	// Steps are assumed to succeed; a refused mutation aborts the run.
	Steps []Step `yaml:"steps,omitempty"`

	// Checks validate resolved values, provenance, cache behavior, and
	// committed tiers after the steps have run.
	Checks []Check `yaml:"checks"`
}

// Step is one mutation or probe. Op selects the kind; the other fields
// carry its arguments.
type Step struct {
	// Op is one of the Step* constants.
	Op string `yaml:"op"`

	Entity   string `yaml:"entity,omitempty"`
	Type     string `yaml:"type,omitempty"`     // define
	Property string `yaml:"property,omitempty"` // set_local, clear_local, read
	// Value is the opinion for set_local, decoded against the property's
	// declared kind.
	Value interface{} `yaml:"value,omitempty"`
	Kind  string      `yaml:"kind,omitempty"`   // add_arc, remove_arc
	Target string     `yaml:"target,omitempty"` // add_arc, remove_arc, set_payload_loaded
	Loaded *bool      `yaml:"loaded,omitempty"` // add_arc (payload), set_payload_loaded
	Set     string    `yaml:"set,omitempty"`     // select_variant
	Variant string    `yaml:"variant,omitempty"` // select_variant
	Active  *bool     `yaml:"active,omitempty"`  // set_active

	// Classification signals (classify).
	Distance   float64 `yaml:"distance,omitempty"`
	Importance float64 `yaml:"importance,omitempty"`
	Pressure   float64 `yaml:"pressure,omitempty"`

	// Millis advances the deterministic clock (advance), for dwell tests.
	Millis int64 `yaml:"millis,omitempty"`
}

// Step op constants.
const (
	StepDefine        = "define"
	StepRemove        = "remove"
	StepSetLocal      = "set_local"
	StepClearLocal    = "clear_local"
	StepAddArc        = "add_arc"
	StepRemoveArc     = "remove_arc"
	StepSetPayload    = "set_payload_loaded"
	StepSelectVariant = "select_variant"
	StepSetActive     = "set_active"
	StepRead          = "read"
	StepClassify      = "classify"
	StepAdvance       = "advance"
)

// Check is one expectation. A property check resolves through the cache
// and can assert on the value, the winning source, and whether the read
// was served from cache. A tier check asserts the entity's committed tier.
type Check struct {
	Entity   string `yaml:"entity"`
	Property string `yaml:"property,omitempty"`

	// Value is the expected resolved value, decoded against the
	// property's declared kind. Omit to skip the value comparison.
	Value interface{} `yaml:"value,omitempty"`

	// Source is the expected winning arc kind ("local", "reference",
	// "payload", "inherit", "specialize") or "default".
	Source string `yaml:"source,omitempty"`

	// Author is the entity whose local content held the winning opinion.
	Author string `yaml:"author,omitempty"`

	// Cached asserts whether this read was served from the cache.
	Cached *bool `yaml:"cached,omitempty"`

	// Tier is the expected committed tier for a tier check.
	Tier string `yaml:"tier,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. A relative scene
// path resolves against the scenario file's directory. Returns an error if
// the file is malformed, contains unknown fields (typos), or is missing
// required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative scene path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "check:" vs "checks:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Scene != "" && !filepath.IsAbs(scenario.Scene) && basePath != "" {
		scenario.Scene = filepath.Join(basePath, scenario.Scene)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scene == "" {
		return fmt.Errorf("scene is required")
	}
	if info, err := os.Stat(s.Scene); err != nil || !info.IsDir() {
		return fmt.Errorf("scene directory not found: %s", s.Scene)
	}
	if len(s.Checks) == 0 {
		return fmt.Errorf("checks list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Checks {
		if err := validateCheck(i, &s.Checks[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates one step based on its op.
func validateStep(index int, st *Step) error {
	if st.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}
	need := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("steps[%d] (%s): %s is required", index, st.Op, field)
		}
		return nil
	}

	switch st.Op {
	case StepDefine:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		return need("type", st.Type)
	case StepRemove:
		return need("entity", st.Entity)
	case StepSetLocal:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		if err := need("property", st.Property); err != nil {
			return err
		}
		if st.Value == nil {
			return fmt.Errorf("steps[%d] (%s): value is required", index, st.Op)
		}
		return nil
	case StepClearLocal, StepRead:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		return need("property", st.Property)
	case StepAddArc, StepRemoveArc:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		if err := need("kind", st.Kind); err != nil {
			return err
		}
		if _, err := graph.ParseArcKind(st.Kind); err != nil {
			return fmt.Errorf("steps[%d] (%s): %v", index, st.Op, err)
		}
		return need("target", st.Target)
	case StepSetPayload:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		if err := need("target", st.Target); err != nil {
			return err
		}
		if st.Loaded == nil {
			return fmt.Errorf("steps[%d] (%s): loaded is required", index, st.Op)
		}
		return nil
	case StepSelectVariant:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		if err := need("set", st.Set); err != nil {
			return err
		}
		return need("variant", st.Variant)
	case StepSetActive:
		if err := need("entity", st.Entity); err != nil {
			return err
		}
		if st.Active == nil {
			return fmt.Errorf("steps[%d] (%s): active is required", index, st.Op)
		}
		return nil
	case StepClassify:
		return need("entity", st.Entity)
	case StepAdvance:
		if st.Millis <= 0 {
			return fmt.Errorf("steps[%d] (%s): millis must be positive", index, st.Op)
		}
		return nil
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
}

// validateCheck validates one check.
func validateCheck(index int, c *Check) error {
	if c.Entity == "" {
		return fmt.Errorf("checks[%d]: entity is required", index)
	}
	if _, err := value.NewPath(c.Entity); err != nil {
		return fmt.Errorf("checks[%d]: %v", index, err)
	}

	if c.Property == "" {
		if c.Tier == "" {
			return fmt.Errorf("checks[%d]: property or tier is required", index)
		}
		if c.Value != nil || c.Source != "" || c.Author != "" || c.Cached != nil {
			return fmt.Errorf("checks[%d]: a tier check takes no property expectations", index)
		}
		return nil
	}

	if c.Tier != "" {
		return fmt.Errorf("checks[%d]: tier and property are separate checks", index)
	}
	if c.Value == nil && c.Source == "" && c.Author == "" && c.Cached == nil {
		return fmt.Errorf("checks[%d]: at least one expectation is required", index)
	}
	if c.Source != "" && c.Source != "default" {
		if _, err := graph.ParseArcKind(c.Source); err != nil {
			return fmt.Errorf("checks[%d]: %v", index, err)
		}
	}
	return nil
}
