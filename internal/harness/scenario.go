package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tickmirror/internal/engine"
	"github.com/roach88/tickmirror/internal/pipeline"
)

// Scenario defines a tick scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed scheduler run ID. Default: "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Ticks is the number of ticks to run. Must be positive.
	Ticks uint64 `yaml:"ticks"`

	// Pipeline is an optional pipeline file. Relative paths are resolved
	// against the scenario file. Default: the builtin pipeline.
	Pipeline string `yaml:"pipeline,omitempty"`

	// FailurePolicy is "halt" (default) or "skip".
	FailurePolicy string `yaml:"failure_policy,omitempty"`

	// Bounds overrides the ball_collision rectangle.
	Bounds *pipeline.Bounds `yaml:"bounds,omitempty"`

	// Entities seed the source database.
	Entities []Entity `yaml:"entities"`

	// Assertions validate the trace and the final mirror state.
	Assertions []Assertion `yaml:"assertions"`
}

// Entity is one body in the source database.
type Entity struct {
	ID int64   `yaml:"id"`
	VX float64 `yaml:"vx"`
	VY float64 `yaml:"vy"`
	PX float64 `yaml:"px"`
	PY float64 `yaml:"py"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Step names the step (trace_count, halted_at).
	Step string `yaml:"step,omitempty"`

	// Steps is the expected per-tick step order (step_order).
	Steps []string `yaml:"steps,omitempty"`

	// Tick restricts trace_count to one tick, and is the expected halt tick
	// for halted_at.
	Tick uint64 `yaml:"tick,omitempty"`

	// Count is the expected number of emitted rows (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the mirror table (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects exactly one row (final_state). All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertStepOrder  = "step_order"
	AssertTraceCount = "trace_count"
	AssertFinalState = "final_state"
	AssertHaltedAt   = "halted_at"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Unknown fields are rejected so typos like "assertion:" fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Pipeline != "" && !filepath.IsAbs(scenario.Pipeline) {
		scenario.Pipeline = filepath.Join(filepath.Dir(path), scenario.Pipeline)
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
	if s.Ticks == 0 {
		return fmt.Errorf("ticks must be positive")
	}
	if len(s.Entities) == 0 {
		return fmt.Errorf("entities list is required and must be non-empty")
	}

	seen := make(map[int64]bool, len(s.Entities))
	for i, e := range s.Entities {
		if seen[e.ID] {
			return fmt.Errorf("entities[%d]: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = true
	}

	if s.FailurePolicy != "" {
		if _, err := engine.ParseFailurePolicy(s.FailurePolicy); err != nil {
			return err
		}
	}
	if s.Bounds != nil {
		if err := s.Bounds.Validate(); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertStepOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("step_order requires steps")
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("trace_count requires step")
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("final_state requires table")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires expect")
		}
	case AssertHaltedAt:
		if a.Tick == 0 {
			return fmt.Errorf("halted_at requires tick")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// bounds returns the scenario bounds or the defaults.
func (s *Scenario) bounds() pipeline.Bounds {
	if s.Bounds != nil {
		return *s.Bounds
	}
	return pipeline.DefaultBounds()
}

// steps resolves the pipeline the scenario runs.
func (s *Scenario) steps() ([]pipeline.Step, error) {
	if s.Pipeline == "" {
		return pipeline.DefaultSteps(s.bounds()), nil
	}
	return pipeline.LoadFile(s.Pipeline, s.bounds())
}

func (s *Scenario) policy() engine.FailurePolicy {
	p, err := engine.ParseFailurePolicy(s.FailurePolicy)
	if err != nil {
		return engine.PolicyHalt
	}
	return p
}
