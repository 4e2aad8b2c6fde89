package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/calt/internal/domain"
)

// Scenario is one end-to-end session: a sequence of client actions against
// a fresh engine, with expectations on each action and assertions on the
// resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session configures the session the actions run against.
	Session SessionSetup `yaml:"session"`

	// Isolated is what the isolation probe reports.
	Isolated bool `yaml:"isolated,omitempty"`

	// Files seeds the session workspace before the first action.
	// Keys are workspace-relative paths.
	Files map[string]string `yaml:"files,omitempty"`

	// Actions run in order.
	Actions []Action `yaml:"actions"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// SessionSetup holds the create-session settings. Empty values take the
// engine defaults.
type SessionSetup struct {
	Goal          string               `yaml:"goal"`
	Mode          domain.Mode          `yaml:"mode,omitempty"`
	SafetyProfile domain.SafetyProfile `yaml:"safety_profile,omitempty"`
}

// Action is one client call.
type Action struct {
	// Do names the call: import, approve_plan, approve_step, approve_all,
	// skip, execute or stop.
	Do string `yaml:"do"`

	// Plan is an inline plan document (import).
	Plan string `yaml:"plan,omitempty"`

	// PlanFile names a plan document relative to the scenario file (import).
	PlanFile string `yaml:"plan_file,omitempty"`

	// Version selects the plan version to approve; 0 means latest.
	Version int `yaml:"version,omitempty"`

	// Step is the step ID (approve_step, skip, execute).
	Step string `yaml:"step,omitempty"`

	// Confirm sets confirm_high_risk (execute).
	Confirm bool `yaml:"confirm,omitempty"`

	// Expect is the expected outcome. Nil means the call must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Action names.
const (
	DoImport      = "import"
	DoApprovePlan = "approve_plan"
	DoApproveStep = "approve_step"
	DoApproveAll  = "approve_all"
	DoSkip        = "skip"
	DoExecute     = "execute"
	DoStop        = "stop"
)

// ExpectClause specifies the expected outcome of an action.
type ExpectClause struct {
	// Error is the expected error code. Empty means success.
	Error domain.Code `yaml:"error,omitempty"`

	// Run is the expected status of the recorded run (execute only).
	Run domain.RunStatus `yaml:"run,omitempty"`

	// Session is the expected session status after the action.
	Session domain.SessionStatus `yaml:"session,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of this type (and step, summary) exists
	// - "trace_order": event types appear in order
	// - "trace_count": an event type appears exactly N times
	// - "final_state": a row of a state table has the expected values
	Type string `yaml:"type"`

	// Event is the event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Step narrows trace_contains and trace_count to one step.
	Step string `yaml:"step,omitempty"`

	// Summary is a substring the event summary must contain (trace_contains).
	Summary string `yaml:"summary,omitempty"`

	// Table is sessions, steps, runs or files (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects rows (final_state). All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match: only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected event type order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// State tables.
const (
	TableSessions = "sessions"
	TableSteps    = "steps"
	TableRuns     = "runs"
	TableFiles    = "files"
)

// LoadScenario reads and parses a scenario YAML file. plan_file references
// are read relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, a := range scenario.Actions {
		if a.PlanFile == "" {
			continue
		}
		p := a.PlanFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		doc, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: read plan file: %w", i, err)
		}
		scenario.Actions[i].Plan = string(doc)
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

	if len(s.Actions) == 0 {
		return fmt.Errorf("actions list is required and must be non-empty")
	}

	for i, a := range s.Actions {
		if err := validateAction(i, a); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateAction(index int, a Action) error {
	switch a.Do {
	case DoImport:
		if a.Plan == "" {
			return fmt.Errorf("actions[%d]: plan or plan_file is required for import", index)
		}
	case DoApproveStep, DoSkip, DoExecute:
		if a.Step == "" {
			return fmt.Errorf("actions[%d]: step is required for %s", index, a.Do)
		}
	case DoApprovePlan, DoApproveAll, DoStop:
	case "":
		return fmt.Errorf("actions[%d]: do is required", index)
	default:
		return fmt.Errorf("actions[%d]: unknown action %q", index, a.Do)
	}
	if a.Version < 0 {
		return fmt.Errorf("actions[%d]: version must be non-negative", index)
	}
	if a.Expect != nil && a.Expect.Run != "" && a.Do != DoExecute {
		return fmt.Errorf("actions[%d].expect: run is only valid for execute", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableSessions, TableSteps, TableRuns, TableFiles:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
