package harness

import (
	"fmt"

	"github.com/roach88/calt/internal/domain"
)

// TraceEvent is one recorded session event, reduced to the fields that are
// stable across runs.
type TraceEvent struct {
	Seq     int64  `json:"seq"` // 1-based position within the session
	Type    string `json:"type"`
	Summary string `json:"summary"`
	StepID  string `json:"step_id,omitempty"`
}

// String renders the event as one golden trace line.
func (e TraceEvent) String() string {
	return fmt.Sprintf("%d %s: %s", e.Seq, e.Type, e.Summary)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every action matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds the session's events in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Session is the session as it stood after the last action.
	Session domain.Session `json:"session"`

	// State holds the rows final_state assertions query, keyed by table:
	// sessions, steps, runs and files.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a recorded event to the trace, renumbering it within
// the session.
func (r *Result) AddEvent(ev domain.Event) {
	step, _ := ev.Payload["step_id"].(string)
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		Type:    ev.Type,
		Summary: ev.Summary,
		StepID:  step,
	})
}
