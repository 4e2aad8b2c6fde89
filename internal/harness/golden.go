package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/calt/internal/canonical"
)

// TraceSnapshot is the golden form of a scenario run: the session's final
// status and one line per event.
type TraceSnapshot struct {
	ScenarioName  string
	SessionStatus string
	Trace         []TraceEvent
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	lines := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		lines[i] = event.String()
	}
	return map[string]any{
		"scenario":       s.ScenarioName,
		"session_status": s.SessionStatus,
		"trace":          lines,
	}
}

// RunWithGolden executes a scenario, fails the test on any expectation or
// assertion failure, and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName:  scenarioName,
		SessionStatus: string(result.Session.Status),
		Trace:         result.Trace,
	}
	data, err := canonical.MarshalIndent(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
