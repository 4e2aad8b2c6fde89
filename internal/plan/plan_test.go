package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calt/internal/domain"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func issuesOf(t *testing.T, err error) []Issue {
	t.Helper()
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.CodeInvalidPlan), "code: %s", domain.CodeOf(err))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	return ve.Issues
}

func TestParse_SampleYAML(t *testing.T) {
	doc, err := Parse(readFixture(t, "sample_plan.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "Tidy release notes", doc.Title)
	require.Len(t, doc.Steps, 3)
	assert.Equal(t, "read_notes", doc.Steps[0].ID)
	assert.Equal(t, domain.VerifyExpr, doc.Steps[0].Verification.Kind)
	assert.Equal(t, "${steps.preview_fix.output}", doc.Steps[2].Inputs["preview"])
	assert.Empty(t, Warnings(doc))
}

func TestParse_SampleJSON(t *testing.T) {
	doc, err := Parse(readFixture(t, "sample_plan.json"))
	require.NoError(t, err)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, "list_dir", doc.Steps[0].Tool)
	assert.Equal(t, map[string]any{"path": "."}, doc.Steps[0].Inputs)
	assert.Equal(t, 30, doc.Steps[0].TimeoutSec)
}

func TestParse_NormalizesNumbers(t *testing.T) {
	doc, err := Parse([]byte(`
steps:
  - id: a
    title: a
    tool: run_shell_readonly
    inputs: {command: ls, timeout_sec: 5, nested: {n: 2}}
`))
	require.NoError(t, err)
	assert.Equal(t, float64(5), doc.Steps[0].Inputs["timeout_sec"])
	assert.Equal(t, map[string]any{"n": float64(2)}, doc.Steps[0].Inputs["nested"])
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]struct {
		doc   string
		field string
	}{
		"no steps":          {"title: x\nsteps: []\n", "steps"},
		"unknown field":     {"steps:\n  - {id: a, title: a, tool: t, colour: red}\n", "steps.0.colour"},
		"bad id":            {"steps:\n  - {id: 'a b', title: a, tool: t}\n", "steps.0.id"},
		"timeout too large": {"steps:\n  - {id: a, title: a, tool: t, timeout_sec: 121}\n", "steps.0.timeout_sec"},
		"timeout zero":      {"steps:\n  - {id: a, title: a, tool: t, timeout_sec: 0}\n", "steps.0.timeout_sec"},
		"bad risk":          {"steps:\n  - {id: a, title: a, tool: t, risk: extreme}\n", "steps.0.risk"},
		"missing tool":      {"steps:\n  - {id: a, title: a}\n", "steps.0.tool"},
		"bad version":       {"version: 0\nsteps:\n  - {id: a, title: a, tool: t}\n", "version"},
		"duplicate ids":     {"steps:\n  - {id: a, title: a, tool: t}\n  - {id: a, title: b, tool: t}\n", "steps.1.id"},
		"expr without text": {"steps:\n  - {id: a, title: a, tool: t, verification: {kind: expr}}\n", "steps.0.verification"},
		"expr not bool":     {"steps:\n  - {id: a, title: a, tool: t, verification: {kind: expr, expression: '1 + 1'}}\n", "steps.0.verification"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			issues := issuesOf(t, err)
			var fields []string
			for _, is := range issues {
				fields = append(fields, is.Field)
			}
			assert.Contains(t, fields, tt.field, "issues: %v", issues)
		})
	}
}

func TestParse_NotYAML(t *testing.T) {
	_, err := Parse([]byte("steps: [unterminated"))
	assert.True(t, domain.Is(err, domain.CodeInvalidPlan))

	_, err = Parse(nil)
	assert.True(t, domain.Is(err, domain.CodeInvalidPlan))
}

func TestWarnings(t *testing.T) {
	doc := Document{Steps: []Step{
		{ID: "a", Inputs: map[string]any{"x": "${steps.b.output}"}},
		{ID: "b", Inputs: map[string]any{"y": "${steps.ghost.output.z}", "z": "${steps.a.output}"}},
	}}
	got := Warnings(doc)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], `"a" references step "b"`)
	assert.Contains(t, got[1], `unknown step "ghost"`)
}

func TestDocument_Plan(t *testing.T) {
	doc, err := Parse(readFixture(t, "sample_plan.yaml"))
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	riskOf := func(tool string) domain.RiskLevel {
		if tool == "write_file_preview" {
			return domain.RiskLow
		}
		return ""
	}
	p := doc.Plan("s1", 2, at, riskOf)

	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "Tidy release notes", p.Title)
	require.Len(t, p.Steps, 3)
	for i, st := range p.Steps {
		assert.Equal(t, i+1, st.Position)
		assert.Equal(t, domain.StepPending, st.Status)
		assert.Equal(t, "s1", st.SessionID)
		assert.Equal(t, 2, st.PlanVersion)
	}
	assert.Equal(t, domain.RiskLow, p.Steps[1].Risk, "risk falls back to the tool's risk")
	assert.Equal(t, domain.RiskHigh, p.Steps[2].Risk)
	assert.Equal(t, 10, p.Steps[1].TimeoutSec)
	assert.Equal(t, DefaultTimeoutSec, p.Steps[2].TimeoutSec)
	assert.Equal(t, domain.VerifyNone, p.Steps[1].Verification.Kind)
}

func TestDocument_PlanRiskNeverBelowTool(t *testing.T) {
	doc := Document{Steps: []Step{
		{ID: "lowered", Tool: "write_file_apply", Risk: domain.RiskLow},
		{ID: "raised", Tool: "read_file", Risk: domain.RiskHigh},
		{ID: "same", Tool: "write_file_apply", Risk: domain.RiskHigh},
		{ID: "unknown_tool", Tool: "custom", Risk: domain.RiskLow},
	}}
	riskOf := func(tool string) domain.RiskLevel {
		switch tool {
		case "write_file_apply":
			return domain.RiskHigh
		case "read_file":
			return domain.RiskLow
		}
		return ""
	}
	p := doc.Plan("s1", 1, time.Time{}, riskOf)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, domain.RiskHigh, p.Steps[0].Risk)
	assert.Equal(t, domain.RiskHigh, p.Steps[1].Risk)
	assert.Equal(t, domain.RiskHigh, p.Steps[2].Risk)
	assert.Equal(t, domain.RiskLow, p.Steps[3].Risk)
}

func TestDocument_PlanDefaults(t *testing.T) {
	p := Document{Steps: []Step{{ID: "a", Title: "a", Tool: "custom"}}}.Plan("s1", 1, time.Time{}, nil)
	assert.Equal(t, DefaultTitle, p.Title)
	assert.Equal(t, domain.RiskMedium, p.Steps[0].Risk)
	assert.Equal(t, map[string]any{}, p.Steps[0].Inputs)
}
