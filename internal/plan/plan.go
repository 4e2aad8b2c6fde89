// Package plan decodes and validates imported plan documents.
//
// Documents are YAML or JSON (JSON is accepted as YAML). Validation runs in
// two stages: the embedded CUE schema checks shape and value bounds, then
// Go rules check cross-field constraints such as unique step ids and
// verification expressions.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/calt/internal/domain"
)

const (
	// DefaultTitle names plans imported without a title.
	DefaultTitle = "Imported plan"
	// DefaultTimeoutSec applies to steps without timeout_sec.
	DefaultTimeoutSec = 30
	// MaxTimeoutSec bounds timeout_sec.
	MaxTimeoutSec = 120
)

// Document is an imported plan as written by the operator.
type Document struct {
	Version int    `yaml:"version,omitempty" json:"version,omitempty"`
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Goal    string `yaml:"goal,omitempty" json:"goal,omitempty"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

// Step is one step of a Document.
type Step struct {
	ID                  string               `yaml:"id" json:"id"`
	Title               string               `yaml:"title" json:"title"`
	Tool                string               `yaml:"tool" json:"tool"`
	Inputs              map[string]any       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Risk                domain.RiskLevel     `yaml:"risk,omitempty" json:"risk,omitempty"`
	Precondition        string               `yaml:"precondition,omitempty" json:"precondition,omitempty"`
	Postcondition       string               `yaml:"postcondition,omitempty" json:"postcondition,omitempty"`
	ExpectedObservation string               `yaml:"expected_observation,omitempty" json:"expected_observation,omitempty"`
	Verification        *domain.Verification `yaml:"verification,omitempty" json:"verification,omitempty"`
	TimeoutSec          int                  `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
}

// Parse decodes a plan document and validates it against the schema and
// the document rules. Errors carry code invalid-plan.
func Parse(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, domain.Errorf(domain.CodeInvalidPlan, "plan document is empty")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, domain.Wrap(domain.CodeInvalidPlan, "plan document is not valid YAML or JSON", err)
	}
	if err := checkSchema(raw); err != nil {
		return Document{}, err
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, domain.Wrap(domain.CodeInvalidPlan, "decode plan document", err)
	}
	for i := range doc.Steps {
		inputs, err := normalizeInputs(doc.Steps[i].Inputs)
		if err != nil {
			return Document{}, domain.Wrap(domain.CodeInvalidPlan,
				fmt.Sprintf("inputs of step %q", doc.Steps[i].ID), err)
		}
		doc.Steps[i].Inputs = inputs
	}

	if err := Validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// normalizeInputs maps decoded YAML values onto the JSON value space so
// inputs compare equal before and after storage.
func normalizeInputs(in map[string]any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Plan converts doc into a plan version for sessionID. Steps are numbered
// from 1 in document order and start pending. riskOf supplies the tool's
// declared risk, which is both the default and the floor for a step's risk.
func (doc Document) Plan(sessionID string, version int, at time.Time, riskOf func(tool string) domain.RiskLevel) domain.Plan {
	title := doc.Title
	if title == "" {
		title = DefaultTitle
	}
	p := domain.Plan{
		SessionID: sessionID,
		Version:   version,
		Title:     title,
		CreatedAt: at,
		Steps:     make([]domain.Step, 0, len(doc.Steps)),
	}
	for i, s := range doc.Steps {
		st := domain.Step{
			SessionID:           sessionID,
			PlanVersion:         version,
			ID:                  s.ID,
			Position:            i + 1,
			Title:               s.Title,
			Tool:                s.Tool,
			Inputs:              s.Inputs,
			Risk:                s.Risk,
			Precondition:        s.Precondition,
			Postcondition:       s.Postcondition,
			ExpectedObservation: s.ExpectedObservation,
			Verification:        domain.Verification{Kind: domain.VerifyNone},
			TimeoutSec:          s.TimeoutSec,
			Status:              domain.StepPending,
		}
		if st.Inputs == nil {
			st.Inputs = map[string]any{}
		}
		if s.Verification != nil && s.Verification.Kind != "" {
			st.Verification = *s.Verification
		}
		if st.TimeoutSec == 0 {
			st.TimeoutSec = DefaultTimeoutSec
		}
		var toolRisk domain.RiskLevel
		if riskOf != nil {
			toolRisk = riskOf(s.Tool)
		}
		switch {
		case st.Risk != "":
			// A step may raise its tool's risk but never lower it.
			st.Risk = domain.MaxRisk(st.Risk, toolRisk)
		case toolRisk != "":
			st.Risk = toolRisk
		default:
			st.Risk = domain.RiskMedium
		}
		p.Steps = append(p.Steps, st)
	}
	return p
}
