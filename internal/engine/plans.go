package engine

import (
	"context"
	"fmt"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/plan"
	"github.com/roach88/calt/internal/refs"
	"github.com/roach88/calt/internal/tools"
)

// ImportResult is the outcome of a plan import.
type ImportResult struct {
	Session domain.Session `json:"session"`
	Plan    domain.Plan    `json:"plan"`
	// Warnings lists references that will not resolve when their step runs.
	Warnings []string `json:"warnings,omitempty"`
}

// ImportPlan parses document and stores it as the session's next plan
// version. Any previous version is superseded: its approvals no longer
// allow execution.
func (e *Engine) ImportPlan(ctx context.Context, sessionID string, document []byte, o Origin) (ImportResult, error) {
	o = o.withDefaults()
	unlock := e.lock(sessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return ImportResult{}, internal("get session", err)
	}
	if _, err := domain.NextSessionStatus(sess.Status, domain.OnPlanImported); err != nil {
		return ImportResult{}, err
	}

	doc, err := plan.Parse(document)
	if err != nil {
		return ImportResult{}, err
	}
	next := sess.PlanVersion + 1
	if doc.Version != 0 && doc.Version != next {
		return ImportResult{}, domain.StateConflict("document declares version %d but the next version is %d", doc.Version, next)
	}
	if err := checkTools(e.registry, doc); err != nil {
		return ImportResult{}, err
	}

	p := doc.Plan(sessionID, next, e.clock.Now(), e.riskOf)
	warnings := plan.Warnings(doc)

	ev := e.event(sessionID, domain.EventPlanImported,
		fmt.Sprintf("plan version %d imported: %s", p.Version, p.Title),
		map[string]any{
			"version":  p.Version,
			"title":    p.Title,
			"goal":     doc.Goal,
			"steps":    len(p.Steps),
			"warnings": stringsToAny(warnings),
		}, o)
	sess, err = e.store.ImportPlan(ctx, p, document, ev)
	if err != nil {
		return ImportResult{}, internal("import plan", err)
	}

	e.logger.Info("plan imported", "session", sessionID, "version", p.Version, "steps", len(p.Steps), "warnings", len(warnings))
	return ImportResult{Session: sess, Plan: p, Warnings: warnings}, nil
}

// ValidatePlan checks a plan document offline: schema, document rules and
// tool inputs against registry. It returns the reference warnings ImportPlan
// would report.
func ValidatePlan(registry *tools.Registry, document []byte) (plan.Document, []string, error) {
	doc, err := plan.Parse(document)
	if err != nil {
		return plan.Document{}, nil, err
	}
	if err := checkTools(registry, doc); err != nil {
		return plan.Document{}, nil, err
	}
	return doc, plan.Warnings(doc), nil
}

// checkTools rejects steps naming unregistered tools, and steps without
// references whose inputs already fail the tool's schema.
func checkTools(registry *tools.Registry, doc plan.Document) error {
	for i, st := range doc.Steps {
		if _, err := registry.Lookup(st.Tool); err != nil {
			return domain.Wrap(domain.CodeInvalidPlan, fmt.Sprintf("steps.%d.tool: unknown tool %q", i, st.Tool), err)
		}
		if len(refs.Find(st.Inputs)) > 0 {
			continue
		}
		if err := registry.ValidateInputs(st.Tool, st.Inputs); err != nil {
			return domain.Wrap(domain.CodeInvalidPlan, fmt.Sprintf("steps.%d.inputs", i), err)
		}
	}
	return nil
}

func (e *Engine) riskOf(tool string) domain.RiskLevel {
	d, err := e.registry.Descriptor(tool)
	if err != nil {
		return ""
	}
	return d.Risk
}

// GetPlan returns a plan version of a session. Version 0 selects the latest.
func (e *Engine) GetPlan(ctx context.Context, sessionID string, version int) (domain.Plan, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return domain.Plan{}, internal("get session", err)
	}
	var (
		p   domain.Plan
		err error
	)
	if version == 0 {
		p, err = e.store.LatestPlan(ctx, sessionID)
	} else {
		p, err = e.store.GetPlan(ctx, sessionID, version)
	}
	if err != nil {
		return domain.Plan{}, internal("get plan", err)
	}
	return p, nil
}

// PlanDocument returns the document a plan version was imported from.
func (e *Engine) PlanDocument(ctx context.Context, sessionID string, version int) ([]byte, error) {
	data, err := e.store.PlanDocument(ctx, sessionID, version)
	if err != nil {
		return nil, internal("get plan document", err)
	}
	return data, nil
}

// ApprovePlan approves a plan version. Only the latest version can be
// approved; older versions are superseded.
func (e *Engine) ApprovePlan(ctx context.Context, sessionID string, version int, o Origin) (domain.Session, error) {
	o = o.withDefaults()
	unlock := e.lock(sessionID)
	defer unlock()

	latest, err := e.store.LatestPlan(ctx, sessionID)
	if err != nil {
		if _, serr := e.store.GetSession(ctx, sessionID); serr != nil {
			return domain.Session{}, internal("get session", serr)
		}
		return domain.Session{}, internal("get plan", err)
	}
	if version == 0 {
		version = latest.Version
	}
	if version != latest.Version {
		if version > latest.Version || version < 1 {
			return domain.Session{}, domain.NotFound("plan version", fmt.Sprint(version))
		}
		return domain.Session{}, domain.StateConflict("plan version %d is superseded by version %d", version, latest.Version)
	}
	if latest.Approved {
		return domain.Session{}, domain.StateConflict("plan version %d is already approved", version)
	}

	now := e.clock.Now()
	a := domain.Approval{
		SessionID:   sessionID,
		PlanVersion: version,
		Approver:    o.Actor,
		Channel:     o.Channel,
		CreatedAt:   now,
	}
	ev := e.event(sessionID, domain.EventPlanApproved, fmt.Sprintf("plan version %d approved", version),
		map[string]any{"version": version}, o)
	sess, err := e.store.ApprovePlan(ctx, a, ev)
	if err != nil {
		return domain.Session{}, internal("approve plan", err)
	}

	e.logger.Info("plan approved", "session", sessionID, "version", version, "actor", o.Actor)
	return sess, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
