package engine

import (
	"context"
	"fmt"

	"github.com/roach88/calt/internal/domain"
)

// stepInLatestPlan loads the latest plan and one of its steps.
func (e *Engine) stepInLatestPlan(ctx context.Context, sessionID, stepID string) (domain.Plan, domain.Step, error) {
	p, err := e.store.LatestPlan(ctx, sessionID)
	if err != nil {
		return domain.Plan{}, domain.Step{}, internal("get plan", err)
	}
	st, ok := p.Step(stepID)
	if !ok {
		return domain.Plan{}, domain.Step{}, domain.NotFound("step", stepID)
	}
	return p, st, nil
}

// ApproveStep approves one step of the latest plan version. The plan
// version itself must already be approved.
func (e *Engine) ApproveStep(ctx context.Context, sessionID, stepID string, o Origin) (domain.Step, error) {
	o = o.withDefaults()
	unlock := e.lock(sessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Step{}, internal("get session", err)
	}
	p, st, err := e.stepInLatestPlan(ctx, sessionID, stepID)
	if err != nil {
		return domain.Step{}, err
	}
	if !p.Approved {
		return domain.Step{}, domain.StateConflict("plan version %d must be approved before its steps", p.Version).
			WithStep(sessionID, stepID)
	}
	if sess.Halted() {
		return domain.Step{}, domain.Errorf(domain.CodeSessionHalted, "session is %s", sess.Status).
			WithStep(sessionID, stepID)
	}

	a := domain.Approval{
		SessionID:   sessionID,
		PlanVersion: p.Version,
		StepID:      st.ID,
		Approver:    o.Actor,
		Channel:     o.Channel,
		CreatedAt:   e.clock.Now(),
	}
	ev := e.event(sessionID, domain.EventStepApproved, fmt.Sprintf("step %s approved", st.ID),
		map[string]any{"version": p.Version, "step_id": st.ID, "tool": st.Tool, "risk": string(st.Risk)}, o)
	approved, err := e.store.ApproveStep(ctx, a, ev)
	if err != nil {
		return domain.Step{}, internal("approve step", err)
	}

	e.logger.Info("step approved", "session", sessionID, "step", stepID, "actor", o.Actor)
	return approved, nil
}

// SkipStep marks a pending or approved step of the latest approved plan as
// skipped. Skipping the last outstanding step completes the session.
func (e *Engine) SkipStep(ctx context.Context, sessionID, stepID string, o Origin) (domain.Session, error) {
	o = o.withDefaults()
	unlock := e.lock(sessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, internal("get session", err)
	}
	p, st, err := e.stepInLatestPlan(ctx, sessionID, stepID)
	if err != nil {
		return domain.Session{}, err
	}
	if !p.Approved {
		return domain.Session{}, domain.Errorf(domain.CodeApprovalRequired, "plan version %d is not approved", p.Version).
			WithStep(sessionID, stepID)
	}
	if sess.Halted() {
		return domain.Session{}, domain.Errorf(domain.CodeSessionHalted, "session is %s", sess.Status).
			WithStep(sessionID, stepID)
	}
	if _, err := domain.NextStepStatus(st.Status, domain.OnStepSkip); err != nil {
		return domain.Session{}, err
	}

	complete := true
	for _, other := range p.Steps {
		if other.ID != st.ID && !other.Status.Done() {
			complete = false
			break
		}
	}

	ev := e.event(sessionID, domain.EventStepSkipped, fmt.Sprintf("step %s skipped", st.ID),
		map[string]any{"version": p.Version, "step_id": st.ID, "tool": st.Tool}, o)
	sess, err = e.store.SkipStep(ctx, sessionID, p.Version, st.ID, complete, ev)
	if err != nil {
		return domain.Session{}, internal("skip step", err)
	}

	e.logger.Info("step skipped", "session", sessionID, "step", stepID, "complete", complete)
	return sess, nil
}
