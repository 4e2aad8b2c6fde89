package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/gate"
	"github.com/roach88/calt/internal/refs"
	"github.com/roach88/calt/internal/store"
	"github.com/roach88/calt/internal/tools"
	"github.com/roach88/calt/internal/verify"
)

// ExecuteRequest asks for one step of the latest plan version to run.
type ExecuteRequest struct {
	SessionID string
	StepID    string
	// ConfirmHighRisk acknowledges a high-risk step under the strict profile.
	ConfirmHighRisk bool
	Origin          Origin
}

// ExecuteResult describes a step that was dispatched to its tool.
type ExecuteResult struct {
	Session   domain.Session    `json:"session"`
	Run       domain.Run        `json:"run"`
	Artifacts []domain.Artifact `json:"artifacts"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// ExecuteStep runs one step through the safety gate and, when allowed, its
// tool.
//
// Errors come in two shapes. A rejected attempt (policy denial, state error,
// unresolved reference) returns a zero result; nothing ran and only a
// step_rejected event was recorded. A step that ran and failed returns the
// recorded result together with a timeout or tool-failure error.
func (e *Engine) ExecuteStep(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	o := req.Origin.withDefaults()
	unlock := e.lock(req.SessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return ExecuteResult{}, internal("get session", err)
	}
	p, st, err := e.stepInLatestPlan(ctx, req.SessionID, req.StepID)
	if err != nil {
		return ExecuteResult{}, err
	}
	if err := domain.CheckExecutionOrder(p, st); err != nil {
		return ExecuteResult{}, e.reject(ctx, st, asError(err).WithStep(st.SessionID, st.ID), o)
	}

	inputs, err := e.resolveInputs(ctx, p, st)
	if domain.Is(err, domain.CodeInternal) {
		return ExecuteResult{}, err
	}
	if err != nil {
		return ExecuteResult{}, e.reject(ctx, st, asError(err).WithStep(st.SessionID, st.ID), o)
	}

	desc, err := e.registry.Descriptor(st.Tool)
	if err != nil {
		return ExecuteResult{}, e.reject(ctx, st, asError(err).WithStep(st.SessionID, st.ID), o)
	}
	workspace := e.Workspace(st.SessionID)
	target, terr := e.registry.Target(st.Tool, workspace, inputs)
	if terr != nil {
		// An unusable target fails at dispatch; it can never match a preview.
		target = ""
	}

	verdict, err := e.evaluate(ctx, sess, p, st, desc, target, req.ConfirmHighRisk)
	if err != nil {
		return ExecuteResult{}, err
	}
	if !verdict.Allowed {
		return ExecuteResult{}, e.reject(ctx, st, verdict.Err, o)
	}

	return e.run(ctx, st, desc, inputs, target, verdict.Warnings, o)
}

func (e *Engine) resolveInputs(ctx context.Context, p domain.Plan, st domain.Step) (map[string]any, error) {
	if len(refs.Find(st.Inputs)) == 0 {
		return refs.Resolve(st.Inputs, refs.Scope{})
	}
	outputs, err := e.store.StepOutputs(ctx, p.SessionID, p.Version)
	if err != nil {
		return nil, internal("load step outputs", err)
	}
	scope := refs.Scope{Outputs: refs.Outputs{}, Redacted: map[string][][]string{}}
	for id, out := range outputs {
		scope.Outputs[id] = out.Output
		if len(out.RedactedPaths) > 0 {
			scope.Redacted[id] = out.RedactedPaths
		}
	}
	for _, prior := range p.Steps {
		if prior.Position < st.Position {
			scope.Prior = append(scope.Prior, prior.ID)
		}
	}
	return refs.Resolve(st.Inputs, scope)
}

func (e *Engine) evaluate(ctx context.Context, sess domain.Session, p domain.Plan, st domain.Step, desc tools.Descriptor, target string, confirmed bool) (gate.Verdict, error) {
	stepApproved, err := e.store.StepApproved(ctx, st.SessionID, p.Version, st.ID)
	if err != nil {
		return gate.Verdict{}, internal("load step approval", err)
	}
	previewSeen := false
	if desc.RequiresPreview && target != "" {
		previewSeen, err = e.store.PreviewSucceeded(ctx, st.SessionID, p.Version, desc.PreviewTool, target)
		if err != nil {
			return gate.Verdict{}, internal("look up preview run", err)
		}
	}

	return gate.Evaluate(gate.Request{
		Session:      sess,
		Step:         st,
		PlanApproved: p.Approved,
		StepApproved: stepApproved,
		Tool: gate.ToolPolicy{
			Name:            desc.Name,
			Mutates:         desc.Mutates,
			Destructive:     desc.Destructive,
			RequiresPreview: desc.RequiresPreview,
			PreviewTool:     desc.PreviewTool,
			Risk:            desc.Risk,
		},
		ConfirmedHigh: confirmed,
		PreviewSeen:   previewSeen,
		Isolated:      e.probe.Isolated(),
	}), nil
}

// reject records a step_rejected event and returns the denial. Recording
// failures are logged; the caller still sees the denial.
func (e *Engine) reject(ctx context.Context, st domain.Step, denial *domain.Error, o Origin) error {
	payload := map[string]any{
		"version": st.PlanVersion,
		"step_id": st.ID,
		"tool":    st.Tool,
		"code":    string(denial.Code),
		"message": denial.Message,
	}
	for k, v := range denial.Details {
		payload[k] = v
	}
	ev := e.event(st.SessionID, domain.EventStepRejected,
		fmt.Sprintf("step %s rejected: %s", st.ID, denial.Code), payload, o)
	if _, err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("record rejection", "session", st.SessionID, "step", st.ID, "error", err)
	}

	e.logger.Info("step rejected", "code", denial.Code, "session", st.SessionID, "step", st.ID)
	return denial
}

// run executes an allowed step and records its outcome.
func (e *Engine) run(ctx context.Context, st domain.Step, desc tools.Descriptor, inputs map[string]any, target string, warnings []string, o Origin) (ExecuteResult, error) {
	runID := e.ids.Generate()
	started := e.event(st.SessionID, domain.EventStepStarted, fmt.Sprintf("step %s started (%s)", st.ID, st.Tool),
		map[string]any{"version": st.PlanVersion, "step_id": st.ID, "tool": st.Tool, "inputs": inputs, "target": target}, o)
	started.RunID = runID
	var more []domain.Event
	for _, w := range warnings {
		ev := e.event(st.SessionID, domain.EventSafetyWarning, w,
			map[string]any{"step_id": st.ID, "tool": st.Tool}, o)
		ev.RunID = runID
		more = append(more, ev)
	}
	if _, err := e.store.BeginStep(ctx, st.SessionID, st.PlanVersion, st.ID, started, more...); err != nil {
		return ExecuteResult{}, internal("begin step", err)
	}
	e.logger.Debug("step started", "session", st.SessionID, "step", st.ID, "tool", st.Tool, "run", runID)

	// The outcome is recorded even if the caller goes away. Stop does not
	// abort the call either; only the timeout bounds it.
	execCtx := context.WithoutCancel(ctx)

	startedAt := started.CreatedAt
	timeout := st.Timeout()
	if desc.Timeout > 0 && desc.Timeout < timeout {
		timeout = desc.Timeout
	}
	outcome, runErr := e.invoke(execCtx, st.Tool, tools.Call{Workspace: e.Workspace(st.SessionID), Inputs: inputs}, timeout)
	if runErr == nil {
		runErr = e.verify(st, inputs, outcome.Output)
	}

	run := domain.Run{
		ID:          runID,
		SessionID:   st.SessionID,
		PlanVersion: st.PlanVersion,
		StepID:      st.ID,
		Tool:        st.Tool,
		Target:      target,
		StartedAt:   startedAt,
	}
	var artifacts []domain.Artifact
	if runErr == nil {
		var werr error
		artifacts, werr = e.writeArtifacts(run, outcome)
		if werr != nil {
			runErr = domain.Wrap(domain.CodeToolFailure, "write artifacts", werr)
		}
	}
	run.EndedAt = e.clock.Now()

	finish := store.StepFinish{}
	if runErr == nil {
		run.Status = domain.RunSucceeded
		run.Output = outcome.Output
		finish.Artifacts = artifacts
		p, err := e.store.GetPlan(ctx, st.SessionID, st.PlanVersion)
		if err != nil {
			return ExecuteResult{}, internal("get plan", err)
		}
		finish.SessionEvent = domain.OnStepSucceeded
		if !domain.Remaining(p, st.Position) {
			finish.SessionEvent = domain.OnPlanCompleted
		}
		finish.Events = append(finish.Events, e.runEvent(run, domain.EventStepExecuted,
			fmt.Sprintf("step %s succeeded (%s)", st.ID, st.Tool),
			map[string]any{"output": outcome.Output, "duration_ms": run.Duration().Milliseconds()}, o))
		for _, a := range artifacts {
			finish.Events = append(finish.Events, e.runEvent(run, domain.EventArtifactSaved,
				fmt.Sprintf("artifact %s saved", a.Name),
				map[string]any{"artifact_id": a.ID, "name": a.Name, "kind": a.Kind, "sha256": a.SHA256, "size": a.Size}, o))
		}
	} else {
		run.Status = domain.RunFailed
		run.ErrorKind = failureKind(runErr)
		run.ErrorMessage = runErr.Error()
		finish.SessionEvent = domain.OnStepFailed
		finish.Events = append(finish.Events, e.runEvent(run, domain.EventStepFailed,
			fmt.Sprintf("step %s failed (%s): %s", st.ID, st.Tool, run.ErrorKind),
			map[string]any{"error_kind": run.ErrorKind, "error": run.ErrorMessage, "duration_ms": run.Duration().Milliseconds()}, o))
	}
	finish.Run = run

	recorded, sess, err := e.store.FinishStep(ctx, finish)
	if err != nil {
		e.logger.Error("record step outcome", "session", st.SessionID, "step", st.ID, "run", runID, "error", err)
		return ExecuteResult{}, internal("finish step", err)
	}

	result := ExecuteResult{Session: sess, Run: recorded, Artifacts: artifacts, Warnings: warnings}
	if result.Artifacts == nil {
		result.Artifacts = []domain.Artifact{}
	}
	if recorded.Status == domain.RunFailed {
		e.logger.Error("step failed", "session", st.SessionID, "step", st.ID, "kind", recorded.ErrorKind, "error", recorded.ErrorMessage)
		code := domain.CodeToolFailure
		if recorded.ErrorKind == domain.FailureTimeout {
			code = domain.CodeTimeout
		}
		return result, domain.Errorf(code, "%s", recorded.ErrorMessage).WithStep(st.SessionID, st.ID)
	}
	e.logger.Info("step succeeded", "session", st.SessionID, "step", st.ID, "run", runID,
		"duration_ms", recorded.Duration().Milliseconds(), "session_status", sess.Status)
	return result, nil
}

func (e *Engine) runEvent(run domain.Run, typ, summary string, payload map[string]any, o Origin) domain.Event {
	ev := e.event(run.SessionID, typ, summary, payload, o)
	ev.RunID = run.ID
	ev.CreatedAt = run.EndedAt
	return ev
}

var errTimeout = errors.New("step timed out")

// invoke validates inputs and calls the tool under timeout. The timeout
// holds even when the tool ignores its context.
func (e *Engine) invoke(ctx context.Context, name string, call tools.Call, timeout time.Duration) (tools.Outcome, error) {
	tool, err := e.registry.Lookup(name)
	if err != nil {
		return tools.Outcome{}, err
	}
	if err := e.registry.ValidateInputs(name, call.Inputs); err != nil {
		return tools.Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out tools.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		out, err := tool.Invoke(ctx, call)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return tools.Outcome{}, fmt.Errorf("%w after %s", errTimeout, timeout)
		}
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return tools.Outcome{}, fmt.Errorf("%w after %s", errTimeout, timeout)
		}
		return tools.Outcome{}, fmt.Errorf("step cancelled: %w", ctx.Err())
	}
}

func (e *Engine) verify(st domain.Step, inputs, output map[string]any) error {
	return verify.Check(st.Verification, verify.Env{Output: output, Inputs: inputs})
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, errTimeout):
		return domain.FailureTimeout
	case errors.Is(err, verify.ErrFailed):
		return domain.FailureVerification
	}
	return domain.FailureTool
}

// asError converts err to a typed error, keeping its code.
func asError(err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.Wrap(domain.CodeInternal, "execute step", err)
}
