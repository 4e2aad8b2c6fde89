package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/tools"
)

func TestGetSession_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	assert.True(t, domain.Is(err, domain.CodeNotFound))
}

func TestCreateSession_Duplicate(t *testing.T) {
	s := createTestStore(t)
	sess := seedSession(t, s, "s1")
	err := s.CreateSession(context.Background(), sess, testEvent("s1", domain.EventSessionCreated, "again", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))
}

func TestImportPlan_VersionsAndStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p1 := seedPlan(t, s, "s1", readStep("a", 1), readStep("b", 2))
	assert.Equal(t, 1, p1.Version)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAwaitingPlanApproval, sess.Status)
	assert.Equal(t, 1, sess.PlanVersion)

	p2 := seedPlan(t, s, "s1", readStep("c", 1))
	assert.Equal(t, 2, p2.Version)

	got, err := s.GetPlan(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "a", got.Steps[0].ID)
	assert.Equal(t, map[string]any{"path": "a.txt"}, got.Steps[0].Inputs)
	assert.Equal(t, domain.StepPending, got.Steps[0].Status)
	assert.False(t, got.Approved)

	latest, err := s.LatestPlan(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	doc, err := s.PlanDocument(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, "steps: []", string(doc))
}

func TestImportPlan_RejectsWrongVersion(t *testing.T) {
	s := createTestStore(t)
	seedSession(t, s, "s1")

	plan := domain.Plan{SessionID: "s1", Version: 3, CreatedAt: testEpoch}
	_, err := s.ImportPlan(context.Background(), plan, nil, testEvent("s1", domain.EventPlanImported, "x", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))

	events, err := s.ListEvents(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, events, 1, "rejected import leaves no event")
}

func TestApprovePlan_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	a := domain.Approval{SessionID: "s1", PlanVersion: plan.Version, Approver: "op", Channel: "cli", CreatedAt: testEpoch}
	_, err := s.ApprovePlan(ctx, a, testEvent("s1", domain.EventPlanApproved, "again", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))

	got, err := s.GetPlan(ctx, "s1", plan.Version)
	require.NoError(t, err)
	assert.True(t, got.Approved)
	assert.Equal(t, domain.StepApproved, got.Steps[0].Status)

	ok, err := s.StepApproved(ctx, "s1", plan.Version, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	approvals, err := s.ListApprovals(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, approvals, 2)
}

func TestApproveStep_Twice(t *testing.T) {
	s := createTestStore(t)
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	a := domain.Approval{SessionID: "s1", PlanVersion: plan.Version, StepID: "a", Approver: "op", Channel: "cli", CreatedAt: testEpoch}
	_, err := s.ApproveStep(context.Background(), a, testEvent("s1", domain.EventStepApproved, "again", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))
}

func TestBeginFinishStep_Success(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1), readStep("b", 2))

	sess, err := s.BeginStep(ctx, "s1", plan.Version, "a", testEvent("s1", domain.EventStepStarted, "step a started", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRunning, sess.Status)

	run := testRun("s1", plan.Version, "a", domain.RunSucceeded, 40*time.Millisecond)
	run.Output = map[string]any{"content": "hi", "api_key": "sk-live"}
	art := domain.Artifact{
		ID: "art-1", SessionID: "s1", RunID: run.ID, StepID: "a", PlanVersion: plan.Version,
		Name: "read_file", Kind: domain.ArtifactResult, Path: "artifacts/x.json", SHA256: "abc", Size: 3, CreatedAt: testEpoch,
	}
	got, sess, err := s.FinishStep(ctx, StepFinish{
		Run:          run,
		Artifacts:    []domain.Artifact{art},
		Events:       []domain.Event{testEvent("s1", domain.EventStepExecuted, "step a executed", nil)},
		SessionEvent: domain.OnStepSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAwaitingStepApproval, sess.Status)
	assert.Equal(t, "[REDACTED]", got.Output["api_key"])

	outputs, err := s.StepOutputs(ctx, "s1", plan.Version)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "hi", "api_key": "[REDACTED]"}, outputs["a"].Output)
	assert.Equal(t, [][]string{{"api_key"}}, outputs["a"].RedactedPaths)
	assert.Equal(t, [][]string{{"api_key"}}, got.RedactedPaths)

	runs, err := s.ListRuns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, [][]string{{"api_key"}}, runs[0].RedactedPaths)

	arts, err := s.ListArtifacts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "read_file", arts[0].Name)

	p, err := s.GetPlan(ctx, "s1", plan.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSucceeded, p.Steps[0].Status)
}

func TestFinishStep_OnlyOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	_, err := s.BeginStep(ctx, "s1", plan.Version, "a", testEvent("s1", domain.EventStepStarted, "start", nil))
	require.NoError(t, err)
	finish := StepFinish{Run: testRun("s1", plan.Version, "a", domain.RunSucceeded, 0), SessionEvent: domain.OnPlanCompleted}
	_, sess, err := s.FinishStep(ctx, finish)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSucceeded, sess.Status)

	_, _, err = s.FinishStep(ctx, finish)
	assert.True(t, domain.Is(err, domain.CodeStateConflict))
}

func TestFinishStep_FailureHaltsSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1), readStep("b", 2))

	_, err := s.BeginStep(ctx, "s1", plan.Version, "a", testEvent("s1", domain.EventStepStarted, "start", nil))
	require.NoError(t, err)
	run := testRun("s1", plan.Version, "a", domain.RunFailed, time.Second)
	run.ErrorKind = domain.FailureTool
	run.ErrorMessage = "denied: Authorization: Bearer abc.def"
	got, sess, err := s.FinishStep(ctx, StepFinish{Run: run, SessionEvent: domain.OnStepFailed})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, sess.Status)
	assert.True(t, sess.NeedsReplan)
	assert.NotContains(t, got.ErrorMessage, "abc.def")

	reasons, err := s.FailureReasons(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Equal(t, domain.FailureTool, reasons[0].Kind)
	assert.Equal(t, 1, reasons[0].Failures)
}

func TestFinishStep_CancelledSessionStaysCancelled(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	_, err := s.BeginStep(ctx, "s1", plan.Version, "a", testEvent("s1", domain.EventStepStarted, "start", nil))
	require.NoError(t, err)
	_, err = s.StopSession(ctx, "s1", testEvent("s1", domain.EventSessionStopped, "stopped", nil))
	require.NoError(t, err)

	_, sess, err := s.FinishStep(ctx, StepFinish{
		Run:          testRun("s1", plan.Version, "a", domain.RunSucceeded, 0),
		SessionEvent: domain.OnPlanCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, sess.Status)
}

func TestStopSession_Terminal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1")

	sess, err := s.StopSession(ctx, "s1", testEvent("s1", domain.EventSessionStopped, "stopped", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, sess.Status)

	_, err = s.StopSession(ctx, "s1", testEvent("s1", domain.EventSessionStopped, "stopped", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))
}

func TestSkipStep(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	sess, err := s.SkipStep(ctx, "s1", plan.Version, "a", true, testEvent("s1", domain.EventStepSkipped, "skipped", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSucceeded, sess.Status)

	_, err = s.SkipStep(ctx, "s1", plan.Version, "a", false, testEvent("s1", domain.EventStepSkipped, "skipped", nil))
	assert.True(t, domain.Is(err, domain.CodeStateConflict))
}

func TestPreviewSucceeded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	prev := readStep("p", 1)
	prev.Tool = "write_file_preview"
	plan := seedApproved(t, s, "s1", prev, readStep("b", 2))

	ok, err := s.PreviewSucceeded(ctx, "s1", plan.Version, "write_file_preview", "notes.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.BeginStep(ctx, "s1", plan.Version, "p", testEvent("s1", domain.EventStepStarted, "start", nil))
	require.NoError(t, err)
	run := testRun("s1", plan.Version, "p", domain.RunSucceeded, 0)
	run.Tool = "write_file_preview"
	run.Target = "notes.txt"
	_, _, err = s.FinishStep(ctx, StepFinish{Run: run, SessionEvent: domain.OnStepSucceeded})
	require.NoError(t, err)

	ok, err = s.PreviewSucceeded(ctx, "s1", plan.Version, "write_file_preview", "notes.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PreviewSucceeded(ctx, "s1", plan.Version, "write_file_preview", "other.txt")
	require.NoError(t, err)
	assert.False(t, ok, "preview of another target does not count")

	ok, err = s.PreviewSucceeded(ctx, "s1", plan.Version+1, "write_file_preview", "notes.txt")
	require.NoError(t, err)
	assert.False(t, ok, "preview from another plan version does not count")
}

func TestInterruptedSteps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := seedApproved(t, s, "s1", readStep("a", 1))

	steps, err := s.InterruptedSteps(ctx)
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = s.BeginStep(ctx, "s1", plan.Version, "a", testEvent("s1", domain.EventStepStarted, "start", nil))
	require.NoError(t, err)

	steps, err = s.InterruptedSteps(ctx)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "a", steps[0].ID)
	assert.Equal(t, domain.StepRunning, steps[0].Status)
}

func TestReports(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	steps := []domain.Step{readStep("a", 1), readStep("b", 2), readStep("c", 3)}
	plan := seedApproved(t, s, "s1", steps...)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for i, st := range steps {
		_, err := s.BeginStep(ctx, "s1", plan.Version, st.ID, testEvent("s1", domain.EventStepStarted, "start", nil))
		require.NoError(t, err)
		status, sessEv := domain.RunSucceeded, domain.OnStepSucceeded
		if i == len(steps)-1 {
			status, sessEv = domain.RunFailed, domain.OnStepFailed
		}
		run := testRun("s1", plan.Version, st.ID, status, durations[i])
		if status == domain.RunFailed {
			run.ErrorKind = domain.FailureTimeout
		}
		_, _, err = s.FinishStep(ctx, StepFinish{Run: run, SessionEvent: sessEv})
		require.NoError(t, err)
	}

	rates, err := s.ToolSuccessRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, ToolSuccessRate{Tool: "read_file", TotalRuns: 3, Succeeded: 2, SuccessRate: 0.6667}, rates[0])

	durs, err := s.StepDurations(ctx)
	require.NoError(t, err)
	require.Len(t, durs, 1)
	assert.Equal(t, StepDuration{Tool: "read_file", Samples: 3, P50Ms: 20, P95Ms: 30}, durs[0])
}

func TestSyncTools(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	reg, err := tools.NewBuiltinRegistry(tools.BuiltinOptions{})
	require.NoError(t, err)
	require.NoError(t, s.SyncTools(ctx, reg.Descriptors()))
	require.NoError(t, s.SyncTools(ctx, reg.Descriptors()), "sync replaces rather than duplicates")

	got, err := s.RegisteredTools(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(reg.Descriptors()))

	var apply tools.Descriptor
	for _, d := range got {
		if d.Name == "write_file_apply" {
			apply = d
		}
	}
	assert.True(t, apply.Destructive)
	assert.Equal(t, "write_file_preview", apply.PreviewTool)
	assert.Equal(t, tools.DefaultTimeout, apply.Timeout)
	assert.NotEmpty(t, apply.InputSchema)
}
