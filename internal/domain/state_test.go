package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSessionStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionStatus
		ev      SessionEvent
		want    SessionStatus
		wantErr bool
	}{
		{"import from created", SessionCreated, OnPlanImported, SessionAwaitingPlanApproval, false},
		{"approve plan", SessionAwaitingPlanApproval, OnPlanApproved, SessionAwaitingStepApproval, false},
		{"start step", SessionAwaitingStepApproval, OnStepStarted, SessionRunning, false},
		{"step ok with more to go", SessionRunning, OnStepSucceeded, SessionAwaitingStepApproval, false},
		{"last step ok", SessionRunning, OnPlanCompleted, SessionSucceeded, false},
		{"step fails", SessionRunning, OnStepFailed, SessionFailed, false},
		{"replan after failure", SessionFailed, OnPlanImported, SessionAwaitingPlanApproval, false},
		{"stop while running", SessionRunning, OnStopped, SessionCancelled, false},
		{"approve before import", SessionCreated, OnPlanApproved, SessionCreated, true},
		{"start while awaiting plan approval", SessionAwaitingPlanApproval, OnStepStarted, SessionAwaitingPlanApproval, true},
		{"import after success", SessionSucceeded, OnPlanImported, SessionSucceeded, true},
		{"stop twice", SessionCancelled, OnStopped, SessionCancelled, true},
		{"stop failed session", SessionFailed, OnStopped, SessionFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextSessionStatus(tt.from, tt.ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, Is(err, CodeStateConflict))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplySession_NeedsReplan(t *testing.T) {
	s := &Session{Status: SessionRunning}

	require.NoError(t, ApplySession(s, OnStepFailed))
	assert.Equal(t, SessionFailed, s.Status)
	assert.True(t, s.NeedsReplan)
	assert.True(t, s.Halted())

	require.NoError(t, ApplySession(s, OnPlanImported))
	assert.Equal(t, SessionAwaitingPlanApproval, s.Status)
	assert.False(t, s.NeedsReplan)
	assert.False(t, s.Halted())
}

func TestApplySession_InvalidLeavesSessionUntouched(t *testing.T) {
	s := &Session{Status: SessionSucceeded}
	err := ApplySession(s, OnStepStarted)
	require.Error(t, err)
	assert.Equal(t, SessionSucceeded, s.Status)
}

func TestNextStepStatus(t *testing.T) {
	next, err := NextStepStatus(StepPending, OnStepApproved)
	require.NoError(t, err)
	assert.Equal(t, StepApproved, next)

	next, err = NextStepStatus(StepApproved, OnStepStart)
	require.NoError(t, err)
	assert.Equal(t, StepRunning, next)

	_, err = NextStepStatus(StepPending, OnStepStart)
	assert.True(t, Is(err, CodeStateConflict))

	_, err = NextStepStatus(StepSucceeded, OnStepApproved)
	assert.True(t, Is(err, CodeStateConflict))
}

func TestCheckExecutionOrder(t *testing.T) {
	plan := Plan{Steps: []Step{
		{ID: "a", Position: 0, Status: StepSucceeded},
		{ID: "b", Position: 1, Status: StepApproved},
		{ID: "c", Position: 2, Status: StepApproved},
	}}

	assert.NoError(t, CheckExecutionOrder(plan, plan.Steps[1]))

	err := CheckExecutionOrder(plan, plan.Steps[2])
	require.Error(t, err)
	assert.True(t, Is(err, CodeStateConflict))

	err = CheckExecutionOrder(plan, plan.Steps[0])
	assert.True(t, Is(err, CodeStateConflict), "succeeded steps never run again")
}

func TestCheckExecutionOrder_FailedPredecessorDefersToGate(t *testing.T) {
	plan := Plan{Steps: []Step{
		{ID: "a", Position: 0, Status: StepFailed},
		{ID: "b", Position: 1, Status: StepApproved},
	}}
	assert.NoError(t, CheckExecutionOrder(plan, plan.Steps[1]))
}

func TestRemaining(t *testing.T) {
	plan := Plan{Steps: []Step{
		{ID: "a", Position: 0, Status: StepSucceeded},
		{ID: "b", Position: 1, Status: StepSkipped},
		{ID: "c", Position: 2, Status: StepPending},
	}}
	assert.True(t, Remaining(plan, 1))
	assert.False(t, Remaining(plan, 2))
}

func TestMaxRisk(t *testing.T) {
	assert.Equal(t, RiskHigh, MaxRisk(RiskLow, RiskHigh))
	assert.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskMedium))
	assert.Equal(t, RiskMedium, MaxRisk(RiskMedium, ""))
	assert.Equal(t, RiskLow, MaxRisk("", RiskLow))
}
