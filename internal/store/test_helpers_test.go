package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/calt/internal/domain"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a new store in a per-test temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(sessionID, typ, summary string, payload map[string]any) domain.Event {
	return domain.Event{
		SessionID: sessionID,
		Type:      typ,
		Summary:   summary,
		Payload:   payload,
		Source:    "test",
		Actor:     "tester",
		CreatedAt: testEpoch,
	}
}

// seedSession inserts a strict, normal-mode session in status created.
func seedSession(t *testing.T, s *Store, id string) domain.Session {
	t.Helper()
	sess := domain.Session{
		ID:            id,
		Goal:          "tidy notes",
		Mode:          domain.ModeNormal,
		SafetyProfile: domain.ProfileStrict,
		Status:        domain.SessionCreated,
		CreatedAt:     testEpoch,
		UpdatedAt:     testEpoch,
	}
	if err := s.CreateSession(context.Background(), sess, testEvent(id, domain.EventSessionCreated, "session created", nil)); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

func readStep(id string, position int) domain.Step {
	return domain.Step{
		ID:           id,
		Position:     position,
		Title:        "read " + id,
		Tool:         "read_file",
		Inputs:       map[string]any{"path": id + ".txt"},
		Risk:         domain.RiskLow,
		Verification: domain.Verification{Kind: domain.VerifyNone},
		TimeoutSec:   30,
	}
}

// seedPlan creates the session when missing and imports steps as the next
// plan version.
func seedPlan(t *testing.T, s *Store, sessionID string, steps ...domain.Step) domain.Plan {
	t.Helper()
	ctx := context.Background()
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		sess = seedSession(t, s, sessionID)
	}
	plan := domain.Plan{
		SessionID: sessionID,
		Version:   sess.PlanVersion + 1,
		Title:     "plan",
		CreatedAt: testEpoch,
		Steps:     steps,
	}
	for i := range plan.Steps {
		plan.Steps[i].SessionID = sessionID
		plan.Steps[i].PlanVersion = plan.Version
	}
	ev := testEvent(sessionID, domain.EventPlanImported, "plan imported", map[string]any{"version": plan.Version})
	if _, err := s.ImportPlan(ctx, plan, []byte("steps: []"), ev); err != nil {
		t.Fatalf("ImportPlan() failed: %v", err)
	}
	return plan
}

// seedApproved imports steps, approves the plan and approves every step.
func seedApproved(t *testing.T, s *Store, sessionID string, steps ...domain.Step) domain.Plan {
	t.Helper()
	ctx := context.Background()
	plan := seedPlan(t, s, sessionID, steps...)
	a := domain.Approval{SessionID: sessionID, PlanVersion: plan.Version, Approver: "op", Channel: "cli", CreatedAt: testEpoch}
	if _, err := s.ApprovePlan(ctx, a, testEvent(sessionID, domain.EventPlanApproved, "plan approved", nil)); err != nil {
		t.Fatalf("ApprovePlan() failed: %v", err)
	}
	for _, st := range steps {
		a.StepID = st.ID
		if _, err := s.ApproveStep(ctx, a, testEvent(sessionID, domain.EventStepApproved, "step approved", nil)); err != nil {
			t.Fatalf("ApproveStep(%s) failed: %v", st.ID, err)
		}
	}
	return plan
}

func testRun(sessionID string, version int, stepID string, status domain.RunStatus, d time.Duration) domain.Run {
	return domain.Run{
		ID:          sessionID + "-" + stepID,
		SessionID:   sessionID,
		PlanVersion: version,
		StepID:      stepID,
		Tool:        "read_file",
		Status:      status,
		StartedAt:   testEpoch,
		EndedAt:     testEpoch.Add(d),
	}
}
