package engine

import (
	"context"
	"fmt"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/store"
)

// interruptedMessage is recorded on runs closed by Recover.
const interruptedMessage = "process exited while the step was running"

// RecoveredStep names one step closed by Recover.
type RecoveredStep struct {
	SessionID   string `json:"session_id"`
	PlanVersion int    `json:"plan_version"`
	StepID      string `json:"step_id"`
	RunID       string `json:"run_id"`
}

// RecoveryReport lists what Recover did.
type RecoveryReport struct {
	Recovered []RecoveredStep `json:"recovered"`
}

// Recover fails every step left running without a terminal run, which only
// happens when a process died mid-execution. Each gets a failed run of kind
// "interrupted" and its session fails, so the operator replans instead of
// assuming the side effect did or did not happen.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	steps, err := e.store.InterruptedSteps(ctx)
	if err != nil {
		return RecoveryReport{}, internal("find interrupted steps", err)
	}

	report := RecoveryReport{Recovered: []RecoveredStep{}}
	o := Origin{Actor: DefaultActor, Channel: "recovery"}
	for _, st := range steps {
		unlock := e.lock(st.SessionID)
		now := e.clock.Now()
		run := domain.Run{
			ID:           e.ids.Generate(),
			SessionID:    st.SessionID,
			PlanVersion:  st.PlanVersion,
			StepID:       st.ID,
			Tool:         st.Tool,
			Status:       domain.RunFailed,
			ErrorKind:    domain.FailureInterrupted,
			ErrorMessage: interruptedMessage,
			StartedAt:    now,
			EndedAt:      now,
		}
		ev := e.event(st.SessionID, domain.EventStepRecovered,
			fmt.Sprintf("step %s marked failed after interruption", st.ID),
			map[string]any{"version": st.PlanVersion, "step_id": st.ID, "tool": st.Tool, "error_kind": domain.FailureInterrupted}, o)
		ev.RunID = run.ID

		_, _, err := e.store.FinishStep(ctx, store.StepFinish{
			Run:          run,
			Events:       []domain.Event{ev},
			SessionEvent: domain.OnStepFailed,
		})
		unlock()
		if err != nil {
			e.logger.Error("recover step", "session", st.SessionID, "step", st.ID, "error", err)
			continue
		}

		e.logger.Info("recovered interrupted step", "session", st.SessionID, "step", st.ID, "run", run.ID)
		report.Recovered = append(report.Recovered, RecoveredStep{
			SessionID:   st.SessionID,
			PlanVersion: st.PlanVersion,
			StepID:      st.ID,
			RunID:       run.ID,
		})
	}
	return report, nil
}
