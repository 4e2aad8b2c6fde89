package domain

// SessionEvent is an input to the session state machine.
type SessionEvent string

const (
	OnPlanImported  SessionEvent = "plan_imported"
	OnPlanApproved  SessionEvent = "plan_approved"
	OnStepStarted   SessionEvent = "step_started"
	OnStepSucceeded SessionEvent = "step_succeeded"
	OnPlanCompleted SessionEvent = "plan_completed"
	OnStepFailed    SessionEvent = "step_failed"
	OnStopped       SessionEvent = "stopped"
)

var sessionTransitions = map[SessionStatus]map[SessionEvent]SessionStatus{
	SessionCreated: {
		OnPlanImported: SessionAwaitingPlanApproval,
		OnStopped:      SessionCancelled,
	},
	SessionAwaitingPlanApproval: {
		OnPlanImported: SessionAwaitingPlanApproval,
		OnPlanApproved: SessionAwaitingStepApproval,
		OnStopped:      SessionCancelled,
	},
	SessionAwaitingStepApproval: {
		OnPlanImported:  SessionAwaitingPlanApproval,
		OnStepStarted:   SessionRunning,
		OnStepSucceeded: SessionAwaitingStepApproval,
		OnPlanCompleted: SessionSucceeded,
		OnStopped:       SessionCancelled,
	},
	SessionRunning: {
		OnStepSucceeded: SessionAwaitingStepApproval,
		OnPlanCompleted: SessionSucceeded,
		OnStepFailed:    SessionFailed,
		OnStopped:       SessionCancelled,
	},
	SessionFailed: {
		OnPlanImported: SessionAwaitingPlanApproval,
	},
	SessionSucceeded: {},
	SessionCancelled: {},
}

// NextSessionStatus returns the status reached from current on ev.
// Invalid transitions return a state-conflict error.
func NextSessionStatus(current SessionStatus, ev SessionEvent) (SessionStatus, error) {
	next, ok := sessionTransitions[current][ev]
	if !ok {
		return current, StateConflict("session cannot handle %s while %s", ev, current)
	}
	return next, nil
}

// ApplySession transitions s in place and keeps the needs-replan signal in
// sync with the new status.
func ApplySession(s *Session, ev SessionEvent) error {
	next, err := NextSessionStatus(s.Status, ev)
	if err != nil {
		return err
	}
	s.Status = next
	switch {
	case next == SessionFailed:
		s.NeedsReplan = true
	case ev == OnPlanImported:
		s.NeedsReplan = false
	}
	return nil
}

// StepEvent is an input to the step state machine.
type StepEvent string

const (
	OnStepApproved StepEvent = "approved"
	OnStepStart    StepEvent = "started"
	OnStepSuccess  StepEvent = "succeeded"
	OnStepFailure  StepEvent = "failed"
	OnStepSkip     StepEvent = "skipped"
)

var stepTransitions = map[StepStatus]map[StepEvent]StepStatus{
	StepPending: {
		OnStepApproved: StepApproved,
		OnStepSkip:     StepSkipped,
	},
	StepApproved: {
		OnStepStart: StepRunning,
		OnStepSkip:  StepSkipped,
	},
	StepRunning: {
		OnStepSuccess: StepSucceeded,
		OnStepFailure: StepFailed,
	},
	StepSucceeded: {},
	StepFailed:    {},
	StepSkipped:   {},
}

// NextStepStatus returns the step status reached from current on ev.
func NextStepStatus(current StepStatus, ev StepEvent) (StepStatus, error) {
	next, ok := stepTransitions[current][ev]
	if !ok {
		return current, StateConflict("step cannot handle %s while %s", ev, current)
	}
	return next, nil
}

// CheckExecutionOrder verifies that target is the next step to run in plan.
//
// Steps run strictly in declared order: every earlier step must be done.
// A failed earlier step is not reported here; the safety gate turns the
// resulting halted session into a session-halted denial.
func CheckExecutionOrder(plan Plan, target Step) error {
	switch target.Status {
	case StepRunning, StepSucceeded, StepSkipped:
		return StateConflict("step %q is already %s", target.ID, target.Status)
	}
	for _, st := range plan.Steps {
		if st.Position >= target.Position {
			break
		}
		if st.Status.Done() || st.Status == StepFailed {
			continue
		}
		return StateConflict("step %q must wait for step %q (%s)", target.ID, st.ID, st.Status)
	}
	return nil
}

// Remaining reports whether any step after position still needs to run.
func Remaining(plan Plan, position int) bool {
	for _, st := range plan.Steps {
		if st.Position > position && !st.Status.Done() {
			return true
		}
	}
	return false
}
