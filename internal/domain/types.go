package domain

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionCreated              SessionStatus = "created"
	SessionAwaitingPlanApproval SessionStatus = "awaiting_plan_approval"
	SessionAwaitingStepApproval SessionStatus = "awaiting_step_approval"
	SessionRunning              SessionStatus = "running"
	SessionSucceeded            SessionStatus = "succeeded"
	SessionFailed               SessionStatus = "failed"
	SessionCancelled            SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible without a replan.
func (s SessionStatus) Terminal() bool {
	return s == SessionSucceeded || s == SessionFailed || s == SessionCancelled
}

// StepStatus is the lifecycle state of a single step within one plan version.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether the step no longer blocks later steps.
func (s StepStatus) Done() bool {
	return s == StepSucceeded || s == StepSkipped
}

// Mode selects whether mutating tools may run at all.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDryRun Mode = "dry_run"
)

// SafetyProfile names the policy bundle applied by the safety gate.
type SafetyProfile string

const (
	ProfileStrict SafetyProfile = "strict"
	ProfileDev    SafetyProfile = "dev"
)

// RiskLevel is the declared risk of a step.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// RunStatus is the terminal outcome of one execution attempt.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Failure kinds recorded on failed runs.
const (
	FailureTool         = "tool_error"
	FailureTimeout      = "timeout"
	FailureVerification = "verification_failed"
	FailureInterrupted  = "interrupted"
)

// Session is one operator goal worked through a sequence of plan versions.
type Session struct {
	ID            string        `json:"id"`
	Goal          string        `json:"goal"`
	Mode          Mode          `json:"mode"`
	SafetyProfile SafetyProfile `json:"safety_profile"`
	Status        SessionStatus `json:"status"`
	NeedsReplan   bool          `json:"needs_replan"`
	PlanVersion   int           `json:"plan_version,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Halted reports whether the session refuses new step executions until a
// replan. Cancelled sessions never resume.
func (s Session) Halted() bool {
	return s.Status == SessionFailed || s.Status == SessionCancelled
}

// Plan is one immutable, versioned, ordered set of steps.
type Plan struct {
	SessionID string    `json:"session_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
	Steps     []Step    `json:"steps"`
}

// Step returns the step with the given id.
func (p Plan) Step(id string) (Step, bool) {
	for _, st := range p.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return Step{}, false
}

// Verification describes the post-run check for a step.
type Verification struct {
	Kind       string `json:"kind" yaml:"kind"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Verification kinds.
const (
	VerifyNone   = "none"
	VerifyManual = "manual"
	VerifyExpr   = "expr"
)

// Step is one tool invocation declared in a plan version.
type Step struct {
	SessionID           string         `json:"session_id"`
	PlanVersion         int            `json:"plan_version"`
	ID                  string         `json:"id"`
	Position            int            `json:"position"`
	Title               string         `json:"title"`
	Tool                string         `json:"tool"`
	Inputs              map[string]any `json:"inputs"`
	Risk                RiskLevel      `json:"risk"`
	Precondition        string         `json:"precondition,omitempty"`
	Postcondition       string         `json:"postcondition,omitempty"`
	ExpectedObservation string         `json:"expected_observation,omitempty"`
	Verification        Verification   `json:"verification"`
	TimeoutSec          int            `json:"timeout_sec"`
	Status              StepStatus     `json:"status"`
}

// Timeout returns the step timeout as a duration.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Approval is an immutable record of a human approving a plan version or a step.
// StepID is empty for plan approvals.
type Approval struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	PlanVersion int       `json:"plan_version"`
	StepID      string    `json:"step_id,omitempty"`
	Approver    string    `json:"approver"`
	Channel     string    `json:"channel"`
	CreatedAt   time.Time `json:"created_at"`
}

// Run is one execution attempt of one step.
type Run struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	PlanVersion   int            `json:"plan_version"`
	StepID        string         `json:"step_id"`
	Tool          string         `json:"tool"`
	Target        string         `json:"target,omitempty"`
	Status        RunStatus      `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	RedactedPaths [][]string     `json:"redacted_paths,omitempty"` // output key paths rewritten by redaction
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
}

// Duration returns the wall time between start and end.
func (r Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Event is an append-only audit fact. Seq is assigned by storage.
type Event struct {
	Seq       int64          `json:"seq"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id,omitempty"`
	Type      string         `json:"type"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event types.
const (
	EventSessionCreated = "session_created"
	EventPlanImported   = "plan_imported"
	EventPlanApproved   = "plan_approved"
	EventStepApproved   = "step_approved"
	EventStepSkipped    = "step_skipped"
	EventStepStarted    = "step_started"
	EventStepExecuted   = "step_executed"
	EventStepFailed     = "step_failed"
	EventStepRejected   = "step_rejected"
	EventArtifactSaved  = "artifact_saved"
	EventSafetyWarning  = "safety_warning"
	EventSessionStopped = "session_stopped"
	EventStepRecovered  = "step_recovered"
)

// Artifact is a named output of a run, stored under the session's artifact
// directory and addressed by a content hash.
type Artifact struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	RunID       string    `json:"run_id"`
	StepID      string    `json:"step_id"`
	PlanVersion int       `json:"plan_version"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact kinds.
const (
	ArtifactResult = "result"
	ArtifactDiff   = "diff"
	ArtifactFile   = "file"
	ArtifactLog    = "log"
)
