package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
)

// BeginStep marks an approved step running, moves the session to running and
// records started plus any further events, all in one transaction.
func (s *Store) BeginStep(ctx context.Context, sessionID string, version int, stepID string, started domain.Event, more ...domain.Event) (domain.Session, error) {
	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := transitionStep(ctx, tx, sessionID, version, stepID, domain.OnStepStart); err != nil {
			return err
		}
		var err error
		sess, err = transitionSession(ctx, tx, sessionID, domain.OnStepStarted, formatTime(started.CreatedAt))
		if err != nil {
			return err
		}
		for _, ev := range append([]domain.Event{started}, more...) {
			if _, err := s.appendEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	return sess, err
}

// StepFinish is the terminal record of one step execution.
type StepFinish struct {
	Run       domain.Run
	Artifacts []domain.Artifact
	Events    []domain.Event

	// SessionEvent is applied to the session unless it was cancelled while
	// the step ran; a cancelled session stays cancelled.
	SessionEvent domain.SessionEvent
}

// FinishStep stores the run, its artifacts and events, moves the step to its
// terminal status and applies the session transition in one transaction.
// The returned run carries the redacted output as persisted, with the paths
// redaction rewrote.
func (s *Store) FinishStep(ctx context.Context, f StepFinish) (domain.Run, domain.Session, error) {
	run := f.Run
	run.Output, run.RedactedPaths = s.redactor.PayloadPaths(run.Output)
	run.ErrorMessage = s.redactor.Text(run.ErrorMessage)

	stepEv := domain.OnStepSuccess
	if run.Status == domain.RunFailed {
		stepEv = domain.OnStepFailure
	}

	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := transitionStep(ctx, tx, run.SessionID, run.PlanVersion, run.StepID, stepEv); err != nil {
			return err
		}
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		for _, a := range f.Artifacts {
			if err := insertArtifact(ctx, tx, a); err != nil {
				return err
			}
		}

		var err error
		sess, err = getSession(ctx, tx, run.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionCancelled {
			sess, err = transitionSession(ctx, tx, run.SessionID, f.SessionEvent, formatTime(run.EndedAt))
			if err != nil {
				return err
			}
		}

		for _, ev := range f.Events {
			if _, err := s.appendEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Run{}, domain.Session{}, err
	}
	return run, sess, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	var output sql.NullString
	if run.Output != nil {
		data, err := canonical.Marshal(run.Output)
		if err != nil {
			return fmt.Errorf("encode run output: %w", err)
		}
		output = sql.NullString{String: string(data), Valid: true}
	}
	var redacted string
	if len(run.RedactedPaths) > 0 {
		data, err := json.Marshal(run.RedactedPaths)
		if err != nil {
			return fmt.Errorf("encode redacted paths: %w", err)
		}
		redacted = string(data)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, session_id, plan_version, step_id, tool_name, target, status,
			output, redacted_paths, error_kind, error_message, started_at, ended_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SessionID, run.PlanVersion, run.StepID, run.Tool, run.Target, string(run.Status),
		output, redacted, run.ErrorKind, run.ErrorMessage, formatTime(run.StartedAt), formatTime(run.EndedAt),
		run.Duration().Milliseconds())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StateConflict("step %q already has a terminal run", run.StepID)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// SkipStep marks a pending or approved step skipped. When complete is true
// the session also moves to succeeded.
func (s *Store) SkipStep(ctx context.Context, sessionID string, version int, stepID string, complete bool, ev domain.Event) (domain.Session, error) {
	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := transitionStep(ctx, tx, sessionID, version, stepID, domain.OnStepSkip); err != nil {
			return err
		}
		var err error
		if complete {
			sess, err = transitionSession(ctx, tx, sessionID, domain.OnPlanCompleted, formatTime(ev.CreatedAt))
		} else {
			sess, err = getSession(ctx, tx, sessionID)
		}
		if err != nil {
			return err
		}
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
	return sess, err
}

const runColumns = `
	id, session_id, plan_version, step_id, tool_name, target, status,
	output, redacted_paths, error_kind, error_message, started_at, ended_at`

func scanRun(sc scanner) (domain.Run, error) {
	var (
		run                domain.Run
		status             string
		output             sql.NullString
		redacted           string
		startedAt, endedAt string
	)
	err := sc.Scan(&run.ID, &run.SessionID, &run.PlanVersion, &run.StepID, &run.Tool, &run.Target, &status,
		&output, &redacted, &run.ErrorKind, &run.ErrorMessage, &startedAt, &endedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &run.Output); err != nil {
			return domain.Run{}, fmt.Errorf("decode output of run %q: %w", run.ID, err)
		}
	}
	if redacted != "" {
		if err := json.Unmarshal([]byte(redacted), &run.RedactedPaths); err != nil {
			return domain.Run{}, fmt.Errorf("decode redacted paths of run %q: %w", run.ID, err)
		}
	}
	run.StartedAt = parseTime(startedAt)
	run.EndedAt = parseTime(endedAt)
	return run, nil
}

// ListRuns returns the session's runs in start order.
func (s *Store) ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs WHERE session_id = ? ORDER BY started_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// StepOutput is the persisted output of a succeeded step.
type StepOutput struct {
	Output        map[string]any
	RedactedPaths [][]string
}

// StepOutputs returns the outputs of succeeded runs within one plan version,
// keyed by step id.
func (s *Store) StepOutputs(ctx context.Context, sessionID string, version int) (map[string]StepOutput, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs WHERE session_id = ? AND plan_version = ? AND status = 'succeeded'
	`, sessionID, version)
	if err != nil {
		return nil, fmt.Errorf("step outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]StepOutput)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out[run.StepID] = StepOutput{Output: run.Output, RedactedPaths: run.RedactedPaths}
	}
	return out, rows.Err()
}

// PreviewSucceeded reports whether a succeeded run of previewTool against
// target exists in the same session and plan version.
func (s *Store) PreviewSucceeded(ctx context.Context, sessionID string, version int, previewTool, target string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM runs
			WHERE session_id = ? AND plan_version = ? AND tool_name = ? AND target = ? AND status = 'succeeded'
		)
	`, sessionID, version, previewTool, target).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("preview lookup: %w", err)
	}
	return ok, nil
}

// InterruptedSteps returns steps left running without a terminal run, which
// happens only when the process died mid-execution.
func (s *Store) InterruptedSteps(ctx context.Context) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+`
		FROM steps st
		WHERE st.status = 'running'
		  AND NOT EXISTS (
			SELECT 1 FROM runs r
			WHERE r.session_id = st.session_id AND r.plan_version = st.plan_version AND r.step_id = st.step_id
		  )
		ORDER BY st.session_id ASC, st.plan_version ASC, st.position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("interrupted steps: %w", err)
	}
	defer rows.Close()

	var out []domain.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
