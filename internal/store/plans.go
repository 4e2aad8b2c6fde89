package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
)

// ImportPlan stores plan as the session's next version, moves the session to
// awaiting_plan_approval and records ev. plan.Version must be exactly one
// greater than the latest stored version.
func (s *Store) ImportPlan(ctx context.Context, plan domain.Plan, document []byte, ev domain.Event) (domain.Session, error) {
	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var latest int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM plans WHERE session_id = ?`, plan.SessionID,
		).Scan(&latest)
		if err != nil {
			return fmt.Errorf("latest plan version: %w", err)
		}
		if plan.Version != latest+1 {
			return domain.StateConflict("plan version %d is not the next version (%d)", plan.Version, latest+1)
		}

		at := formatTime(plan.CreatedAt)
		sess, err = transitionSession(ctx, tx, plan.SessionID, domain.OnPlanImported, at)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO plans (session_id, version, title, document, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, plan.SessionID, plan.Version, plan.Title, string(document), at)
		if err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}

		for _, st := range plan.Steps {
			if err := insertStep(ctx, tx, plan, st); err != nil {
				return err
			}
		}

		sess.PlanVersion = plan.Version
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
	return sess, err
}

func insertStep(ctx context.Context, tx *sql.Tx, plan domain.Plan, st domain.Step) error {
	inputs, err := canonical.Marshal(st.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs of step %q: %w", st.ID, err)
	}
	status := st.Status
	if status == "" {
		status = domain.StepPending
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (
			session_id, plan_version, step_id, position, title, tool_name, inputs, risk,
			precondition, postcondition, expected_observation,
			verification_kind, verification_expr, timeout_sec, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.SessionID, plan.Version, st.ID, st.Position, st.Title, st.Tool, string(inputs), string(st.Risk),
		st.Precondition, st.Postcondition, st.ExpectedObservation,
		st.Verification.Kind, st.Verification.Expression, st.TimeoutSec, string(status))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Errorf(domain.CodeInvalidPlan, "duplicate step %q", st.ID)
		}
		return fmt.Errorf("insert step %q: %w", st.ID, err)
	}
	return nil
}

// GetPlan returns one plan version with its steps in declared order.
func (s *Store) GetPlan(ctx context.Context, sessionID string, version int) (domain.Plan, error) {
	return getPlan(ctx, s.db, sessionID, version)
}

// LatestPlan returns the most recently imported plan version.
func (s *Store) LatestPlan(ctx context.Context, sessionID string) (domain.Plan, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM plans WHERE session_id = ?`, sessionID,
	).Scan(&version)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("latest plan version: %w", err)
	}
	if version == 0 {
		return domain.Plan{}, domain.NotFound("plan", sessionID)
	}
	return getPlan(ctx, s.db, sessionID, version)
}

// PlanDocument returns the document a plan version was imported from.
func (s *Store) PlanDocument(ctx context.Context, sessionID string, version int) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM plans WHERE session_id = ? AND version = ?`, sessionID, version,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("plan", fmt.Sprintf("%s/v%d", sessionID, version))
	}
	if err != nil {
		return nil, fmt.Errorf("get plan document: %w", err)
	}
	return []byte(doc), nil
}

func getPlan(ctx context.Context, q querier, sessionID string, version int) (domain.Plan, error) {
	plan := domain.Plan{SessionID: sessionID, Version: version}
	var createdAt string
	var approved int
	err := q.QueryRowContext(ctx, `
		SELECT p.title, p.created_at,
			EXISTS (SELECT 1 FROM approvals a
				WHERE a.session_id = p.session_id AND a.plan_version = p.version AND a.step_id = '')
		FROM plans p WHERE p.session_id = ? AND p.version = ?
	`, sessionID, version).Scan(&plan.Title, &createdAt, &approved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, domain.NotFound("plan", fmt.Sprintf("%s/v%d", sessionID, version))
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	plan.CreatedAt = parseTime(createdAt)
	plan.Approved = approved != 0

	rows, err := q.QueryContext(ctx, `SELECT `+stepColumns+`
		FROM steps WHERE session_id = ? AND plan_version = ?
		ORDER BY position ASC
	`, sessionID, version)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return domain.Plan{}, err
		}
		plan.Steps = append(plan.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return domain.Plan{}, fmt.Errorf("iterate steps: %w", err)
	}
	return plan, nil
}

const stepColumns = `
	session_id, plan_version, step_id, position, title, tool_name, inputs, risk,
	precondition, postcondition, expected_observation,
	verification_kind, verification_expr, timeout_sec, status`

func scanStep(sc scanner) (domain.Step, error) {
	var (
		st           domain.Step
		inputs, risk string
		status       string
	)
	err := sc.Scan(&st.SessionID, &st.PlanVersion, &st.ID, &st.Position, &st.Title, &st.Tool, &inputs, &risk,
		&st.Precondition, &st.Postcondition, &st.ExpectedObservation,
		&st.Verification.Kind, &st.Verification.Expression, &st.TimeoutSec, &status)
	if err != nil {
		return domain.Step{}, fmt.Errorf("scan step: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &st.Inputs); err != nil {
		return domain.Step{}, fmt.Errorf("decode inputs of step %q: %w", st.ID, err)
	}
	st.Risk = domain.RiskLevel(risk)
	st.Status = domain.StepStatus(status)
	return st, nil
}

func getStep(ctx context.Context, q querier, sessionID string, version int, stepID string) (domain.Step, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stepColumns+`
		FROM steps WHERE session_id = ? AND plan_version = ? AND step_id = ?
	`, sessionID, version, stepID)
	st, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Step{}, domain.NotFound("step", stepID)
	}
	return st, err
}

// transitionStep moves a step through the step state machine inside tx.
func transitionStep(ctx context.Context, tx *sql.Tx, sessionID string, version int, stepID string, ev domain.StepEvent) (domain.Step, error) {
	st, err := getStep(ctx, tx, sessionID, version, stepID)
	if err != nil {
		return domain.Step{}, err
	}
	next, err := domain.NextStepStatus(st.Status, ev)
	if err != nil {
		return domain.Step{}, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE steps SET status = ? WHERE session_id = ? AND plan_version = ? AND step_id = ?
	`, string(next), sessionID, version, stepID)
	if err != nil {
		return domain.Step{}, fmt.Errorf("update step: %w", err)
	}
	st.Status = next
	return st, nil
}
