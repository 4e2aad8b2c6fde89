package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/calt/internal/domain"
)

// ApprovePlan records a plan-level approval and moves the session to
// awaiting_step_approval. A second approval of the same version is a state
// conflict.
func (s *Store) ApprovePlan(ctx context.Context, a domain.Approval, ev domain.Event) (domain.Session, error) {
	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertApproval(ctx, tx, a); err != nil {
			return err
		}
		var err error
		sess, err = transitionSession(ctx, tx, a.SessionID, domain.OnPlanApproved, formatTime(a.CreatedAt))
		if err != nil {
			return err
		}
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
	return sess, err
}

// ApproveStep records a step approval and moves the step from pending to
// approved.
func (s *Store) ApproveStep(ctx context.Context, a domain.Approval, ev domain.Event) (domain.Step, error) {
	var st domain.Step
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		st, err = transitionStep(ctx, tx, a.SessionID, a.PlanVersion, a.StepID, domain.OnStepApproved)
		if err != nil {
			return err
		}
		if err := insertApproval(ctx, tx, a); err != nil {
			return err
		}
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
	return st, err
}

func insertApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO approvals (session_id, plan_version, step_id, approver, channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.SessionID, a.PlanVersion, a.StepID, a.Approver, a.Channel, formatTime(a.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			if a.StepID == "" {
				return domain.StateConflict("plan version %d is already approved", a.PlanVersion)
			}
			return domain.StateConflict("step %q is already approved", a.StepID)
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// ListApprovals returns every approval recorded for a session in insertion
// order.
func (s *Store) ListApprovals(ctx context.Context, sessionID string) ([]domain.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, plan_version, step_id, approver, channel, created_at
		FROM approvals WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var createdAt string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.PlanVersion, &a.StepID, &a.Approver, &a.Channel, &createdAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// StepApproved reports whether an approval exists for the step instance.
func (s *Store) StepApproved(ctx context.Context, sessionID string, version int, stepID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM approvals WHERE session_id = ? AND plan_version = ? AND step_id = ?)
	`, sessionID, version, stepID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("step approved: %w", err)
	}
	return ok, nil
}
