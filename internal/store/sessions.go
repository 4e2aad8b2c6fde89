package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/calt/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// CreateSession inserts a new session together with its creation event.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session, ev domain.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, goal, mode, safety_profile, status, needs_replan, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sess.ID, sess.Goal, string(sess.Mode), string(sess.SafetyProfile), string(sess.Status),
			boolInt(sess.NeedsReplan), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.StateConflict("session %q already exists", sess.ID)
			}
			return fmt.Errorf("insert session: %w", err)
		}
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
}

// GetSession returns the session with the given id. PlanVersion is the
// latest imported version, zero before the first import.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return getSession(ctx, s.db, id)
}

const sessionColumns = `
	s.id, s.goal, s.mode, s.safety_profile, s.status, s.needs_replan, s.created_at, s.updated_at,
	COALESCE((SELECT MAX(version) FROM plans p WHERE p.session_id = s.id), 0)`

func getSession(ctx context.Context, q querier, id string) (domain.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.NotFound("session", id)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently created first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.created_at DESC, s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(sc scanner) (domain.Session, error) {
	var (
		sess                  domain.Session
		mode, profile, status string
		needsReplan           int
		createdAt, updatedAt  string
	)
	err := sc.Scan(&sess.ID, &sess.Goal, &mode, &profile, &status, &needsReplan,
		&createdAt, &updatedAt, &sess.PlanVersion)
	if err != nil {
		return domain.Session{}, err
	}
	sess.Mode = domain.Mode(mode)
	sess.SafetyProfile = domain.SafetyProfile(profile)
	sess.Status = domain.SessionStatus(status)
	sess.NeedsReplan = needsReplan != 0
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return sess, nil
}

// transitionSession loads the session inside tx, applies ev through the
// domain state machine and persists the result.
func transitionSession(ctx context.Context, tx *sql.Tx, id string, ev domain.SessionEvent, at string) (domain.Session, error) {
	sess, err := getSession(ctx, tx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if err := domain.ApplySession(&sess, ev); err != nil {
		return domain.Session{}, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, needs_replan = ?, updated_at = ? WHERE id = ?
	`, string(sess.Status), boolInt(sess.NeedsReplan), at, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	sess.UpdatedAt = parseTime(at)
	return sess, nil
}

// StopSession cancels the session. Stopping a session that already reached
// a terminal status is a state conflict.
func (s *Store) StopSession(ctx context.Context, id string, ev domain.Event) (domain.Session, error) {
	var sess domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		sess, err = transitionSession(ctx, tx, id, domain.OnStopped, formatTime(ev.CreatedAt))
		if err != nil {
			return err
		}
		_, err = s.appendEvent(ctx, tx, ev)
		return err
	})
	return sess, err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
