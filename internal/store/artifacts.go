package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/calt/internal/domain"
)

func insertArtifact(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, session_id, run_id, step_id, plan_version, name, kind, path, sha256, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.SessionID, a.RunID, a.StepID, a.PlanVersion, a.Name, a.Kind, a.Path, a.SHA256, a.Size,
		formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert artifact %q: %w", a.Name, err)
	}
	return nil
}

// ListArtifacts returns the session's artifacts in creation order.
func (s *Store) ListArtifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, run_id, step_id, plan_version, name, kind, path, sha256, size, created_at
		FROM artifacts WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := []domain.Artifact{}
	for rows.Next() {
		var a domain.Artifact
		var createdAt string
		err := rows.Scan(&a.ID, &a.SessionID, &a.RunID, &a.StepID, &a.PlanVersion, &a.Name, &a.Kind,
			&a.Path, &a.SHA256, &a.Size, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
