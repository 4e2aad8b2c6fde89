package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/tools"
)

// SyncTools replaces the persisted tool registry with descs so SQL reports
// can join runs against tool metadata.
func (s *Store) SyncTools(ctx context.Context, descs []tools.Descriptor) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tool_registry`); err != nil {
			return fmt.Errorf("clear tool registry: %w", err)
		}
		for _, d := range descs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tool_registry (
					name, description, permission_profile, risk, mutates, destructive,
					requires_preview, preview_tool, timeout_sec, input_schema
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, d.Name, d.Description, string(d.PermissionProfile), string(d.Risk), boolInt(d.Mutates),
				boolInt(d.Destructive), boolInt(d.RequiresPreview), d.PreviewTool, d.TimeoutSec(),
				string(d.InputSchema))
			if err != nil {
				return fmt.Errorf("insert tool %q: %w", d.Name, err)
			}
		}
		return nil
	})
}

// RegisteredTools returns the persisted tool registry ordered by name.
func (s *Store) RegisteredTools(ctx context.Context) ([]tools.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, permission_profile, risk, mutates, destructive,
			requires_preview, preview_tool, timeout_sec, input_schema
		FROM tool_registry ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tool registry: %w", err)
	}
	defer rows.Close()

	var out []tools.Descriptor
	for rows.Next() {
		var (
			d                             tools.Descriptor
			perm, risk, schema            string
			mutates, destructive, preview int
			timeoutSec                    int
		)
		err := rows.Scan(&d.Name, &d.Description, &perm, &risk, &mutates, &destructive,
			&preview, &d.PreviewTool, &timeoutSec, &schema)
		if err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		d.PermissionProfile = tools.PermissionProfile(perm)
		d.Risk = domain.RiskLevel(risk)
		d.Mutates = mutates != 0
		d.Destructive = destructive != 0
		d.RequiresPreview = preview != 0
		d.Timeout = time.Duration(timeoutSec) * time.Second
		if schema != "" {
			d.InputSchema = []byte(schema)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
