package store

import (
	"context"
	"fmt"
	"time"
)

// ToolSuccessRate is one row of v_run_success_rate_by_tool.
type ToolSuccessRate struct {
	Tool        string  `json:"tool"`
	TotalRuns   int     `json:"total_runs"`
	Succeeded   int     `json:"succeeded_runs"`
	SuccessRate float64 `json:"success_rate"`
}

// StepDuration is one row of v_step_duration_ms_p50_p95. Percentiles use
// the nearest-rank method.
type StepDuration struct {
	Tool    string `json:"tool"`
	Samples int    `json:"samples"`
	P50Ms   int64  `json:"p50_ms"`
	P95Ms   int64  `json:"p95_ms"`
}

// FailureReason is one row of v_session_failure_reasons.
type FailureReason struct {
	SessionID    string    `json:"session_id"`
	Kind         string    `json:"error_kind"`
	Failures     int       `json:"failures"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// ToolSuccessRates reports run outcomes per tool.
func (s *Store) ToolSuccessRates(ctx context.Context) ([]ToolSuccessRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, total_runs, succeeded_runs, success_rate
		FROM v_run_success_rate_by_tool ORDER BY tool_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("tool success rates: %w", err)
	}
	defer rows.Close()

	out := []ToolSuccessRate{}
	for rows.Next() {
		var r ToolSuccessRate
		if err := rows.Scan(&r.Tool, &r.TotalRuns, &r.Succeeded, &r.SuccessRate); err != nil {
			return nil, fmt.Errorf("scan success rate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StepDurations reports p50/p95 run durations per tool.
func (s *Store) StepDurations(ctx context.Context) ([]StepDuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, samples, p50_ms, p95_ms
		FROM v_step_duration_ms_p50_p95 ORDER BY tool_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("step durations: %w", err)
	}
	defer rows.Close()

	out := []StepDuration{}
	for rows.Next() {
		var d StepDuration
		if err := rows.Scan(&d.Tool, &d.Samples, &d.P50Ms, &d.P95Ms); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FailureReasons reports failed runs grouped by session and failure kind.
// An empty sessionID returns all sessions.
func (s *Store) FailureReasons(ctx context.Context, sessionID string) ([]FailureReason, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, error_kind, failures, last_failed_at
		FROM v_session_failure_reasons
		WHERE ? = '' OR session_id = ?
		ORDER BY session_id ASC, error_kind ASC
	`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failure reasons: %w", err)
	}
	defer rows.Close()

	out := []FailureReason{}
	for rows.Next() {
		var r FailureReason
		var last string
		if err := rows.Scan(&r.SessionID, &r.Kind, &r.Failures, &last); err != nil {
			return nil, fmt.Errorf("scan failure reason: %w", err)
		}
		r.LastFailedAt = parseTime(last)
		out = append(out, r)
	}
	return out, rows.Err()
}
