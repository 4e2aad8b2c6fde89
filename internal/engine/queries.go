package engine

import (
	"context"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/store"
	"github.com/roach88/calt/internal/tools"
)

// SearchRequest filters a session's events. Empty Text lists them all.
type SearchRequest struct {
	SessionID string
	Text      string
	Type      string
	Limit     int
}

// SearchEvents searches one session's events, oldest first.
func (e *Engine) SearchEvents(ctx context.Context, req SearchRequest) ([]domain.Event, error) {
	if _, err := e.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, internal("get session", err)
	}
	if req.Limit < 0 {
		return nil, domain.Errorf(domain.CodeInvalidInput, "limit must not be negative")
	}
	out, err := e.store.SearchEvents(ctx, store.SearchQuery{
		SessionID: req.SessionID,
		Text:      req.Text,
		Type:      req.Type,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, internal("search events", err)
	}
	return out, nil
}

// ListEvents returns the full event trace of a session in seq order.
func (e *Engine) ListEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, internal("get session", err)
	}
	out, err := e.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, internal("list events", err)
	}
	return out, nil
}

// ListRuns returns every run of a session.
func (e *Engine) ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, internal("get session", err)
	}
	out, err := e.store.ListRuns(ctx, sessionID)
	if err != nil {
		return nil, internal("list runs", err)
	}
	return out, nil
}

// ListTools returns every registered tool descriptor sorted by name.
func (e *Engine) ListTools() []tools.Descriptor {
	return e.registry.Descriptors()
}

// ToolPermissions returns the descriptor of one tool.
func (e *Engine) ToolPermissions(name string) (tools.Descriptor, error) {
	d, err := e.registry.Descriptor(name)
	if err != nil {
		return tools.Descriptor{}, err
	}
	return d, nil
}

// RebuildSearchIndex repopulates the full-text index from the event log.
func (e *Engine) RebuildSearchIndex(ctx context.Context) error {
	if err := e.store.RebuildSearchIndex(ctx); err != nil {
		return internal("rebuild search index", err)
	}
	e.logger.Info("search index rebuilt", "full_text", e.store.FullTextEnabled())
	return nil
}

// Report aggregates run statistics.
type Report struct {
	SuccessRates   []store.ToolSuccessRate `json:"success_rates"`
	Durations      []store.StepDuration    `json:"durations"`
	FailureReasons []store.FailureReason   `json:"failure_reasons"`
}

// Reports returns run statistics across all sessions. A non-empty sessionID
// narrows the failure reasons to that session.
func (e *Engine) Reports(ctx context.Context, sessionID string) (Report, error) {
	if sessionID != "" {
		if _, err := e.store.GetSession(ctx, sessionID); err != nil {
			return Report{}, internal("get session", err)
		}
	}
	var (
		r   Report
		err error
	)
	if r.SuccessRates, err = e.store.ToolSuccessRates(ctx); err != nil {
		return Report{}, internal("tool success rates", err)
	}
	if r.Durations, err = e.store.StepDurations(ctx); err != nil {
		return Report{}, internal("step durations", err)
	}
	if r.FailureReasons, err = e.store.FailureReasons(ctx, sessionID); err != nil {
		return Report{}, internal("failure reasons", err)
	}
	return r, nil
}
