package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
)

const (
	// DefaultSearchLimit bounds search results when the caller passes zero.
	DefaultSearchLimit = 100
	// MaxSearchLimit caps any caller-supplied limit.
	MaxSearchLimit = 1000
)

// AppendEvent records a standalone event and returns it with its assigned seq.
func (s *Store) AppendEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	return s.appendEvent(ctx, s.db, ev)
}

func (s *Store) appendEvent(ctx context.Context, q querier, ev domain.Event) (domain.Event, error) {
	ev.Summary = s.redactor.Text(ev.Summary)
	ev.Payload, _ = s.redactor.Payload(ev.Payload)

	payloadText := ""
	if len(ev.Payload) > 0 {
		data, err := canonical.Marshal(ev.Payload)
		if err != nil {
			return domain.Event{}, fmt.Errorf("encode payload of %s event: %w", ev.Type, err)
		}
		payloadText = string(data)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO events (session_id, run_id, event_type, summary, payload_text, source, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, ev.RunID, ev.Type, ev.Summary, payloadText, ev.Source, ev.Actor, formatTime(ev.CreatedAt))
	if err != nil {
		return domain.Event{}, fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, fmt.Errorf("event seq: %w", err)
	}
	ev.Seq = seq
	return ev, nil
}

const eventColumns = `e.seq, e.session_id, e.run_id, e.event_type, e.summary, e.payload_text, e.source, e.actor, e.created_at`

func scanEvent(sc scanner) (domain.Event, error) {
	var (
		ev                     domain.Event
		payloadText, createdAt string
	)
	err := sc.Scan(&ev.Seq, &ev.SessionID, &ev.RunID, &ev.Type, &ev.Summary, &payloadText,
		&ev.Source, &ev.Actor, &createdAt)
	if err != nil {
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}
	if payloadText != "" {
		if err := json.Unmarshal([]byte(payloadText), &ev.Payload); err != nil {
			return domain.Event{}, fmt.Errorf("decode payload of event %d: %w", ev.Seq, err)
		}
	}
	ev.CreatedAt = parseTime(createdAt)
	return ev, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListEvents returns every event of the session in seq order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+`
		FROM events e WHERE e.session_id = ? ORDER BY e.seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// SearchQuery filters a session's events.
type SearchQuery struct {
	SessionID string
	// Text is matched against summaries and payloads. Empty matches all.
	Text string
	// Type restricts results to one event type when set.
	Type  string
	Limit int
}

// SearchEvents returns matching events ordered by seq ascending.
//
// With FTS5 available the text is matched as a conjunction of quoted
// tokens. When the index errors, is missing or finds nothing, every token
// must instead appear as a case-insensitive substring of the summary, the
// payload or the event type.
func (s *Store) SearchEvents(ctx context.Context, q SearchQuery) ([]domain.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	tokens := strings.Fields(norm.NFC.String(q.Text))

	if len(tokens) > 0 && s.fts {
		events, err := s.searchFullText(ctx, q.SessionID, tokens, q.Type, limit)
		if err == nil && len(events) > 0 {
			return events, nil
		}
		if err != nil {
			slog.Debug("full-text search failed, using substring scan", "session_id", q.SessionID, "error", err)
		}
	}

	events, err := s.searchLike(ctx, q.SessionID, tokens, q.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return events, nil
}

func (s *Store) searchFullText(ctx context.Context, sessionID string, tokens []string, eventType string, limit int) ([]domain.Event, error) {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}

	query := `SELECT ` + eventColumns + `
		FROM events_fts f JOIN events e ON e.seq = f.rowid
		WHERE events_fts MATCH ? AND e.session_id = ?`
	args := []any{strings.Join(quoted, " "), sessionID}
	if eventType != "" {
		query += ` AND e.event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY e.seq ASC LIMIT ?`
	args = append(args, limit)

	return s.queryEvents(ctx, query, args...)
}

func (s *Store) searchLike(ctx context.Context, sessionID string, tokens []string, eventType string, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.session_id = ?`
	args := []any{sessionID}
	if eventType != "" {
		query += ` AND e.event_type = ?`
		args = append(args, eventType)
	}
	for _, tok := range tokens {
		pattern := "%" + escapeLike(tok) + "%"
		query += ` AND (e.summary LIKE ? ESCAPE '\' OR e.payload_text LIKE ? ESCAPE '\' OR e.event_type LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY e.seq ASC LIMIT ?`
	args = append(args, limit)

	return s.queryEvents(ctx, query, args...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RebuildSearchIndex reconstructs the full-text projection from the events
// table. It is a no-op when FTS5 is unavailable.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	if !s.fts {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO events_fts(events_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	return nil
}
