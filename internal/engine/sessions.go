package engine

import (
	"context"
	"os"

	"github.com/roach88/calt/internal/domain"
)

// CreateSessionRequest describes a new session. Empty Mode and
// SafetyProfile default to normal and strict.
type CreateSessionRequest struct {
	Goal          string
	Mode          domain.Mode
	SafetyProfile domain.SafetyProfile
	Origin        Origin
}

// CreateSession creates a session with its workspace and artifact
// directories.
func (e *Engine) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	o := req.Origin.withDefaults()
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeNormal
	}
	if mode != domain.ModeNormal && mode != domain.ModeDryRun {
		return domain.Session{}, domain.Errorf(domain.CodeInvalidInput, "unknown mode %q", mode)
	}
	profile := req.SafetyProfile
	if profile == "" {
		profile = domain.ProfileStrict
	}
	if profile != domain.ProfileStrict && profile != domain.ProfileDev {
		return domain.Session{}, domain.Errorf(domain.CodeInvalidInput, "unknown safety profile %q", profile)
	}

	now := e.clock.Now()
	sess := domain.Session{
		ID:            e.ids.Generate(),
		Goal:          req.Goal,
		Mode:          mode,
		SafetyProfile: profile,
		Status:        domain.SessionCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, dir := range []string{e.Workspace(sess.ID), e.artifactDir(sess.ID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.Session{}, internal("create session directories", err)
		}
	}

	ev := e.event(sess.ID, domain.EventSessionCreated, "session created", map[string]any{
		"goal":           sess.Goal,
		"mode":           string(sess.Mode),
		"safety_profile": string(sess.SafetyProfile),
	}, o)
	if err := e.store.CreateSession(ctx, sess, ev); err != nil {
		return domain.Session{}, internal("create session", err)
	}

	e.logger.Info("session created", "session", sess.ID, "mode", sess.Mode, "profile", sess.SafetyProfile)
	return sess, nil
}

// GetSession returns a session with its latest plan version.
func (e *Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, internal("get session", err)
	}
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (e *Engine) ListSessions(ctx context.Context) ([]domain.Session, error) {
	out, err := e.store.ListSessions(ctx)
	if err != nil {
		return nil, internal("list sessions", err)
	}
	return out, nil
}

// StopSession cancels a session. It does not wait for the session mutex:
// an in-flight step runs to completion or timeout and its outcome is
// recorded, but the session stays cancelled and no further step starts.
func (e *Engine) StopSession(ctx context.Context, id string, o Origin) (domain.Session, error) {
	o = o.withDefaults()
	ev := e.event(id, domain.EventSessionStopped, "session stopped", nil, o)
	sess, err := e.store.StopSession(ctx, id, ev)
	if err != nil {
		return domain.Session{}, internal("stop session", err)
	}

	e.logger.Info("session stopped", "session", id, "actor", o.Actor)
	return sess, nil
}
