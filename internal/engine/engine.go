package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/gate"
	"github.com/roach88/calt/internal/store"
	"github.com/roach88/calt/internal/tools"
)

// Default attribution for requests that do not name an actor or channel.
const (
	DefaultActor   = "system"
	DefaultChannel = "api"
)

// Origin identifies who asked for an operation and through which surface
// (api, mcp, cli). It is copied onto every event and approval the operation
// records.
type Origin struct {
	Actor   string
	Channel string
}

func (o Origin) withDefaults() Origin {
	if o.Actor == "" {
		o.Actor = DefaultActor
	}
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	return o
}

// Engine owns the session lifecycle. It is safe for concurrent use.
type Engine struct {
	store    *store.Store
	registry *tools.Registry
	dataRoot string
	probe    gate.Probe
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu      sync.Mutex
	holders int // guarded by Engine.locksMu
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the wall clock used for timestamps.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator for session, run and artifact ids.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithProbe sets the isolation probe consulted by the safety gate.
// Default: gate.NewContainerProbe().
func WithProbe(p gate.Probe) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over an open store and a constructed tool registry.
// Session workspaces and artifacts live under dataRoot.
func New(s *store.Store, registry *tools.Registry, dataRoot string, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine: store is required")
	}
	if registry == nil {
		return nil, errors.New("engine: tool registry is required")
	}
	if dataRoot == "" {
		return nil, errors.New("engine: data root is required")
	}
	root, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: data root: %w", err)
	}

	e := &Engine{
		store:    s,
		registry: registry,
		dataRoot: root,
		probe:    gate.NewContainerProbe(),
		clock:    domain.SystemClock{},
		ids:      domain.UUIDv7Generator{},
		locks:    make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Registry returns the tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Start publishes the tool registry to storage and recovers steps left
// running by a previous process. Call it once before serving requests.
func (e *Engine) Start(ctx context.Context) (RecoveryReport, error) {
	if err := e.store.SyncTools(ctx, e.registry.Descriptors()); err != nil {
		return RecoveryReport{}, fmt.Errorf("sync tool registry: %w", err)
	}
	return e.Recover(ctx)
}

// lock serializes state-changing operations on one session. The entry is
// dropped once no caller holds or waits for it.
func (e *Engine) lock(sessionID string) func() {
	e.locksMu.Lock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		e.locks[sessionID] = l
	}
	l.holders++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(e.locks, sessionID)
		}
		e.locksMu.Unlock()
	}
}

func (e *Engine) sessionDir(sessionID string) string {
	return filepath.Join(e.dataRoot, "sessions", sessionID)
}

// Workspace returns the absolute workspace directory of a session.
func (e *Engine) Workspace(sessionID string) string {
	return filepath.Join(e.sessionDir(sessionID), "workspace")
}

func (e *Engine) artifactDir(sessionID string) string {
	return filepath.Join(e.sessionDir(sessionID), "artifacts")
}

func (e *Engine) event(sessionID, typ, summary string, payload map[string]any, o Origin) domain.Event {
	return domain.Event{
		SessionID: sessionID,
		Type:      typ,
		Summary:   summary,
		Payload:   payload,
		Source:    o.Channel,
		Actor:     o.Actor,
		CreatedAt: e.clock.Now(),
	}
}

// internal wraps storage and filesystem errors that are not already typed.
func internal(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.CodeInternal, op, err)
}
