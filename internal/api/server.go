// Package api serves the engine over token-authenticated HTTP/JSON.
//
// Every route lives under /api/v1 and requires "Authorization: Bearer
// <token>". Lists are wrapped as {"items": [...]}; errors as
// {"error": {"code": ..., "message": ...}}.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/engine"
)

// Prefix is the path prefix of every route.
const Prefix = "/api/v1"

// maxBody bounds request bodies, plan documents included.
const maxBody = 1 << 20

// Server is the HTTP front end of an Engine.
type Server struct {
	engine *engine.Engine
	token  string
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server. An empty token rejects every request.
func New(e *engine.Engine, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: e,
		token:  token,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("POST /sessions", s.handleCreateSession)
	s.handle("GET /sessions", s.handleListSessions)
	s.handle("GET /sessions/{session}", s.handleGetSession)
	s.handle("POST /sessions/{session}/plans/import", s.handleImportPlan)
	s.handle("GET /sessions/{session}/plans/{version}", s.handleGetPlan)
	s.handle("POST /sessions/{session}/plans/{version}/approve", s.handleApprovePlan)
	s.handle("POST /sessions/{session}/steps/{step}/approve", s.handleApproveStep)
	s.handle("POST /sessions/{session}/steps/{step}/skip", s.handleSkipStep)
	s.handle("POST /sessions/{session}/steps/{step}/execute", s.handleExecuteStep)
	s.handle("POST /sessions/{session}/stop", s.handleStopSession)
	s.handle("GET /sessions/{session}/events", s.handleListEvents)
	s.handle("GET /sessions/{session}/events/search", s.handleSearchEvents)
	s.handle("GET /sessions/{session}/runs", s.handleListRuns)
	s.handle("GET /sessions/{session}/artifacts", s.handleListArtifacts)
	s.handle("GET /sessions/{session}/artifacts/{artifact}", s.handleReadArtifact)
	s.handle("GET /tools", s.handleListTools)
	s.handle("GET /tools/{name}/permissions", s.handleToolPermissions)
	s.handle("GET /reports", s.handleReports)
	s.handle("POST /admin/reindex", s.handleReindex)
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	s.mux.Handle(method+" "+Prefix+path, s.authenticate(h))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Info("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start))
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r.Header.Get("Authorization"))
		if !ok || s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			s.writeError(w, r, domain.Errorf(domain.CodeUnauthenticated,
				"authorization header with a valid bearer token is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// listResponse wraps every collection.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

func items[T any](v []T) listResponse[T] {
	if v == nil {
		v = []T{}
	}
	return listResponse[T]{Items: v}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Wrap(domain.CodeInvalidInput, "invalid request body", err)
	}
	return nil
}
