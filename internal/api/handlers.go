package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/engine"
)

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	Goal          string `json:"goal"`
	Mode          string `json:"mode"`
	SafetyProfile string `json:"safety_profile"`
	Actor         string `json:"actor"`
}

// approvalRequest is the optional body of the approve endpoints.
type approvalRequest struct {
	ApprovedBy string `json:"approved_by"`
	Source     string `json:"source"`
}

func (a approvalRequest) origin() engine.Origin {
	return engine.Origin{Actor: a.ApprovedBy, Channel: a.Source}
}

// executeRequest is the optional body of POST .../execute.
type executeRequest struct {
	ConfirmHighRisk bool   `json:"confirm_high_risk"`
	Actor           string `json:"actor"`
	Source          string `json:"source"`
}

// ExecuteResponse reports a dispatched step. Status is the run status;
// Error is set when the step ran and failed.
type ExecuteResponse struct {
	Status domain.RunStatus `json:"status"`
	engine.ExecuteResult
	Error *ErrorBody `json:"error,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.CreateSession(r.Context(), engine.CreateSessionRequest{
		Goal:          req.Goal,
		Mode:          domain.Mode(req.Mode),
		SafetyProfile: domain.SafetyProfile(req.SafetyProfile),
		Origin:        engine.Origin{Actor: req.Actor},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items(out))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleImportPlan takes the plan document (JSON or YAML) as the raw body.
func (s *Server) handleImportPlan(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.CodeInvalidInput, "read plan document", err))
		return
	}
	res, err := s.engine.ImportPlan(r.Context(), r.PathValue("session"), doc, engine.Origin{
		Actor: r.URL.Query().Get("actor"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

// planVersion parses {version}: a positive integer or "latest".
func planVersion(r *http.Request) (int, error) {
	raw := r.PathValue("version")
	if raw == "latest" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, domain.Errorf(domain.CodeInvalidInput, "plan version must be a positive integer or \"latest\", got %q", raw)
	}
	return v, nil
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	version, err := planVersion(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.GetPlan(r.Context(), r.PathValue("session"), version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	version, err := planVersion(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.ApprovePlan(r.Context(), r.PathValue("session"), version, req.origin())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleApproveStep(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.engine.ApproveStep(r.Context(), r.PathValue("session"), r.PathValue("step"), req.origin())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSkipStep(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.SkipStep(r.Context(), r.PathValue("session"), r.PathValue("step"), req.origin())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.ExecuteStep(r.Context(), engine.ExecuteRequest{
		SessionID:       r.PathValue("session"),
		StepID:          r.PathValue("step"),
		ConfirmHighRisk: req.ConfirmHighRisk,
		Origin:          engine.Origin{Actor: req.Actor, Channel: req.Source},
	})
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, ExecuteResponse{Status: res.Run.Status, ExecuteResult: res})
	case domain.IsExecutionFailure(err) && res.Run.ID != "":
		body := bodyOf(err)
		s.writeJSON(w, http.StatusOK, ExecuteResponse{Status: res.Run.Status, ExecuteResult: res, Error: &body})
	default:
		s.writeError(w, r, err)
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.StopSession(r.Context(), r.PathValue("session"), req.origin())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ListEvents(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items(out))
}

// handleSearchEvents accepts q (free text), type and limit.
func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, domain.Errorf(domain.CodeInvalidInput, "limit must be an integer, got %q", raw))
			return
		}
		limit = n
	}
	out, err := s.engine.SearchEvents(r.Context(), engine.SearchRequest{
		SessionID: r.PathValue("session"),
		Text:      q.Get("q"),
		Type:      q.Get("type"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items(out))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ListRuns(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items(out))
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ListArtifacts(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items(out))
}

// handleReadArtifact streams the stored artifact bytes.
func (s *Server) handleReadArtifact(w http.ResponseWriter, r *http.Request) {
	a, data, err := s.engine.ReadArtifact(r.Context(), r.PathValue("session"), r.PathValue("artifact"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ct := "text/plain; charset=utf-8"
	if a.Kind == domain.ArtifactResult {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Artifact-Sha256", a.SHA256)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write artifact", "artifact", a.ID, "error", err)
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, items(s.engine.ListTools()))
}

func (s *Server) handleToolPermissions(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.ToolPermissions(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.Reports(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RebuildSearchIndex(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"full_text": s.engine.Store().FullTextEnabled(),
	})
}
