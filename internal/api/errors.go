package api

import (
	"errors"
	"net/http"

	"github.com/roach88/calt/internal/domain"
)

// ErrorBody is the wire form of a domain error.
type ErrorBody struct {
	Code      domain.Code       `json:"code"`
	Message   string            `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
	StepID    string            `json:"step_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code domain.Code) int {
	switch code {
	case domain.CodeNotFound, domain.CodeToolNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeApprovalRequired, domain.CodeDryRunViolation, domain.CodeConfirmationRequired,
		domain.CodePreviewRequired, domain.CodeIsolationRequired:
		return http.StatusForbidden
	case domain.CodeStateConflict, domain.CodeSessionHalted, domain.CodeUnresolvedReference:
		return http.StatusConflict
	case domain.CodeInvalidPlan, domain.CodeInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// bodyOf converts err for the client. Untyped errors never leak their text.
func bodyOf(err error) ErrorBody {
	var de *domain.Error
	if !errors.As(err, &de) || de.Code == domain.CodeInternal {
		return ErrorBody{Code: domain.CodeInternal, Message: "internal error"}
	}
	msg := de.Message
	if de.Err != nil && de.Code != domain.CodeInternal {
		msg += ": " + de.Err.Error()
	}
	return ErrorBody{
		Code:      de.Code,
		Message:   msg,
		SessionID: de.SessionID,
		StepID:    de.StepID,
		Details:   de.Details,
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := bodyOf(err)
	status := StatusOf(body.Code)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: body})
}
