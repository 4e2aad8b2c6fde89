package domain

import (
	"errors"
	"fmt"
)

// Code is the client-facing identifier of an error category.
type Code string

const (
	// Policy denials. The caller fixes the precondition and retries.
	CodeApprovalRequired     Code = "approval-required"
	CodeDryRunViolation      Code = "dry-run-violation"
	CodeConfirmationRequired Code = "confirmation-required"
	CodePreviewRequired      Code = "preview-required"
	CodeIsolationRequired    Code = "isolation-required"

	// State errors. The request is rejected without moving the session.
	CodeStateConflict        Code = "state-conflict"
	CodeSessionHalted        Code = "session-halted"
	CodeUnresolvedReference  Code = "unresolved-reference"
	CodeNotFound             Code = "not-found"
	CodeToolNotFound         Code = "tool-not-found"
	CodeInvalidPlan          Code = "invalid-plan"
	CodeInvalidInput         Code = "invalid-input"
	CodeUnauthenticated      Code = "unauthenticated"

	// Execution failures. Terminal for the step and the session.
	CodeTimeout     Code = "timeout"
	CodeToolFailure Code = "tool-failure"

	CodeInternal Code = "internal"
)

// Error is the typed error returned by every engine operation.
//
// Code carries the category; Details carries structured context such as the
// unresolved reference expression or the missing preview tool.
type Error struct {
	Code      Code
	Message   string
	SessionID string
	StepID    string
	Details   map[string]string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.SessionID != "" && e.StepID != "" {
		msg = fmt.Sprintf("%s (session=%s, step=%s)", msg, e.SessionID, e.StepID)
	} else if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session=%s)", msg, e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithStep returns a copy of e scoped to a session and step.
func (e *Error) WithStep(sessionID, stepID string) *Error {
	cp := *e
	cp.SessionID = sessionID
	cp.StepID = stepID
	return &cp
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code of err. Errors that are not *Error map to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// IsPolicyDenial reports whether err is a locally recoverable policy denial.
func IsPolicyDenial(err error) bool {
	switch CodeOf(err) {
	case CodeApprovalRequired, CodeDryRunViolation, CodeConfirmationRequired,
		CodePreviewRequired, CodeIsolationRequired:
		return true
	}
	return false
}

// IsExecutionFailure reports whether err describes a recorded tool failure.
func IsExecutionFailure(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeToolFailure:
		return true
	}
	return false
}

// NotFound reports a missing session, plan version, step or tool.
func NotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, id),
		Details: map[string]string{"kind": kind, "id": id},
	}
}

// StateConflict reports an invalid transition.
func StateConflict(format string, args ...any) *Error {
	return Errorf(CodeStateConflict, format, args...)
}

// UnresolvedReference reports a reference expression that could not be materialized.
func UnresolvedReference(expr, reason string) *Error {
	return &Error{
		Code:    CodeUnresolvedReference,
		Message: "step input reference could not be resolved: " + reason,
		Details: map[string]string{"expression": expr},
	}
}
