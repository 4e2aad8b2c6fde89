package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/engine"
)

func argString(req mcp.CallToolRequest, key string) string {
	s, _ := req.GetArguments()[key].(string)
	return s
}

// argInt accepts JSON numbers, which arrive as float64.
func argInt(req mcp.CallToolRequest, key string) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argBool(req mcp.CallToolRequest, key string) bool {
	b, _ := req.GetArguments()[key].(bool)
	return b
}

func requireString(req mcp.CallToolRequest, key string) (string, error) {
	s := argString(req, key)
	if s == "" {
		return "", fmt.Errorf("%s argument is required", key)
	}
	return s, nil
}

func origin(req mcp.CallToolRequest) engine.Origin {
	return engine.Origin{Actor: argString(req, "actor"), Channel: Channel}
}

// CreateSession implements calt_create_session.
func (h *Handlers) CreateSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.engine.CreateSession(ctx, engine.CreateSessionRequest{
		Goal:          argString(req, "goal"),
		Mode:          domain.Mode(argString(req, "mode")),
		SafetyProfile: domain.SafetyProfile(argString(req, "safety_profile")),
		Origin:        origin(req),
	})
	return result(sess, err)
}

// GetSession implements calt_get_session.
func (h *Handlers) GetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sess, err := h.engine.GetSession(ctx, id)
	return result(sess, err)
}

// ImportPlan implements calt_import_plan.
func (h *Handlers) ImportPlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	doc, err := requireString(req, "document")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	res, err := h.engine.ImportPlan(ctx, id, []byte(doc), origin(req))
	return result(res, err)
}

// ApprovePlan implements calt_approve_plan.
func (h *Handlers) ApprovePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sess, err := h.engine.ApprovePlan(ctx, id, argInt(req, "version"), origin(req))
	return result(sess, err)
}

// ApproveStep implements calt_approve_step.
func (h *Handlers) ApproveStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, stepID, errRes := sessionAndStep(req)
	if errRes != nil {
		return errRes, nil
	}
	st, err := h.engine.ApproveStep(ctx, id, stepID, origin(req))
	return result(st, err)
}

// ExecuteStep implements calt_execute_step. A step that ran and failed is
// reported as an error result carrying the recorded run.
func (h *Handlers) ExecuteStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, stepID, errRes := sessionAndStep(req)
	if errRes != nil {
		return errRes, nil
	}
	res, err := h.engine.ExecuteStep(ctx, engine.ExecuteRequest{
		SessionID:       id,
		StepID:          stepID,
		ConfirmHighRisk: argBool(req, "confirm_high_risk"),
		Origin:          origin(req),
	})
	if err != nil && !(domain.IsExecutionFailure(err) && res.Run.ID != "") {
		return domainError(err), nil
	}
	body := map[string]any{
		"status":    res.Run.Status,
		"session":   res.Session,
		"run":       res.Run,
		"artifacts": res.Artifacts,
	}
	if len(res.Warnings) > 0 {
		body["warnings"] = res.Warnings
	}
	if err != nil {
		body["error"] = errorBody(err)
	}
	out := jsonResult(body)
	out.IsError = err != nil
	return out, nil
}

// StopSession implements calt_stop_session.
func (h *Handlers) StopSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	sess, err := h.engine.StopSession(ctx, id, origin(req))
	return result(sess, err)
}

// SearchEvents implements calt_search_events.
func (h *Handlers) SearchEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	events, err := h.engine.SearchEvents(ctx, engine.SearchRequest{
		SessionID: id,
		Text:      argString(req, "query"),
		Type:      argString(req, "type"),
		Limit:     argInt(req, "limit"),
	})
	return result(items(events), err)
}

// ListArtifacts implements calt_list_artifacts.
func (h *Handlers) ListArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	arts, err := h.engine.ListArtifacts(ctx, id)
	return result(items(arts), err)
}

// ListTools implements calt_list_tools.
func (h *Handlers) ListTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(items(h.engine.ListTools())), nil
}

func sessionAndStep(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return "", "", errorResult(err.Error())
	}
	stepID, err := requireString(req, "step_id")
	if err != nil {
		return "", "", errorResult(err.Error())
	}
	return id, stepID, nil
}

func items[T any](v []T) map[string]any {
	if v == nil {
		v = []T{}
	}
	return map[string]any{"items": v}
}

// result renders v, or err as an error result. Engine errors are returned
// as tool results, never as protocol errors.
func result(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return domainError(err), nil
	}
	return jsonResult(v), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return textResult(string(data))
}

func errorBody(err error) map[string]any {
	code := domain.CodeOf(err)
	body := map[string]any{"code": code, "message": "internal error"}
	if code != domain.CodeInternal {
		body["message"] = err.Error()
	}
	var de *domain.Error
	if errors.As(err, &de) && len(de.Details) > 0 {
		body["details"] = de.Details
	}
	return body
}

func domainError(err error) *mcp.CallToolResult {
	out := jsonResult(map[string]any{"error": errorBody(err)})
	out.IsError = true
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
