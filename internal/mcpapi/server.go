// Package mcpapi exposes the engine as MCP tools so chat clients can drive
// sessions over stdio.
package mcpapi

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/roach88/calt/internal/engine"
)

// Channel is recorded as the source of every event caused through MCP.
const Channel = "mcp"

// Handlers binds MCP tool calls to an engine.
type Handlers struct {
	engine *engine.Engine
}

// NewServer creates an MCP server with the calt tools registered.
func NewServer(e *engine.Engine, version string) *server.MCPServer {
	h := &Handlers{engine: e}
	s := server.NewMCPServer(
		"calt",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("calt_create_session",
			mcp.WithDescription("Create a session; returns its id"),
			mcp.WithString("goal", mcp.Description("What the session should accomplish")),
			mcp.WithString("mode", mcp.Description("normal or dry_run (default normal)")),
			mcp.WithString("safety_profile", mcp.Description("strict or dev (default strict)")),
			mcp.WithString("actor", mcp.Description("Who is asking")),
		),
		h.CreateSession,
	)

	s.AddTool(
		mcp.NewTool("calt_get_session",
			mcp.WithDescription("Show a session's status and latest plan version"),
			mcp.WithString("session_id", mcp.Required()),
		),
		h.GetSession,
	)

	s.AddTool(
		mcp.NewTool("calt_import_plan",
			mcp.WithDescription("Import a plan document (YAML or JSON) as the session's next plan version"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("document", mcp.Required(), mcp.Description("The plan document text")),
			mcp.WithString("actor"),
		),
		h.ImportPlan,
	)

	s.AddTool(
		mcp.NewTool("calt_approve_plan",
			mcp.WithDescription("Approve a plan version (default: latest)"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithNumber("version", mcp.Description("Plan version; 0 or omitted selects the latest")),
			mcp.WithString("actor"),
		),
		h.ApprovePlan,
	)

	s.AddTool(
		mcp.NewTool("calt_approve_step",
			mcp.WithDescription("Approve one step of the approved plan"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("step_id", mcp.Required()),
			mcp.WithString("actor"),
		),
		h.ApproveStep,
	)

	s.AddTool(
		mcp.NewTool("calt_execute_step",
			mcp.WithDescription("Run one approved step through the safety gate"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("step_id", mcp.Required()),
			mcp.WithBoolean("confirm_high_risk", mcp.Description("Acknowledge a high-risk step under the strict profile")),
			mcp.WithString("actor"),
		),
		h.ExecuteStep,
	)

	s.AddTool(
		mcp.NewTool("calt_stop_session",
			mcp.WithDescription("Cancel a session; no further steps start"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("actor"),
		),
		h.StopSession,
	)

	s.AddTool(
		mcp.NewTool("calt_search_events",
			mcp.WithDescription("Search a session's event log"),
			mcp.WithString("session_id", mcp.Required()),
			mcp.WithString("query", mcp.Description("Free text; empty lists every event")),
			mcp.WithString("type", mcp.Description("Only events of this type")),
			mcp.WithNumber("limit"),
		),
		h.SearchEvents,
	)

	s.AddTool(
		mcp.NewTool("calt_list_artifacts",
			mcp.WithDescription("List artifacts recorded for a session"),
			mcp.WithString("session_id", mcp.Required()),
		),
		h.ListArtifacts,
	)

	s.AddTool(
		mcp.NewTool("calt_list_tools",
			mcp.WithDescription("List registered tools and their permission profiles"),
		),
		h.ListTools,
	)

	return s
}
