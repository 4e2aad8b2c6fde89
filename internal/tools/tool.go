// Package tools defines the capability interface the engine dispatches to,
// the constructed registry of capabilities, and the builtin workspace tools.
//
// The engine treats every tool as opaque: it reads the static Descriptor,
// validates inputs against the descriptor's JSON Schema, and calls Invoke
// with the session workspace. Tools never choose their own workspace.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roach88/calt/internal/domain"
)

// PermissionProfile names what a tool may touch.
type PermissionProfile string

const (
	PermWorkspaceRead  PermissionProfile = "workspace_read"
	PermShellReadonly  PermissionProfile = "shell_readonly"
	PermWorkspaceWrite PermissionProfile = "workspace_write"
)

// Descriptor is the static metadata of a tool.
type Descriptor struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	PermissionProfile PermissionProfile `json:"permission_profile"`
	Risk              domain.RiskLevel  `json:"risk"`
	Mutates           bool              `json:"mutates"`
	Destructive       bool              `json:"destructive"`
	RequiresPreview   bool              `json:"requires_preview"`
	// PreviewTool names the non-mutating tool whose successful run on the
	// same target must precede this one.
	PreviewTool string          `json:"preview_tool,omitempty"`
	Timeout     time.Duration   `json:"-"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// TimeoutSec is the per-tool timeout in whole seconds.
func (d Descriptor) TimeoutSec() int {
	return int(d.Timeout / time.Second)
}

// MarshalJSON adds timeout_sec to the wire form.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type plain Descriptor
	return json.Marshal(struct {
		plain
		TimeoutSec int `json:"timeout_sec"`
	}{plain(d), d.TimeoutSec()})
}

// Call is one invocation request.
type Call struct {
	// Workspace is the absolute path of the session workspace.
	Workspace string
	Inputs    map[string]any
}

// ArtifactData is a file a tool wants recorded alongside its run.
type ArtifactData struct {
	Name    string
	Kind    string
	Content []byte
}

// Outcome is the structured result of a successful invocation.
type Outcome struct {
	Output    map[string]any
	Artifacts []ArtifactData
}

// Tool is a registered capability.
type Tool interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, call Call) (Outcome, error)
}

// Targeter is implemented by tools whose runs act on an identifiable target.
// Preview and apply tools of the same family return the same target for the
// same inputs, which is how an apply run finds its preview.
type Targeter interface {
	Target(workspace string, inputs map[string]any) (string, error)
}
