package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
)

// ErrPreviewMismatch is returned when a provided preview no longer matches
// the live file state.
var ErrPreviewMismatch = errors.New("provided preview does not match current file state")

// ErrPreviewMissing is returned when an apply call carries no preview.
var ErrPreviewMissing = errors.New("preview is required")

// Preview describes the change an apply run would make.
type Preview struct {
	Path      string `json:"path"`
	Changed   bool   `json:"changed"`
	Diff      string `json:"diff"`
	OldSHA256 string `json:"old_sha256"`
	NewSHA256 string `json:"new_sha256"`
}

// PreviewRef is the subset of a preview an apply call may carry to pin the
// change it was approved against.
type PreviewRef struct {
	Path      string `json:"path,omitempty"`
	Diff      string `json:"diff,omitempty"`
	NewSHA256 string `json:"new_sha256,omitempty"`
}

// Applied is the output of an apply tool.
type Applied struct {
	Preview
	Applied bool `json:"applied"`
}

func buildPreview(rel, before, after string) (Preview, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return Preview{}, fmt.Errorf("build diff: %w", err)
	}
	return Preview{
		Path:      rel,
		Changed:   before != after,
		Diff:      diff,
		OldSHA256: canonical.SHA256([]byte(before)),
		NewSHA256: canonical.SHA256([]byte(after)),
	}, nil
}

// splitLines splits s into newline-terminated lines. Unlike
// difflib.SplitLines it yields nothing for empty input.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

func checkPreview(tool string, provided *PreviewRef, actual Preview) error {
	if provided == nil {
		return fmt.Errorf("%w for %s", ErrPreviewMissing, tool)
	}
	if provided.Path != actual.Path || provided.NewSHA256 == "" || provided.NewSHA256 != actual.NewSHA256 {
		return ErrPreviewMismatch
	}
	// The diff is optional: a diff carrying secrets is stored redacted and
	// cannot be referenced, so such applies pin by hash alone.
	if provided.Diff != "" && provided.Diff != actual.Diff {
		return ErrPreviewMismatch
	}
	return nil
}

func readIfExists(abs string) (string, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", unwrapPathError(err)
	}
	return string(data), nil
}

func writeFile(abs, content string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return unwrapPathError(err)
	}
	return unwrapPathError(os.WriteFile(abs, []byte(content), 0o644))
}

func diffArtifact(p Preview) []ArtifactData {
	if p.Diff == "" {
		return nil
	}
	return []ArtifactData{{Name: "preview.diff", Kind: domain.ArtifactDiff, Content: []byte(p.Diff)}}
}

// WriteFileInput is the input of write_file_preview and write_file_apply.
type WriteFileInput struct {
	Path    string      `json:"path" jsonschema:"minLength=1,description=file path relative to the workspace"`
	Content string      `json:"content" jsonschema:"description=full new file content"`
	Preview *PreviewRef `json:"preview,omitempty" jsonschema:"description=preview output the apply is pinned against (required by write_file_apply)"`
}

type writeTool struct {
	apply   bool
	timeout time.Duration
}

// NewWriteFilePreview returns write_file_preview.
func NewWriteFilePreview(timeout time.Duration) Tool { return writeTool{timeout: timeout} }

// NewWriteFileApply returns write_file_apply.
func NewWriteFileApply(timeout time.Duration) Tool { return writeTool{apply: true, timeout: timeout} }

func (t writeTool) Descriptor() Descriptor {
	if !t.apply {
		return Descriptor{
			Name:              "write_file_preview",
			Description:       "Show the diff a full-file write would produce, without writing.",
			PermissionProfile: PermWorkspaceRead,
			Risk:              domain.RiskLow,
			Timeout:           t.timeout,
			InputSchema:       mustReflect("write_file_preview", &WriteFileInput{}),
		}
	}
	return Descriptor{
		Name:              "write_file_apply",
		Description:       "Write full file content into the workspace after a matching preview.",
		PermissionProfile: PermWorkspaceWrite,
		Risk:              domain.RiskHigh,
		Mutates:           true,
		Destructive:       true,
		RequiresPreview:   true,
		PreviewTool:       "write_file_preview",
		Timeout:           t.timeout,
		InputSchema:       mustReflect("write_file_apply", &WriteFileInput{}),
	}
}

func (t writeTool) Target(workspace string, inputs map[string]any) (string, error) {
	_, rel, err := resolvePath(workspace, stringInput(inputs, "path"))
	return rel, err
}

func (t writeTool) Invoke(_ context.Context, call Call) (Outcome, error) {
	var in WriteFileInput
	if err := decodeInputs(call.Inputs, &in); err != nil {
		return Outcome{}, err
	}
	abs, rel, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return Outcome{}, err
	}
	before, err := readIfExists(abs)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", rel, err)
	}
	p, err := buildPreview(rel, before, in.Content)
	if err != nil {
		return Outcome{}, err
	}

	if !t.apply {
		out, err := toOutput(p)
		return Outcome{Output: out, Artifacts: diffArtifact(p)}, err
	}

	if err := checkPreview("write_file_apply", in.Preview, p); err != nil {
		return Outcome{}, err
	}
	if err := writeFile(abs, in.Content); err != nil {
		return Outcome{}, fmt.Errorf("write %s: %w", rel, err)
	}
	out, err := toOutput(Applied{Preview: p, Applied: true})
	return Outcome{Output: out}, err
}
