package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/calt/internal/domain"
)

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// Patch errors.
var (
	ErrPatchFormat = errors.New("malformed patch")
	ErrPatchApply  = errors.New("patch does not apply")
)

type hunk struct {
	oldStart int
	lines    []string
}

// filePatch is a parsed single-file unified diff.
type filePatch struct {
	path  string
	hunks []hunk
}

func patchLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if i := strings.IndexAny(label, "\t "); i >= 0 {
		label = label[:i]
	}
	if strings.HasPrefix(label, "a/") || strings.HasPrefix(label, "b/") {
		label = label[2:]
	}
	return label
}

// parsePatch parses a single-file unified diff. File deletion and
// multi-file patches are rejected.
func parsePatch(text string) (filePatch, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	header := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "--- ") {
			header = i
			break
		}
	}
	if header < 0 || header+1 >= len(lines) || !strings.HasPrefix(lines[header+1], "+++ ") {
		return filePatch{}, fmt.Errorf("%w: missing ---/+++ headers", ErrPatchFormat)
	}

	oldPath := patchLabel(lines[header][4:])
	newPath := patchLabel(lines[header+1][4:])
	if newPath == "/dev/null" {
		return filePatch{}, fmt.Errorf("%w: file deletion is not supported", ErrPatchFormat)
	}
	fp := filePatch{path: newPath}
	if fp.path == "" {
		fp.path = oldPath
	}
	if fp.path == "" || fp.path == "/dev/null" {
		return filePatch{}, fmt.Errorf("%w: invalid target path", ErrPatchFormat)
	}

	for i := header + 2; i < len(lines); {
		l := lines[i]
		switch {
		case strings.HasPrefix(l, "--- "):
			return filePatch{}, fmt.Errorf("%w: multiple file patches are not supported", ErrPatchFormat)
		case !strings.HasPrefix(l, "@@ "):
			i++
			continue
		}
		m := hunkHeader.FindStringSubmatch(l)
		if m == nil {
			return filePatch{}, fmt.Errorf("%w: invalid hunk header %q", ErrPatchFormat, l)
		}
		start, _ := strconv.Atoi(m[1])
		h := hunk{oldStart: start}
		i++
		for i < len(lines) && !strings.HasPrefix(lines[i], "@@ ") && !strings.HasPrefix(lines[i], "--- ") {
			h.lines = append(h.lines, lines[i])
			i++
		}
		fp.hunks = append(fp.hunks, h)
	}
	if len(fp.hunks) == 0 {
		return filePatch{}, fmt.Errorf("%w: no hunks", ErrPatchFormat)
	}
	return fp, nil
}

// apply applies hunks to before. Context and removed lines must match exactly.
func (fp filePatch) apply(before string) (string, error) {
	old := strings.Split(before, "\n")
	if strings.HasSuffix(before, "\n") || before == "" {
		old = old[:len(old)-1]
	}

	var result []string
	cursor := 0
	for _, h := range fp.hunks {
		start := h.oldStart - 1
		if start < 0 {
			start = 0
		}
		if start < cursor || start > len(old) {
			return "", fmt.Errorf("%w: invalid hunk start %d", ErrPatchApply, h.oldStart)
		}
		result = append(result, old[cursor:start]...)
		cursor = start

		for _, raw := range h.lines {
			if strings.HasPrefix(raw, `\ No newline at end of file`) {
				continue
			}
			if raw == "" {
				return "", fmt.Errorf("%w: empty hunk line", ErrPatchApply)
			}
			op, text := raw[0], raw[1:]
			switch op {
			case ' ', '-':
				if cursor >= len(old) || old[cursor] != text {
					return "", fmt.Errorf("%w: line %d does not match", ErrPatchApply, cursor+1)
				}
				if op == ' ' {
					result = append(result, text)
				}
				cursor++
			case '+':
				result = append(result, text)
			default:
				return "", fmt.Errorf("%w: unsupported hunk operation %q", ErrPatchApply, op)
			}
		}
	}
	result = append(result, old[cursor:]...)

	after := strings.Join(result, "\n")
	if (strings.HasSuffix(before, "\n") || before == "") && after != "" {
		after += "\n"
	}
	return after, nil
}

// PatchInput is the input of apply_patch_preview and apply_patch_apply.
type PatchInput struct {
	Patch   string      `json:"patch" jsonschema:"minLength=1,description=single-file unified diff"`
	Preview *PreviewRef `json:"preview,omitempty" jsonschema:"description=preview output the apply is pinned against (required by apply_patch_apply)"`
}

type patchTool struct {
	apply   bool
	timeout time.Duration
}

// NewPatchPreview returns apply_patch_preview.
func NewPatchPreview(timeout time.Duration) Tool { return patchTool{timeout: timeout} }

// NewPatchApply returns apply_patch_apply.
func NewPatchApply(timeout time.Duration) Tool { return patchTool{apply: true, timeout: timeout} }

func (t patchTool) Descriptor() Descriptor {
	if !t.apply {
		return Descriptor{
			Name:              "apply_patch_preview",
			Description:       "Check a unified diff against the workspace and show the resulting change.",
			PermissionProfile: PermWorkspaceRead,
			Risk:              domain.RiskLow,
			Timeout:           t.timeout,
			InputSchema:       mustReflect("apply_patch_preview", &PatchInput{}),
		}
	}
	return Descriptor{
		Name:              "apply_patch_apply",
		Description:       "Apply a unified diff to the workspace after a matching preview.",
		PermissionProfile: PermWorkspaceWrite,
		Risk:              domain.RiskHigh,
		Mutates:           true,
		Destructive:       true,
		RequiresPreview:   true,
		PreviewTool:       "apply_patch_preview",
		Timeout:           t.timeout,
		InputSchema:       mustReflect("apply_patch_apply", &PatchInput{}),
	}
}

func (t patchTool) Target(workspace string, inputs map[string]any) (string, error) {
	fp, err := parsePatch(stringInput(inputs, "patch"))
	if err != nil {
		return "", err
	}
	_, rel, err := resolvePath(workspace, fp.path)
	return rel, err
}

func (t patchTool) Invoke(_ context.Context, call Call) (Outcome, error) {
	var in PatchInput
	if err := decodeInputs(call.Inputs, &in); err != nil {
		return Outcome{}, err
	}
	fp, err := parsePatch(in.Patch)
	if err != nil {
		return Outcome{}, err
	}
	abs, rel, err := resolvePath(call.Workspace, fp.path)
	if err != nil {
		return Outcome{}, err
	}
	before, err := readIfExists(abs)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", rel, err)
	}
	after, err := fp.apply(before)
	if err != nil {
		return Outcome{}, err
	}
	p, err := buildPreview(rel, before, after)
	if err != nil {
		return Outcome{}, err
	}

	if !t.apply {
		out, err := toOutput(p)
		return Outcome{Output: out, Artifacts: diffArtifact(p)}, err
	}

	if err := checkPreview("apply_patch_apply", in.Preview, p); err != nil {
		return Outcome{}, err
	}
	if err := writeFile(abs, after); err != nil {
		return Outcome{}, fmt.Errorf("write %s: %w", rel, err)
	}
	out, err := toOutput(Applied{Preview: p, Applied: true})
	return Outcome{Output: out}, err
}
