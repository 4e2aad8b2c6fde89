package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/roach88/calt/internal/domain"
)

// ReadFileInput is the input of read_file.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"minLength=1,description=file path relative to the workspace"`
}

// ReadFileOutput is the output of read_file.
type ReadFileOutput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type readFile struct{ timeout time.Duration }

// NewReadFile returns the read_file tool.
func NewReadFile(timeout time.Duration) Tool { return readFile{timeout: timeout} }

func (t readFile) Descriptor() Descriptor {
	return Descriptor{
		Name:              "read_file",
		Description:       "Read a UTF-8 file from the session workspace.",
		PermissionProfile: PermWorkspaceRead,
		Risk:              domain.RiskLow,
		Timeout:           t.timeout,
		InputSchema:       mustReflect("read_file", &ReadFileInput{}),
	}
}

func (t readFile) Invoke(_ context.Context, call Call) (Outcome, error) {
	var in ReadFileInput
	if err := decodeInputs(call.Inputs, &in); err != nil {
		return Outcome{}, err
	}
	abs, _, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return Outcome{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Outcome{}, fmt.Errorf("read %s: %w", in.Path, unwrapPathError(err))
	}
	out, err := toOutput(ReadFileOutput{Path: in.Path, Content: string(data)})
	return Outcome{Output: out}, err
}

func (t readFile) Target(workspace string, inputs map[string]any) (string, error) {
	_, rel, err := resolvePath(workspace, stringInput(inputs, "path"))
	return rel, err
}

// ListDirInput is the input of list_dir.
type ListDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=directory relative to the workspace (default .)"`
}

// DirEntry is one list_dir entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// ListDirOutput is the output of list_dir.
type ListDirOutput struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

type listDir struct{ timeout time.Duration }

// NewListDir returns the list_dir tool.
func NewListDir(timeout time.Duration) Tool { return listDir{timeout: timeout} }

func (t listDir) Descriptor() Descriptor {
	return Descriptor{
		Name:              "list_dir",
		Description:       "List entries of a directory in the session workspace.",
		PermissionProfile: PermWorkspaceRead,
		Risk:              domain.RiskLow,
		Timeout:           t.timeout,
		InputSchema:       mustReflect("list_dir", &ListDirInput{}),
	}
}

func (t listDir) Invoke(_ context.Context, call Call) (Outcome, error) {
	var in ListDirInput
	if err := decodeInputs(call.Inputs, &in); err != nil {
		return Outcome{}, err
	}
	if in.Path == "" {
		in.Path = "."
	}
	abs, _, err := resolvePath(call.Workspace, in.Path)
	if err != nil {
		return Outcome{}, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Outcome{}, fmt.Errorf("list %s: %w", in.Path, unwrapPathError(err))
	}
	out := ListDirOutput{Path: in.Path, Entries: make([]DirEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	m, err := toOutput(out)
	return Outcome{Output: m}, err
}

// unwrapPathError drops the absolute path from *os.PathError so host paths
// do not leak into recorded errors.
func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
