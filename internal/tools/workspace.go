package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that escape the session workspace.
var ErrOutsideWorkspace = errors.New("path is outside the session workspace")

// resolvePath confines rel to root and returns the absolute target and the
// canonical slash-separated relative path.
//
// Absolute paths, ".." escapes, and symlinks leading out of root are rejected.
func resolvePath(root, rel string) (abs, canonicalRel string, err error) {
	if root == "" {
		return "", "", errors.New("workspace is not set")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", "", fmt.Errorf("%w: %q is absolute", ErrOutsideWorkspace, rel)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", fmt.Errorf("workspace %q: %w", root, err)
	}

	target := filepath.Join(realRoot, filepath.FromSlash(rel))
	r, err := filepath.Rel(realRoot, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrOutsideWorkspace, rel)
	}

	// Follow symlinks on the longest existing prefix.
	existing := target
	for {
		if _, statErr := os.Lstat(existing); statErr == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", "", err
	}
	if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q resolves through a symlink", ErrOutsideWorkspace, rel)
	}

	return target, filepath.ToSlash(r), nil
}

// stringInput reads a string field from raw inputs, for Target lookups that
// run before schema decoding.
func stringInput(inputs map[string]any, key string) string {
	s, _ := inputs[key].(string)
	return s
}
