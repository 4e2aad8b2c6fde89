package tools

import "time"

// DefaultTimeout is the per-tool timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// BuiltinOptions configures the builtin tool set.
type BuiltinOptions struct {
	// ShellAllow overrides DefaultShellAllow when non-empty.
	ShellAllow []string
	// Timeouts overrides the per-tool timeout by tool name.
	Timeouts map[string]time.Duration
	// Default replaces DefaultTimeout for tools without an override.
	Default time.Duration
}

func (o BuiltinOptions) timeout(name string) time.Duration {
	if d, ok := o.Timeouts[name]; ok && d > 0 {
		return d
	}
	if o.Default > 0 {
		return o.Default
	}
	return DefaultTimeout
}

// Builtins returns the builtin workspace tools.
func Builtins(opts BuiltinOptions) []Tool {
	allow := opts.ShellAllow
	if len(allow) == 0 {
		allow = DefaultShellAllow
	}
	shellTimeout := opts.timeout("run_shell_readonly")
	if shellTimeout > MaxShellTimeout {
		shellTimeout = MaxShellTimeout
	}
	return []Tool{
		NewReadFile(opts.timeout("read_file")),
		NewListDir(opts.timeout("list_dir")),
		NewRunShell(allow, shellTimeout),
		NewWriteFilePreview(opts.timeout("write_file_preview")),
		NewWriteFileApply(opts.timeout("write_file_apply")),
		NewPatchPreview(opts.timeout("apply_patch_preview")),
		NewPatchApply(opts.timeout("apply_patch_apply")),
	}
}

// NewBuiltinRegistry returns a registry holding the builtin tools plus extra.
func NewBuiltinRegistry(opts BuiltinOptions, extra ...Tool) (*Registry, error) {
	return NewRegistry(append(Builtins(opts), extra...)...)
}
