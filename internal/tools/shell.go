package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/roach88/calt/internal/domain"
)

// DefaultShellAllow lists the read-only command prefixes run_shell_readonly accepts.
var DefaultShellAllow = []string{
	"ls",
	"cat",
	"rg",
	"find",
	"git status",
	"git diff",
	"wc",
	"head",
	"tail",
}

// deniedFlags are per-command flags that write files or run other programs.
var deniedFlags = map[string][]string{
	"find": {"-delete", "-exec", "-execdir", "-ok", "-okdir", "-fprint", "-fprint0", "-fprintf", "-fls"},
	"git":  {"--output", "--ext-diff", "--textconv", "--git-dir", "--work-tree"},
	"rg":   {"--pre", "--pre-glob", "--search-zip", "-z"},
}

// MaxShellTimeout caps the per-call timeout.
const MaxShellTimeout = 30 * time.Second

// RunShellInput is the input of run_shell_readonly.
type RunShellInput struct {
	Command    string `json:"command" jsonschema:"minLength=1,description=allow-listed read-only command line"`
	TimeoutSec int    `json:"timeout_sec,omitempty" jsonschema:"minimum=1,maximum=30"`
}

// RunShellOutput is the output of run_shell_readonly.
type RunShellOutput struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type runShell struct {
	allow   [][]string
	timeout time.Duration
}

// NewRunShell returns the run_shell_readonly tool restricted to allow.
func NewRunShell(allow []string, timeout time.Duration) Tool {
	t := runShell{timeout: timeout}
	for _, a := range allow {
		if fields := strings.Fields(a); len(fields) > 0 {
			t.allow = append(t.allow, fields)
		}
	}
	return t
}

func (t runShell) Descriptor() Descriptor {
	return Descriptor{
		Name:              "run_shell_readonly",
		Description:       "Run an allow-listed read-only command inside the session workspace.",
		PermissionProfile: PermShellReadonly,
		Risk:              domain.RiskLow,
		Timeout:           t.timeout,
		InputSchema:       mustReflect("run_shell_readonly", &RunShellInput{}),
	}
}

// ParseCommand splits command and checks it against the allow-list and the
// argument rules. It returns the argv to execute.
func (t runShell) ParseCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("command could not be parsed: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command must not be empty")
	}
	prefixLen := t.matchPrefix(argv)
	if prefixLen == 0 {
		return nil, fmt.Errorf("command is not allow-listed: %s", command)
	}
	for _, arg := range argv[prefixLen:] {
		if err := checkArg(argv[0], arg); err != nil {
			return nil, err
		}
	}
	return argv, nil
}

func (t runShell) matchPrefix(argv []string) int {
	for _, prefix := range t.allow {
		if len(argv) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if argv[i] != p {
				match = false
				break
			}
		}
		if match {
			return len(prefix)
		}
	}
	return 0
}

func checkArg(cmd, arg string) error {
	if strings.HasPrefix(arg, "-") {
		name := arg
		var values []string
		if i := strings.IndexByte(arg, '='); i >= 0 {
			name = arg[:i]
			values = append(values, arg[i+1:])
		} else if !strings.HasPrefix(arg, "--") && len(arg) > 2 {
			// Attached short-flag value, as in -f/etc/passwd.
			values = append(values, arg[2:])
		}
		for _, denied := range deniedFlags[cmd] {
			if name == denied || (strings.HasPrefix(denied, "--") && strings.HasPrefix(name, denied)) {
				return fmt.Errorf("flag %s is not allowed for %s", name, cmd)
			}
		}
		for _, v := range values {
			if escapesWorkspace(v) {
				return fmt.Errorf("flag value in %q addresses a path outside the workspace", arg)
			}
		}
		return nil
	}
	if escapesWorkspace(arg) {
		return fmt.Errorf("argument %q addresses a path outside the workspace", arg)
	}
	return nil
}

func escapesWorkspace(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "~") {
		return true
	}
	clean := path.Clean(p)
	return clean == ".." || strings.HasPrefix(clean, "../")
}

// gitEnvBlocked are inherited variables that point git at another repository.
var gitEnvBlocked = []string{
	"GIT_DIR", "GIT_WORK_TREE", "GIT_INDEX_FILE", "GIT_OBJECT_DIRECTORY",
	"GIT_ALTERNATE_OBJECT_DIRECTORIES", "GIT_COMMON_DIR", "GIT_NAMESPACE",
	"GIT_CEILING_DIRECTORIES", "GIT_DISCOVERY_ACROSS_FILESYSTEM",
}

// commandEnv is the inherited environment with repository overrides removed
// and repository discovery stopped at the workspace, so git never reports on
// a repository that encloses it.
func commandEnv(workspace string) []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if slices.Contains(gitEnvBlocked, name) {
			continue
		}
		env = append(env, kv)
	}
	root := workspace
	if real, err := filepath.EvalSymlinks(workspace); err == nil {
		root = real
	}
	return append(env, "GIT_CEILING_DIRECTORIES="+filepath.Dir(root))
}

func (t runShell) Invoke(ctx context.Context, call Call) (Outcome, error) {
	var in RunShellInput
	if err := decodeInputs(call.Inputs, &in); err != nil {
		return Outcome{}, err
	}
	argv, err := t.ParseCommand(in.Command)
	if err != nil {
		return Outcome{}, err
	}

	timeout := MaxShellTimeout
	if in.TimeoutSec > 0 && time.Duration(in.TimeoutSec)*time.Second < timeout {
		timeout = time.Duration(in.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = call.Workspace
	cmd.Env = commandEnv(call.Workspace)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var ee *exec.ExitError
		if !errors.As(runErr, &ee) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return Outcome{}, fmt.Errorf("command timed out after %s", timeout)
			}
			return Outcome{}, fmt.Errorf("run %s: %w", argv[0], runErr)
		}
		exitCode = ee.ExitCode()
	}

	out, err := toOutput(RunShellOutput{
		Command:  in.Command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	})
	return Outcome{Output: out}, err
}
