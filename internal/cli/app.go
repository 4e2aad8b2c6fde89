package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/config"
	"github.com/roach88/calt/internal/engine"
	"github.com/roach88/calt/internal/store"
	"github.com/roach88/calt/internal/tools"
)

// loadConfig reads the configuration and applies command-line overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.DataRoot != "" {
		cfg.DataRoot = opts.DataRoot
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose enables debug level.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// runtime is an opened store and engine.
type runtime struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
}

// openRuntime opens the database and builds the engine without starting it.
func openRuntime(opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	redactor, err := cfg.Redactor()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid redaction rules", err)
	}
	probe, err := cfg.Probe()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid isolation mode", err)
	}
	registry, err := tools.NewBuiltinRegistry(cfg.BuiltinOptions())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build tool registry", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
		}
	}
	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath, store.WithRedactor(redactor))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng, err := engine.New(st, registry, cfg.ResolvedDataRoot(),
		engine.WithProbe(probe),
		engine.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return &runtime{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}

// startRuntime opens the engine, publishes the tool registry and recovers
// interrupted steps.
func startRuntime(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*runtime, engine.RecoveryReport, error) {
	rt, err := openRuntime(opts, cmd)
	if err != nil {
		return nil, engine.RecoveryReport{}, err
	}
	report, err := rt.engine.Start(ctx)
	if err != nil {
		rt.Close()
		return nil, engine.RecoveryReport{}, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	for _, r := range report.Recovered {
		rt.logger.Warn("recovered interrupted step",
			"session", r.SessionID, "plan_version", r.PlanVersion, "step", r.StepID, "run", r.RunID)
	}
	return rt, report, nil
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
