package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/api"
)

// shutdownTimeout bounds graceful shutdown; in-flight steps finish within
// their own tool timeout.
const shutdownTimeout = 2 * time.Minute

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// ready, when set, receives the bound address (for tests).
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API daemon",
		Long: `Run the calt daemon: recover steps interrupted by a previous process,
then serve the token-authenticated HTTP API under /api/v1.

The bearer token comes from the config file or $CALT_TOKEN.

Example:
  CALT_TOKEN=secret calt serve --db ./data/calt.sqlite3
  calt serve --config calt.yaml --listen 127.0.0.1:9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	rt, _, err := startRuntime(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Token == "" {
		return NewExitError(ExitCommandError, "no API token configured: set token in the config file or $CALT_TOKEN")
	}
	addr := rt.cfg.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           api.New(rt.engine, rt.cfg.Token, rt.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			rt.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	rt.logger.Info("api listening", "addr", ln.Addr().String(), "db", rt.cfg.DBPath, "data_root", rt.cfg.ResolvedDataRoot())
	fmt.Fprintf(cmd.OutOrStdout(), "calt API listening on http://%s%s\n", ln.Addr(), api.Prefix)
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	rt.logger.Info("server stopped gracefully")
	return nil
}
