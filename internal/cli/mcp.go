package cli

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/mcpapi"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Long: `Serve calt operations (create session, import/approve plans, approve and
execute steps, stop, search, artifacts, tools) as MCP tools on stdin/stdout.

Logs go to stderr so they never corrupt the protocol stream.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := startRuntime(commandContext(cmd), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.logger.Info("mcp server starting", "db", rt.cfg.DBPath)
			if err := server.ServeStdio(mcpapi.NewServer(rt.engine, Version)); err != nil {
				return WrapExitError(ExitFailure, "mcp server error", err)
			}
			return nil
		},
	}
}
