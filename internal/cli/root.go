package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config names the YAML configuration file. Empty falls back to
	// $CALT_CONFIG, then to built-in defaults.
	Config   string
	DBPath   string
	DataRoot string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the calt CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "calt",
		Short:   "calt - approval-gated plan execution",
		Long:    "Plan, approve, execute and record tool steps inside per-session workspaces.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.DataRoot, "data-root", "", "directory for session workspaces and artifacts (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewReindexCommand(opts))
	cmd.AddCommand(NewToolsCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}
