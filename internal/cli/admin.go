package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail steps left running by a crashed process",
		Long: `Mark every step still recorded as running as failed (kind "interrupted"),
recording a failed run and a step_recovered event for each. The affected
sessions need a replan. serve and mcp do this on startup.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, report, err := startRuntime(commandContext(cmd), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			var b strings.Builder
			fmt.Fprintf(&b, "Recovered %s\n", plural(len(report.Recovered), "step"))
			for _, r := range report.Recovered {
				fmt.Fprintf(&b, "  %s v%d %s (run %s)\n", r.SessionID, r.PlanVersion, r.StepID, r.RunID)
			}
			return formatter(rootOpts, cmd).Success(report, b.String())
		},
	}
}

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reindex",
		Short:         "Rebuild the full-text event search index",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			f := formatter(rootOpts, cmd)
			if err := rt.engine.RebuildSearchIndex(commandContext(cmd)); err != nil {
				return f.DomainError(ExitCommandError, "reindex failed", err)
			}
			fullText := rt.store.FullTextEnabled()
			text := "✓ Search index rebuilt\n"
			if !fullText {
				text = "Full-text search is unavailable; searches use substring matching\n"
			}
			return f.Success(map[string]bool{"full_text": fullText}, text)
		},
	}
}
