package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/engine"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Type  string
	Limit int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <session-id> [query]",
		Short: "Search a session's event log",
		Long: `Search a session's events by free text (full-text when available,
substring otherwise). Without a query, list every event.

Example:
  calt search 0192c7e4-... "permission denied"
  calt search 0192c7e4-... --type step_failed --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := engine.SearchRequest{SessionID: args[0], Type: opts.Type, Limit: opts.Limit}
			if len(args) == 2 {
				req.Text = args[1]
			}
			f := formatter(opts.RootOptions, cmd)
			events, err := rt.engine.SearchEvents(commandContext(cmd), req)
			if err != nil {
				return f.DomainError(ExitFailure, "search failed", err)
			}

			var b strings.Builder
			tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			for _, ev := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Seq, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type, ev.Summary)
			}
			tw.Flush()
			fmt.Fprintf(&b, "%s\n", plural(len(events), "event"))
			return f.Success(events, b.String())
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only events of this type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show run statistics",
		Long: `Show tool success rates, step duration percentiles (p50/p95) and
failure reasons recorded in the database.`,
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
			rep, err := rt.engine.Reports(commandContext(cmd), sessionID)
			if err != nil {
				return f.DomainError(ExitFailure, "report failed", err)
			}
			return f.Success(rep, formatReport(rep))
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "narrow failure reasons to one session")

	return cmd
}

func formatReport(rep engine.Report) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "TOOL\tRUNS\tSUCCEEDED\tRATE")
	for _, r := range rep.SuccessRates {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\n", r.Tool, r.TotalRuns, r.Succeeded, r.SuccessRate*100)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOOL\tSAMPLES\tP50\tP95")
	for _, d := range rep.Durations {
		fmt.Fprintf(tw, "%s\t%d\t%dms\t%dms\n", d.Tool, d.Samples, d.P50Ms, d.P95Ms)
	}
	if len(rep.FailureReasons) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "SESSION\tKIND\tFAILURES\tLAST")
		for _, r := range rep.FailureReasons {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.SessionID, r.Kind, r.Failures, r.LastFailedAt.Format("2006-01-02 15:04:05"))
		}
	}
	tw.Flush()
	return b.String()
}
