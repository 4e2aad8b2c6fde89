package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/tools"
)

// NewToolsCommand creates the tools command.
func NewToolsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [name]",
		Short: "List registered tools and their permission profiles",
		Long: `List every builtin tool with its permission profile, risk and timeout.
With a name, show that tool's full descriptor including its input schema.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			f := formatter(rootOpts, cmd)
			reg, err := tools.NewBuiltinRegistry(cfg.BuiltinOptions())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build tool registry", err)
			}

			if len(args) == 1 {
				d, err := reg.Descriptor(args[0])
				if err != nil {
					return f.DomainError(ExitFailure, "unknown tool", err)
				}
				return f.Success(d, describeTool(d))
			}

			list := reg.Descriptors()
			var b strings.Builder
			tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROFILE\tRISK\tTIMEOUT\tFLAGS")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\n", d.Name, d.PermissionProfile, d.Risk, d.TimeoutSec(), toolFlags(d))
			}
			tw.Flush()
			return f.Success(list, b.String())
		},
	}
}

func toolFlags(d tools.Descriptor) string {
	var flags []string
	if d.Mutates {
		flags = append(flags, "mutates")
	}
	if d.Destructive {
		flags = append(flags, "destructive")
	}
	if d.RequiresPreview {
		flags = append(flags, "preview:"+d.PreviewTool)
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func describeTool(d tools.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  %s\n", d.Name, d.Description)
	fmt.Fprintf(&b, "  profile: %s\n  risk:    %s\n  timeout: %ds\n  flags:   %s\n",
		d.PermissionProfile, d.Risk, d.TimeoutSec(), toolFlags(d))
	if len(d.InputSchema) > 0 {
		fmt.Fprintf(&b, "  inputs:  %s\n", d.InputSchema)
	}
	return b.String()
}
