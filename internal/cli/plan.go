package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/calt/internal/engine"
	"github.com/roach88/calt/internal/plan"
	"github.com/roach88/calt/internal/tools"
)

// PlanValidationResult is the JSON form of plan validate.
type PlanValidationResult struct {
	Valid    bool         `json:"valid"`
	Title    string       `json:"title,omitempty"`
	Steps    int          `json:"steps,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Issues   []plan.Issue `json:"issues,omitempty"`
}

// NewPlanCommand creates the plan command group.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Work with plan documents",
	}
	cmd.AddCommand(newPlanValidateCommand(rootOpts))
	return cmd
}

func newPlanValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a plan document without importing it",
		Long: `Check a YAML or JSON plan document against the plan schema, the
document rules and the builtin tools' input schemas. References that can
never resolve are reported as warnings.

Example:
  calt plan validate plan.yaml
  cat plan.json | calt plan validate - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanValidate(rootOpts, args[0], cmd)
		},
	}
}

func runPlanValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		_ = f.Error("not-found", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read plan", err)
	}

	reg, err := tools.NewBuiltinRegistry(cfg.BuiltinOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build tool registry", err)
	}

	doc, warnings, err := engine.ValidatePlan(reg, data)
	if err != nil {
		res := PlanValidationResult{Issues: issuesOf(err)}
		if f.Format == "json" {
			_ = f.Success(res, "")
		} else {
			var b strings.Builder
			fmt.Fprintf(&b, "✗ %s is invalid\n", path)
			for _, is := range res.Issues {
				fmt.Fprintf(&b, "  %s\n", is)
			}
			_ = f.Success(res, b.String())
		}
		return WrapExitError(ExitFailure, "plan is invalid", err)
	}

	res := PlanValidationResult{Valid: true, Title: doc.Title, Steps: len(doc.Steps), Warnings: warnings}
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %s is valid (%s)\n", path, plural(len(doc.Steps), "step"))
	for _, w := range warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return f.Success(res, b.String())
}

// issuesOf flattens a validation error into issues.
func issuesOf(err error) []plan.Issue {
	var ve *plan.ValidationError
	if errors.As(err, &ve) {
		return ve.Issues
	}
	return []plan.Issue{{Message: err.Error()}}
}
