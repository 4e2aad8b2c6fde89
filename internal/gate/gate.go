// Package gate decides whether a single step execution attempt may proceed.
//
// Checks run in a fixed order and the first failing check wins:
//
//  1. plan version approved
//  2. step approved
//  3. session not halted
//  4. dry-run sessions never run mutating tools
//  5. strict profile: high-risk confirmation, preview before apply,
//     isolation for destructive tools
//  6. dev profile: preview before apply still holds; missing isolation
//     for destructive tools is a warning
package gate

import (
	"fmt"

	"github.com/roach88/calt/internal/domain"
)

// ToolPolicy is the slice of a tool descriptor the gate needs.
type ToolPolicy struct {
	Name            string
	Mutates         bool
	Destructive     bool
	RequiresPreview bool
	PreviewTool     string
	Risk            domain.RiskLevel
}

// Request is everything the gate looks at for one attempt.
type Request struct {
	Session       domain.Session
	Step          domain.Step
	PlanApproved  bool
	StepApproved  bool
	Tool          ToolPolicy
	ConfirmedHigh bool
	// PreviewSeen is true when a successful preview run exists for the same
	// step identity and target within the plan version.
	PreviewSeen bool
	Isolated    bool
}

// Verdict is the gate's decision. Err is nil when Allowed.
type Verdict struct {
	Allowed  bool
	Err      *domain.Error
	Warnings []string
}

// Evaluate applies the policy to req.
func Evaluate(req Request) Verdict {
	deny := func(code domain.Code, format string, args ...any) Verdict {
		err := domain.Errorf(code, format, args...).WithStep(req.Session.ID, req.Step.ID)
		return Verdict{Err: err}
	}

	if !req.PlanApproved {
		return deny(domain.CodeApprovalRequired, "plan version %d is not approved", req.Step.PlanVersion)
	}
	if !req.StepApproved {
		return deny(domain.CodeApprovalRequired, "step %q is not approved", req.Step.ID)
	}
	if req.Session.Halted() {
		v := deny(domain.CodeSessionHalted, "session is %s; import and approve a new plan version", req.Session.Status)
		if req.Session.Status == domain.SessionCancelled {
			v.Err.Message = "session was stopped"
		}
		return v
	}
	if req.Session.Mode == domain.ModeDryRun && req.Tool.Mutates {
		return deny(domain.CodeDryRunViolation, "tool %q mutates the workspace and the session is in dry_run mode", req.Tool.Name)
	}

	var warnings []string
	destructiveUnisolated := req.Tool.Destructive && !req.Isolated

	switch req.Session.SafetyProfile {
	case domain.ProfileDev:
		if req.Tool.RequiresPreview && !req.PreviewSeen {
			return denyPreview(req)
		}
		if destructiveUnisolated {
			warnings = append(warnings, fmt.Sprintf("destructive tool %q running outside the isolation environment", req.Tool.Name))
		}
	default:
		if domain.MaxRisk(req.Step.Risk, req.Tool.Risk) == domain.RiskHigh && !req.ConfirmedHigh {
			return deny(domain.CodeConfirmationRequired, "high-risk step %q needs explicit confirmation", req.Step.ID)
		}
		if req.Tool.RequiresPreview && !req.PreviewSeen {
			return denyPreview(req)
		}
		if destructiveUnisolated {
			return deny(domain.CodeIsolationRequired, "destructive tool %q must run inside the isolation environment", req.Tool.Name)
		}
	}

	return Verdict{Allowed: true, Warnings: warnings}
}

func denyPreview(req Request) Verdict {
	err := domain.Errorf(domain.CodePreviewRequired, "tool %q requires a successful %s run on the same target first",
		req.Tool.Name, req.Tool.PreviewTool).WithStep(req.Session.ID, req.Step.ID)
	err.Details = map[string]string{"preview_tool": req.Tool.PreviewTool}
	return Verdict{Err: err}
}
