package plan

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/calt/internal/domain"
	"github.com/roach88/calt/internal/refs"
	"github.com/roach88/calt/internal/verify"
)

//go:embed plan.cue
var schemaCUE string

var stepIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Issue is one problem found in a plan document.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationError lists every issue found in a document.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

func invalid(issues []Issue) error {
	return domain.Wrap(domain.CodeInvalidPlan, "plan document failed validation", &ValidationError{Issues: issues})
}

// The CUE runtime is not safe for concurrent use.
var (
	cueMu     sync.Mutex
	cueCtx    *cue.Context
	planValue cue.Value
)

func schema() (*cue.Context, cue.Value, error) {
	if cueCtx == nil {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaCUE, cue.Filename("plan.cue"))
		if err := v.Err(); err != nil {
			return nil, cue.Value{}, fmt.Errorf("compile plan schema: %w", err)
		}
		cueCtx = ctx
		planValue = v.LookupPath(cue.ParsePath("#Plan"))
	}
	return cueCtx, planValue, nil
}

// checkSchema unifies a generically decoded document with #Plan.
func checkSchema(raw any) error {
	cueMu.Lock()
	defer cueMu.Unlock()

	ctx, def, err := schema()
	if err != nil {
		return domain.Wrap(domain.CodeInternal, "plan schema", err)
	}
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return invalid(cueIssues(err))
	}
	return nil
}

func cueIssues(err error) []Issue {
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issues = append(issues, Issue{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{Message: err.Error()})
	}
	return issues
}

// Validate applies the document rules that the schema cannot express.
func Validate(doc Document) error {
	var issues []Issue
	if doc.Version < 0 {
		issues = append(issues, Issue{Field: "version", Message: "must be positive"})
	}
	if len(doc.Steps) == 0 {
		issues = append(issues, Issue{Field: "steps", Message: "at least one step is required"})
	}

	seen := make(map[string]int, len(doc.Steps))
	for i, st := range doc.Steps {
		field := fmt.Sprintf("steps.%d", i)
		if !stepIDPattern.MatchString(st.ID) {
			issues = append(issues, Issue{Field: field + ".id", Message: fmt.Sprintf("invalid step id %q", st.ID)})
		}
		if prev, dup := seen[st.ID]; dup {
			issues = append(issues, Issue{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate step id %q (also steps.%d)", st.ID, prev),
			})
		}
		seen[st.ID] = i
		if st.Tool == "" {
			issues = append(issues, Issue{Field: field + ".tool", Message: "tool is required"})
		}
		if st.TimeoutSec < 0 || st.TimeoutSec > MaxTimeoutSec {
			issues = append(issues, Issue{
				Field:   field + ".timeout_sec",
				Message: fmt.Sprintf("must be between 1 and %d", MaxTimeoutSec),
			})
		}
		switch st.Risk {
		case "", domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
		default:
			issues = append(issues, Issue{Field: field + ".risk", Message: fmt.Sprintf("unknown risk %q", st.Risk)})
		}
		if st.Verification != nil {
			if err := verify.ValidateSpec(*st.Verification); err != nil {
				issues = append(issues, Issue{Field: field + ".verification", Message: err.Error()})
			}
		}
	}

	if len(issues) > 0 {
		return invalid(issues)
	}
	return nil
}

// Warnings reports references that can never resolve: references to
// unknown steps and to steps at the same or a later position. They are not
// errors because the reference only fails when the step executes.
func Warnings(doc Document) []string {
	position := make(map[string]int, len(doc.Steps))
	for i, st := range doc.Steps {
		position[st.ID] = i
	}
	var out []string
	for i, st := range doc.Steps {
		for _, r := range refs.Find(st.Inputs) {
			p, ok := position[r.StepID]
			switch {
			case !ok:
				out = append(out, fmt.Sprintf("step %q references unknown step %q in %s", st.ID, r.StepID, r.Expr))
			case p >= i:
				out = append(out, fmt.Sprintf("step %q references step %q which does not run before it", st.ID, r.StepID))
			}
		}
	}
	return out
}
