// Package verify evaluates the post-run verification declared on a step.
//
// Expressions use expr-lang syntax and see two variables: output, the
// tool's structured output, and inputs, the resolved step inputs. They must
// evaluate to a boolean.
//
//	output.exit_code == 0 && len(output.stdout) > 0
package verify

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/calt/internal/domain"
)

// ErrFailed marks a verification that ran and did not pass.
var ErrFailed = errors.New("verification failed")

// Env is the evaluation environment of a verification expression.
type Env struct {
	Output map[string]any `expr:"output"`
	Inputs map[string]any `expr:"inputs"`
}

var programs sync.Map // expression -> *vm.Program

// Compile type-checks expression against Env. Compiled programs are cached
// by source text.
func Compile(expression string) (*vm.Program, error) {
	expression = strings.TrimSpace(expression)
	if cached, ok := programs.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	programs.Store(expression, program)
	return program, nil
}

// ValidateSpec checks a verification declaration at plan import time.
func ValidateSpec(v domain.Verification) error {
	switch v.Kind {
	case "", domain.VerifyNone, domain.VerifyManual:
		return nil
	case domain.VerifyExpr:
		if strings.TrimSpace(v.Expression) == "" {
			return errors.New("verification kind expr requires an expression")
		}
		_, err := Compile(v.Expression)
		return err
	default:
		return fmt.Errorf("unknown verification kind %q", v.Kind)
	}
}

// Check runs the verification against a successful tool outcome. Kinds none
// and manual always pass; manual checks are left to the operator.
func Check(v domain.Verification, env Env) error {
	if v.Kind != domain.VerifyExpr {
		return nil
	}
	program, err := Compile(v.Expression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("%w: eval %q: %v", ErrFailed, v.Expression, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("%w: %q evaluated to false", ErrFailed, v.Expression)
	}
	return nil
}
