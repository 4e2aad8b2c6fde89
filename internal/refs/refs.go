// Package refs expands step-output references in step inputs.
//
// Grammar:
//
//	${steps.<step_id>.output}
//	${steps.<step_id>.output.<field>(.<field>)*}
//
// A string that consists of exactly one reference is replaced by the
// referenced value, whatever its type. A reference embedded in a longer
// string is replaced by its text form. Resolved values are never scanned
// again, and only mapping fields can be walked: list indexing is not part
// of the grammar. A reference that reaches a value rewritten by redaction
// fails rather than passing the marker on.
package refs

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/calt/internal/canonical"
	"github.com/roach88/calt/internal/domain"
)

var refPattern = regexp.MustCompile(`\$\{steps\.([A-Za-z0-9_-]+)\.output((?:\.[^.}\s]+)*)\}`)

// Ref is one parsed reference expression.
type Ref struct {
	Expr   string
	StepID string
	Path   []string
}

// Outputs maps a prior step id to its recorded output.
type Outputs map[string]map[string]any

// Scope is what a step may see: the outputs of earlier steps in the same
// plan version, plus the ids of those earlier steps.
type Scope struct {
	// Prior lists the ids of steps positioned before the current one.
	Prior []string
	// Outputs holds the recorded output of every prior step that succeeded.
	Outputs Outputs
	// Redacted holds, per step id, the output key paths rewritten by
	// redaction when the output was recorded.
	Redacted map[string][][]string
}

func (s Scope) visible(stepID string) bool {
	for _, id := range s.Prior {
		if id == stepID {
			return true
		}
	}
	return false
}

// Find lists every reference in inputs, walking nested maps and lists.
func Find(inputs map[string]any) []Ref {
	var out []Ref
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, m := range refPattern.FindAllStringSubmatch(val, -1) {
				out = append(out, toRef(m))
			}
		case map[string]any:
			for _, k := range canonical.SortedKeys(val) {
				walk(val[k])
			}
		case []any:
			for _, elem := range val {
				walk(elem)
			}
		}
	}
	walk(inputs)
	return out
}

func toRef(m []string) Ref {
	r := Ref{Expr: m[0], StepID: m[1]}
	if m[2] != "" {
		r.Path = strings.Split(strings.TrimPrefix(m[2], "."), ".")
	}
	return r
}

// Resolve returns a copy of inputs with every reference materialized.
// The first reference that cannot be resolved fails the whole call with an
// unresolved-reference error naming the expression.
func Resolve(inputs map[string]any, scope Scope) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out, err := resolveValue(inputs, scope)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func resolveValue(v any, scope Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for _, k := range canonical.SortedKeys(val) {
			r, err := resolveValue(val[k], scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveValue(elem, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope Scope) (any, error) {
	locs := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s, nil
	}

	// Whole-string reference keeps the referenced value's type.
	if len(locs) == 1 && locs[0][0] == 0 && locs[0][1] == len(s) {
		return lookup(toRef(submatches(s, locs[0])), scope)
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(s[last:loc[0]])
		v, err := lookup(toRef(submatches(s, loc)), scope)
		if err != nil {
			return nil, err
		}
		text, err := textOf(v)
		if err != nil {
			return nil, err
		}
		b.WriteString(text)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func lookup(r Ref, scope Scope) (any, error) {
	if !scope.visible(r.StepID) {
		return nil, domain.UnresolvedReference(r.Expr, fmt.Sprintf("step %q is not an earlier step of this plan", r.StepID))
	}
	output, ok := scope.Outputs[r.StepID]
	if !ok {
		return nil, domain.UnresolvedReference(r.Expr, fmt.Sprintf("step %q has no recorded output", r.StepID))
	}
	if scope.redacted(r.StepID, r.Path) {
		return nil, domain.UnresolvedReference(r.Expr, "value was redacted")
	}

	var cur any = output
	for i, field := range r.Path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, domain.UnresolvedReference(r.Expr, fmt.Sprintf("%q is not a mapping", strings.Join(r.Path[:i], ".")))
		}
		next, present := m[field]
		if !present {
			return nil, domain.UnresolvedReference(r.Expr, fmt.Sprintf("field %q is absent", strings.Join(r.Path[:i+1], ".")))
		}
		cur = next
	}
	return cur, nil
}

// redacted reports whether the value at path overlaps a redacted path: the
// path is inside a redacted value or contains one.
func (s Scope) redacted(stepID string, path []string) bool {
	for _, rp := range s.Redacted[stepID] {
		n := len(rp)
		if len(path) < n {
			n = len(path)
		}
		if slices.Equal(rp[:n], path[:n]) {
			return true
		}
	}
	return false
}

func textOf(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
