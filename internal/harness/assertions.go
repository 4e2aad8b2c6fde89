package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// matchEvent reports whether event satisfies the assertion's event, step
// and summary filters.
func matchEvent(event TraceEvent, assertion Assertion) bool {
	if event.Type != assertion.Event {
		return false
	}
	if assertion.Step != "" && event.StepID != assertion.Step {
		return false
	}
	return assertion.Summary == "" || strings.Contains(event.Summary, assertion.Summary)
}

func describeEvent(assertion Assertion) string {
	desc := assertion.Event
	if assertion.Step != "" {
		desc += " for step " + assertion.Step
	}
	if assertion.Summary != "" {
		desc += fmt.Sprintf(" with summary containing %q", assertion.Summary)
	}
	return desc
}

// assertTraceContains checks that the trace has an event matching the
// assertion's filters.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchEvent(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeEvent(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that event types first appear in the given order.
// Events don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if positions[event.Type] == 0 {
			positions[event.Type] = i + 1 // 1-indexed for readability
		}
	}

	for _, typ := range assertion.Events {
		if positions[typ] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", typ),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that matching events appear exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeEvent(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState finds the single row of a state table matching Where
// and checks Expect against it with subset semantics.
func assertFinalState(state map[string][]map[string]any, assertion Assertion) error {
	var matched []map[string]any
	for _, row := range state[assertion.Table] {
		if matchFields(row, assertion.Where) {
			matched = append(matched, row)
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(matched)),
		}
	}

	row := matched[0]
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := row[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s: %v", key, assertion.Table, sortedKeys(row)),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// matchFields checks that row holds every expected field (subset match).
func matchFields(row, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := row[key]
		if !ok || !stateValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// formatWhereClause creates a human-readable description of row filters.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML-decoded expected value with a state
// value. Integers compare by value whatever their Go type.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if e, ok := asInt(expected); ok {
		a, ok := asInt(actual)
		return ok && e == a
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case bool:
		act, ok := actual.(bool)
		return ok && exp == act
	}

	return reflect.DeepEqual(expected, actual)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
