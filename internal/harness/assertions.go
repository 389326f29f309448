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

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s", ev.Step, ev.Op, ev.Reviewer, ev.Event, ev.Outcome)
		if ev.Unit != "" {
			fmt.Fprintf(&buf, " (%s %s)", ev.Unit, ev.ClaimID)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(result, a)
	case AssertClaims:
		return assertClaims(result, a)
	case AssertSkips:
		return assertSkips(result, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// eventState returns the final state of the assertion's event.
func eventState(result *Result, a Assertion) (EventState, error) {
	st, ok := result.State[a.Event]
	if !ok {
		return EventState{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("event %s registered", a.Event),
			Actual:   "event not in final state",
			Trace:    result.Trace,
		}
	}
	return st, nil
}

// assertStatus checks a unit's completion count and consumed set.
// The consumed set is compared in any order.
func assertStatus(result *Result, a Assertion) error {
	st, err := eventState(result, a)
	if err != nil {
		return err
	}

	for _, u := range st.Units {
		if u.Unit != a.Unit {
			continue
		}
		if a.Completions != nil && u.Completions != *a.Completions {
			return &AssertionError{
				Type:     AssertStatus,
				Expected: fmt.Sprintf("%s/%s completions = %d", a.Event, a.Unit, *a.Completions),
				Actual:   fmt.Sprintf("completions = %d", u.Completions),
				Trace:    result.Trace,
			}
		}
		if a.ConsumedBy != nil {
			want := append([]string{}, a.ConsumedBy...)
			sort.Strings(want)
			got := append([]string{}, u.ConsumedBy...)
			if !reflect.DeepEqual(want, got) {
				return &AssertionError{
					Type:     AssertStatus,
					Expected: fmt.Sprintf("%s/%s consumed_by = %v", a.Event, a.Unit, want),
					Actual:   fmt.Sprintf("consumed_by = %v", got),
					Trace:    result.Trace,
				}
			}
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertStatus,
		Expected: fmt.Sprintf("unit %s registered in %s", a.Unit, a.Event),
		Actual:   "unit not found",
		Trace:    result.Trace,
	}
}

// assertClaims checks the number of claims left in an event.
func assertClaims(result *Result, a Assertion) error {
	st, err := eventState(result, a)
	if err != nil {
		return err
	}
	if len(st.Claims) != *a.Count {
		return &AssertionError{
			Type:     AssertClaims,
			Expected: fmt.Sprintf("%d claims in %s", *a.Count, a.Event),
			Actual:   fmt.Sprintf("%d claims", len(st.Claims)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertSkips checks a reviewer's skip count in an event.
func assertSkips(result *Result, a Assertion) error {
	st, err := eventState(result, a)
	if err != nil {
		return err
	}
	if got := st.Skips[a.Reviewer]; got != *a.Count {
		return &AssertionError{
			Type:     AssertSkips,
			Expected: fmt.Sprintf("%s skipped %d times in %s", a.Reviewer, *a.Count, a.Event),
			Actual:   fmt.Sprintf("%d skips", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceCount checks how many steps ran op. When the assertion names
// an outcome or reviewer, only matching steps count.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op != a.Op {
			continue
		}
		if a.Outcome != "" && ev.Outcome != a.Outcome {
			continue
		}
		if a.Reviewer != "" && ev.Reviewer != a.Reviewer {
			continue
		}
		count++
	}

	if count != *a.Count {
		what := a.Op
		if a.Outcome != "" {
			what += " -> " + a.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s %d times", what, *a.Count),
			Actual:   fmt.Sprintf("%d times", count),
			Trace:    trace,
		}
	}
	return nil
}
