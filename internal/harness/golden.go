package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/allot/internal/ir"
)

// TraceSnapshot captures the trace and final state of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	State        map[string]EventState
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles identifiers and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"op":      ev.Op,
			"outcome": ev.Outcome,
			"elapsed": ev.Elapsed,
		}
		if ev.Reviewer != "" {
			m["reviewer"] = ev.Reviewer
		}
		if ev.Event != "" {
			m["event"] = ev.Event
		}
		if ev.Unit != "" {
			m["unit"] = ev.Unit
		}
		if ev.ClaimID != "" {
			m["claim_id"] = ev.ClaimID
		}
		if ev.Op == OpSweep {
			m["swept"] = ev.Swept
		}
		traceList[i] = m
	}

	state := make(map[string]any, len(s.State))
	for event, st := range s.State {
		units := make([]any, len(st.Units))
		for i, u := range st.Units {
			units[i] = map[string]any{
				"unit":        u.Unit,
				"completions": u.Completions,
				"consumed_by": u.ConsumedBy,
			}
		}
		claims := make([]any, len(st.Claims))
		for i, c := range st.Claims {
			claims[i] = map[string]any{
				"id":       c.ID,
				"reviewer": c.Reviewer,
				"unit":     c.Unit,
			}
		}
		skips := make(map[string]any, len(st.Skips))
		for r, n := range st.Skips {
			skips[r] = n
		}
		state[event] = map[string]any{
			"units":  units,
			"claims": claims,
			"skips":  skips,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state":         state,
	}
}

// MarshalSnapshot renders a scenario result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		State:        result.State,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file
// or an expect clause or assertion failed.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
