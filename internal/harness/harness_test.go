package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int       { return &n }
func int64p(n int64) *int64 { return &n }

func register(event string, units ...string) Setup {
	return Setup{Register: []RegisterStep{{Event: event, Units: units}}}
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		Setup:       register("spring", "a"),
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring", Claim: "c"},
		},
		Assertions: []Assertion{
			{Type: AssertClaims, Event: "spring", Count: intp(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{
		Step:     0,
		Op:       OpNext,
		Reviewer: "alice",
		Event:    "spring",
		Outcome:  OutcomeOK,
		Unit:     "a",
		ClaimID:  "claim-1",
	}, result.Trace[0])

	st := result.State["spring"]
	require.Len(t, st.Claims, 1)
	assert.Equal(t, ClaimState{ID: "claim-1", Reviewer: "alice", Unit: "a"}, st.Claims[0])
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected",
		Description: "second reviewer finds nothing",
		Setup:       register("spring", "a"),
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring"},
			{Op: OpNext, Reviewer: "bob", Event: "spring"},
		},
		Assertions: []Assertion{
			{Type: AssertClaims, Event: "spring", Count: intp(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "outcome = no_eligible_unit, want ok")
	assert.Equal(t, OutcomeNoEligibleUnit, result.Trace[1].Outcome)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "wrong unit and wrong same_as",
		Setup:       register("spring", "a", "b"),
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring", Claim: "first",
				Expect: &ExpectClause{Outcome: OutcomeOK, Unit: "b"}},
			{Op: OpNext, Reviewer: "bob", Event: "spring",
				Expect: &ExpectClause{Outcome: OutcomeOK, SameAs: "first"}},
		},
		Assertions: []Assertion{
			{Type: AssertClaims, Event: "spring", Count: intp(2)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `unit = "a", want "b"`)
	assert.Contains(t, result.Errors[1], "want same claim as first")
}

func TestRun_UnknownClaimAlias(t *testing.T) {
	scenario := &Scenario{
		Name:        "alias",
		Description: "submit before next",
		Setup:       register("spring", "a"),
		Flow: []FlowStep{
			{Op: OpSubmit, Reviewer: "alice", Claim: "missing"},
		},
		Assertions: []Assertion{
			{Type: AssertClaims, Event: "spring", Count: intp(0)},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, errScenario)
	assert.Contains(t, err.Error(), `unknown claim alias "missing"`)
}

func TestRun_SubmitWithActiveTimeWritesReview(t *testing.T) {
	scenario := &Scenario{
		Name:        "submit",
		Description: "submit creates review content",
		Setup:       register("spring", "a"),
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring", Claim: "c"},
			{Op: OpSubmit, Reviewer: "alice", Claim: "c", ActiveTime: "45s"},
			{Op: OpNext, Reviewer: "alice", Event: "spring",
				Expect: &ExpectClause{Outcome: OutcomeNoEligibleUnit}},
		},
		Assertions: []Assertion{
			{Type: AssertStatus, Event: "spring", Unit: "a", Completions: int64p(1), ConsumedBy: []string{"alice"}},
			{Type: AssertTraceCount, Op: OpNext, Count: intp(2)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_SeededReviewIsExcluded(t *testing.T) {
	setup := register("spring", "a", "b")
	setup.Reviews = []SeedReview{{Author: "alice", Unit: "a"}}

	scenario := &Scenario{
		Name:        "seeded",
		Description: "review written elsewhere hides the unit",
		Setup:       setup,
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring",
				Expect: &ExpectClause{Outcome: OutcomeOK, Unit: "b"}},
		},
		Assertions: []Assertion{
			{Type: AssertStatus, Event: "spring", Unit: "a", Completions: int64p(0), ConsumedBy: []string{}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ClaimTTLOverride(t *testing.T) {
	scenario := &Scenario{
		Name:        "ttl",
		Description: "short ttl expires the claim",
		ClaimTTL:    "10m",
		Setup:       register("spring", "a"),
		Flow: []FlowStep{
			{Op: OpNext, Reviewer: "alice", Event: "spring"},
			{Op: OpCurrent, Reviewer: "alice", Event: "spring", Advance: "11m",
				Expect: &ExpectClause{Outcome: OutcomeNoActiveClaim}},
		},
		Assertions: []Assertion{
			{Type: AssertClaims, Event: "spring", Count: intp(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, int64(660), result.Trace[1].Elapsed)
}
