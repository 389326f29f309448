// Package harness provides conformance testing for the allocation engine.
//
// The harness loads YAML scenarios, plays them against a real engine over
// an in-memory ledger and validates the outcome of every step, the final
// ledger state and a golden snapshot.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	claim_ttl: 12h            # optional
//	setup:
//	  register:
//	    - event: spring
//	      units: [a, b, c]
//	  reviews:                # optional, content written outside the engine
//	    - author: alice
//	      unit: a
//	flow:
//	  - op: next
//	    reviewer: alice
//	    event: spring
//	    claim: first          # alias for later steps
//	    expect:
//	      outcome: ok
//	      unit: b
//	  - op: submit
//	    reviewer: alice
//	    claim: first
//	    active_time: 90s
//	  - op: next
//	    reviewer: alice
//	    event: spring
//	    advance: 13h          # move the clock first
//	    expect:
//	      outcome: no_eligible_unit
//	assertions:
//	  - type: status
//	    event: spring
//	    unit: b
//	    completions: 1
//	    consumed_by: [alice]
//
// # Operations
//
//   - next: NextAssignment; stores the claim under the step's alias
//   - current: Current; stores the claim under the alias if one is live
//   - submit, skip, flag: act on the claim stored under the alias
//   - abandon: releases the reviewer's claim in the event
//   - sweep: removes expired claims of every reviewer
//
// A step without an expect clause must succeed. Expected engine errors are
// written as outcomes: no_eligible_unit, claim_not_owned, no_active_claim,
// unit_not_registered, claim_conflict, invalid_argument and
// collaborator_failure.
//
// # Assertion Types
//
//   - status: completions and consumed set of one unit
//   - claims: number of claims left in an event
//   - skips: number of skip records of a reviewer in an event
//   - trace_count: number of steps with an op, optionally filtered by outcome and reviewer
//
// # Deterministic Testing
//
// The clock starts at testutil.DefaultEpoch and only moves when a step
// says advance. Claim ids are claim-1, claim-2, ... in issue order and
// review content lives in a testutil.FakeReviews. This ensures identical
// snapshots across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/fairness.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
