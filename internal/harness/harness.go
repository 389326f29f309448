package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/allot/internal/allocation"
	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/memstore"
	"github.com/roach88/allot/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios against a real allocation engine with a fake clock,
// sequential claim ids and in-memory review content.
type Harness struct {
	engine  *allocation.Engine
	clock   *testutil.FakeClock
	reviews *testutil.FakeReviews
	logger  *slog.Logger

	// claims maps scenario aliases to claims returned by the engine.
	claims map[string]ir.Claim

	// events lists registered events in first-seen order.
	events []string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger for isolation.
// The clock starts at testutil.DefaultEpoch and claim ids are claim-1,
// claim-2, ... in issue order, so traces are reproducible.
//
// Execution flow:
// 1. Register units and seed review content
// 2. Execute flow steps, checking expect clauses
// 3. Capture the final state of every registered event
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewFakeClock(time.Time{})
	reviews := testutil.NewFakeReviews()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	opts := []allocation.Option{
		allocation.WithClock(clock),
		allocation.WithIDGenerator(testutil.NewSequentialGenerator("claim")),
		allocation.WithLogger(logger),
	}
	if scenario.ClaimTTL != "" {
		ttl, err := time.ParseDuration(scenario.ClaimTTL)
		if err != nil {
			return nil, fmt.Errorf("claim_ttl: %w", err)
		}
		opts = append(opts, allocation.WithClaimTTL(ttl))
	}

	h := &Harness{
		engine:  allocation.New(memstore.New(), reviews, opts...),
		clock:   clock,
		reviews: reviews,
		logger:  logger,
		claims:  make(map[string]ir.Claim),
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup registers units and seeds review content.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	seen := make(map[string]bool)
	for i, reg := range setup.Register {
		units := make([]ir.Unit, len(reg.Units))
		for j, u := range reg.Units {
			units[j] = ir.Unit(u)
		}
		n, err := h.engine.RegisterAll(ctx, ir.Event(reg.Event), units...)
		if err != nil {
			return fmt.Errorf("register[%d]: %w", i, err)
		}
		if !seen[reg.Event] {
			seen[reg.Event] = true
			h.events = append(h.events, reg.Event)
		}
		h.logger.Info("setup registered units", "event", reg.Event, "created", n)
	}

	for _, r := range setup.Reviews {
		h.reviews.Seed(ir.Reviewer(r.Author), ir.Unit(r.Unit))
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Engine errors are not harness failures: they become the step's outcome
// and are checked against the expect clause. Only scenario mistakes, like
// an unknown claim alias, abort the run.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("flow step %d: advance: %w", i, err)
			}
			h.clock.Advance(d)
		}

		ev := TraceEvent{
			Step:     i,
			Op:       step.Op,
			Reviewer: step.Reviewer,
			Event:    step.Event,
			Elapsed:  int64(h.clock.Elapsed() / time.Second),
		}

		claim, stepErr := h.execute(ctx, step, &ev)
		if errors.Is(stepErr, errScenario) {
			return fmt.Errorf("flow step %d: %w", i, stepErr)
		}
		ev.Outcome = outcomeOf(stepErr)
		if stepErr != nil && ev.Outcome == "" {
			return fmt.Errorf("flow step %d: %s: %w", i, step.Op, stepErr)
		}
		if claim.ID != "" {
			ev.Unit = string(claim.Unit)
			ev.ClaimID = claim.ID
			if step.Op == OpNext || step.Op == OpCurrent {
				if step.Claim != "" {
					h.claims[step.Claim] = claim
				}
			}
		}
		if ev.Event == "" && claim.Event != "" {
			ev.Event = string(claim.Event)
		}

		for _, msg := range h.checkExpect(i, step, ev) {
			result.AddError(msg)
		}
		result.AddTrace(ev)

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"reviewer", step.Reviewer,
			"outcome", ev.Outcome,
			"unit", ev.Unit,
		)
	}
	return nil
}

// errScenario marks mistakes in the scenario itself.
var errScenario = errors.New("broken scenario")

// execute runs one step and returns the claim it produced or acted on.
func (h *Harness) execute(ctx context.Context, step FlowStep, ev *TraceEvent) (ir.Claim, error) {
	reviewer := ir.Reviewer(step.Reviewer)
	event := ir.Event(step.Event)

	switch step.Op {
	case OpNext:
		return h.engine.NextAssignment(ctx, reviewer, event, time.Time{})

	case OpCurrent:
		c, found, err := h.engine.Current(ctx, reviewer, event)
		if err == nil && !found {
			err = allocation.ErrNoActiveClaim
		}
		return c, err

	case OpAbandon:
		return ir.Claim{}, h.engine.Abandon(ctx, reviewer, event)

	case OpSweep:
		n, err := h.engine.SweepExpired(ctx)
		ev.Swept = n
		return ir.Claim{}, err
	}

	claim, ok := h.claims[step.Claim]
	if !ok {
		return ir.Claim{}, fmt.Errorf("%w: unknown claim alias %q", errScenario, step.Claim)
	}

	switch step.Op {
	case OpSubmit:
		req := allocation.SubmitRequest{Reviewer: reviewer, Claim: claim}
		if step.ActiveTime != "" {
			d, err := time.ParseDuration(step.ActiveTime)
			if err != nil {
				return ir.Claim{}, fmt.Errorf("%w: active_time: %v", errScenario, err)
			}
			req.ActiveTime = &d
		}
		_, err := h.engine.Submit(ctx, req)
		return claim, err

	case OpSkip:
		return claim, h.engine.Skip(ctx, reviewer, claim)

	case OpFlag:
		return claim, h.engine.FlagAndSkip(ctx, reviewer, claim, step.Reason)
	}

	return ir.Claim{}, fmt.Errorf("%w: unknown op %q", errScenario, step.Op)
}

// outcomeOf maps an engine error to a step outcome. It returns "" for
// errors no scenario can expect.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, allocation.ErrNoEligibleUnit):
		return OutcomeNoEligibleUnit
	case errors.Is(err, allocation.ErrClaimNotOwned):
		return OutcomeClaimNotOwned
	case errors.Is(err, allocation.ErrNoActiveClaim):
		return OutcomeNoActiveClaim
	case errors.Is(err, allocation.ErrUnitNotRegistered):
		return OutcomeUnitNotRegistered
	case errors.Is(err, allocation.ErrClaimConflict):
		return OutcomeClaimConflict
	case errors.Is(err, allocation.ErrInvalidArgument):
		return OutcomeInvalidArgument
	case allocation.IsCollaboratorError(err):
		return OutcomeCollaboratorFailure
	}
	return ""
}

// checkExpect compares a step's trace event with its expect clause.
// A step without an expect clause must succeed.
func (h *Harness) checkExpect(index int, step FlowStep, ev TraceEvent) []string {
	want := OutcomeOK
	if step.Expect != nil {
		want = step.Expect.Outcome
	}

	var errs []string
	if ev.Outcome != want {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: outcome = %s, want %s", index, step.Op, ev.Outcome, want))
		return errs
	}
	if step.Expect == nil {
		return nil
	}

	if step.Expect.Unit != "" && ev.Unit != step.Expect.Unit {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: unit = %q, want %q", index, step.Op, ev.Unit, step.Expect.Unit))
	}
	if alias := step.Expect.SameAs; alias != "" {
		prev, ok := h.claims[alias]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("flow[%d] %s: same_as names unknown claim alias %q", index, step.Op, alias))
		case prev.ID != ev.ClaimID:
			errs = append(errs, fmt.Sprintf("flow[%d] %s: claim = %q, want same claim as %s (%q)", index, step.Op, ev.ClaimID, alias, prev.ID))
		}
	}
	if step.Expect.Swept != nil && ev.Swept != *step.Expect.Swept {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: swept = %d, want %d", index, step.Op, ev.Swept, *step.Expect.Swept))
	}
	return errs
}

// captureState records units, live claims and skip counts of every
// registered event. Units and claims are ordered by unit id.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	for _, event := range h.events {
		snap, err := h.engine.Snapshot(ctx, ir.Event(event))
		if err != nil {
			return err
		}
		stats, err := h.engine.SkipStats(ctx, ir.Event(event))
		if err != nil {
			return err
		}

		st := EventState{
			Units:  make([]UnitState, 0, len(snap.Statuses)),
			Claims: make([]ClaimState, 0, len(snap.Claims)),
			Skips:  make(map[string]int, len(stats)),
		}
		for _, rec := range snap.Statuses {
			consumers := rec.SortedConsumers()
			by := make([]string, len(consumers))
			for i, r := range consumers {
				by[i] = string(r)
			}
			st.Units = append(st.Units, UnitState{
				Unit:        string(rec.Unit),
				Completions: rec.Completions,
				ConsumedBy:  by,
			})
		}
		sort.Slice(st.Units, func(i, j int) bool { return st.Units[i].Unit < st.Units[j].Unit })

		for _, c := range snap.Claims {
			st.Claims = append(st.Claims, ClaimState{ID: c.ID, Reviewer: string(c.Reviewer), Unit: string(c.Unit)})
		}
		sort.Slice(st.Claims, func(i, j int) bool { return st.Claims[i].Unit < st.Claims[j].Unit })

		for _, s := range stats {
			st.Skips[string(s.Reviewer)] = s.Skips
		}
		result.State[event] = st
	}
	return nil
}
