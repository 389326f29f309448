package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// NextAssignment returns the reviewer's claim in event, creating one for
// the best eligible unit if the reviewer holds none.
//
// A live existing claim is returned unchanged. A claim older than the TTL
// is deleted first and a fresh selection runs. startTime becomes the new
// claim's start; a zero startTime means now, and one outside the storable
// range fails with ErrInvalidArgument.
//
// The expired claim's deletion commits before the review collaborator is
// consulted, so it stays deleted even if selection then fails with a
// CollaboratorError. An expired claim is never trusted again either way.
//
// Returns ErrNoEligibleUnit when nothing is eligible and ErrClaimConflict
// when claim creation kept losing races with another process.
func (e *Engine) NextAssignment(ctx context.Context, reviewer ir.Reviewer, event ir.Event, startTime time.Time) (claim ir.Claim, err error) {
	if reviewer, err = ir.NormalizeReviewer(reviewer); err != nil {
		return ir.Claim{}, invalid("reviewer", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return ir.Claim{}, invalid("event", err)
	}
	if !startTime.IsZero() {
		if err := ir.CheckTime(startTime); err != nil {
			return ir.Claim{}, invalid("start time", err)
		}
	}

	ctx, end := e.begin(ctx, "next",
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(event)))
	defer func() { end(err) }()

	unlock := e.lockEvent(event)
	defer unlock()

	if startTime.IsZero() {
		startTime = e.now()
	}

	for attempt := 0; ; attempt++ {
		claim, err = e.tryAssign(ctx, reviewer, event, startTime.UTC())
		if !errors.Is(err, repo.ErrClaimConflict) {
			return claim, err
		}

		e.metrics.RecordConflict(string(event))
		if attempt >= e.maxRetries {
			e.logger.Warn("claim conflict retries exhausted",
				"reviewer", reviewer, "event", event, "attempts", attempt+1)
			return ir.Claim{}, fmt.Errorf("next assignment: %w", ErrClaimConflict)
		}
		e.logger.Debug("claim conflict, retrying selection",
			"reviewer", reviewer, "event", event, "attempt", attempt+1)
	}
}

// tryAssign runs one round of selection. A repo.ErrClaimConflict return
// means another writer won the insert and selection should be retried.
func (e *Engine) tryAssign(ctx context.Context, reviewer ir.Reviewer, event ir.Event, startTime time.Time) (ir.Claim, error) {
	var (
		existing   ir.Claim
		live       bool
		expired    bool
		candidates []ir.StatusRecord
	)

	err := e.store.Atomic(ctx, func(tx repo.Tx) error {
		var err error
		existing, live, expired, err = e.expireOwn(ctx, tx, reviewer, event)
		if err != nil || live {
			return err
		}

		claimed, err := tx.ClaimedUnits(ctx, event)
		if err != nil {
			return err
		}
		statuses, err := tx.ListStatuses(ctx, event)
		if err != nil {
			return err
		}

		candidates = candidates[:0]
		for _, s := range statuses {
			if _, inFlight := claimed[s.Unit]; inFlight {
				continue
			}
			if s.HasConsumer(reviewer) {
				continue
			}
			candidates = append(candidates, s)
		}
		return nil
	})
	if err != nil {
		return ir.Claim{}, fmt.Errorf("next assignment: %w", err)
	}
	if expired {
		e.metrics.RecordExpired(string(event), 1)
	}
	if live {
		e.metrics.RecordReask(string(event))
		e.logger.Debug("returning existing claim",
			"reviewer", reviewer, "event", event, "claim", existing.ID, "unit", existing.Unit)
		return existing, nil
	}

	unit, ok, err := e.firstUnreviewed(ctx, reviewer, candidates)
	if err != nil {
		return ir.Claim{}, fmt.Errorf("next assignment: %w", err)
	}
	if !ok {
		e.metrics.RecordNoEligible(string(event))
		e.logger.Debug("no eligible unit", "reviewer", reviewer, "event", event,
			"candidates", len(candidates))
		return ir.Claim{}, ErrNoEligibleUnit
	}

	claim := ir.Claim{
		ID:        e.ids.Generate(),
		Reviewer:  reviewer,
		Event:     event,
		Unit:      unit,
		StartTime: startTime,
	}
	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		return tx.InsertClaim(ctx, claim)
	})
	if err != nil {
		if errors.Is(err, repo.ErrClaimConflict) {
			return ir.Claim{}, err
		}
		return ir.Claim{}, fmt.Errorf("next assignment: %w", err)
	}

	e.metrics.RecordClaimIssued(string(event))
	e.logger.Info("claim issued",
		"reviewer", reviewer, "event", event, "unit", unit, "claim", claim.ID)
	return claim, nil
}

// firstUnreviewed walks candidates in fairness order and returns the first
// unit the reviewer has no review content for. The review collaborator is
// consulted lazily, so the common case costs one call.
func (e *Engine) firstUnreviewed(ctx context.Context, reviewer ir.Reviewer, candidates []ir.StatusRecord) (ir.Unit, bool, error) {
	for _, c := range candidates {
		reviewed, err := e.reviews.HasReviewed(ctx, reviewer, c.Unit)
		if err != nil {
			return "", false, e.collaboratorFailed(opHasReviewed, err)
		}
		if reviewed {
			e.logger.Warn("review exists for unconsumed unit, skipping",
				"reviewer", reviewer, "event", c.Event, "unit", c.Unit)
			continue
		}
		return c.Unit, true, nil
	}
	return "", false, nil
}

// Current returns the reviewer's live claim in event. A stale claim is
// deleted and reported as absent.
func (e *Engine) Current(ctx context.Context, reviewer ir.Reviewer, event ir.Event) (claim ir.Claim, found bool, err error) {
	if reviewer, err = ir.NormalizeReviewer(reviewer); err != nil {
		return ir.Claim{}, false, invalid("reviewer", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return ir.Claim{}, false, invalid("event", err)
	}

	ctx, end := e.begin(ctx, "current",
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(event)))
	defer func() { end(err) }()

	unlock := e.lockEvent(event)
	defer unlock()

	var expired bool
	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		var err error
		claim, found, expired, err = e.expireOwn(ctx, tx, reviewer, event)
		return err
	})
	if err != nil {
		return ir.Claim{}, false, fmt.Errorf("current: %w", err)
	}
	if expired {
		e.metrics.RecordExpired(string(event), 1)
	}
	return claim, found, nil
}

// expireOwn loads the reviewer's claim and deletes it if it outlived the
// TTL. live reports a claim that may be trusted; expired reports a deletion.
func (e *Engine) expireOwn(ctx context.Context, tx repo.Tx, reviewer ir.Reviewer, event ir.Event) (c ir.Claim, live, expired bool, err error) {
	c, err = tx.ClaimFor(ctx, reviewer, event)
	if errors.Is(err, repo.ErrNotFound) {
		return ir.Claim{}, false, false, nil
	}
	if err != nil {
		return ir.Claim{}, false, false, err
	}

	if !c.Expired(e.now(), e.ttl) {
		return c, true, false, nil
	}

	if err := tx.DeleteClaim(ctx, c.ID); err != nil {
		return ir.Claim{}, false, false, err
	}
	e.logger.Info("claim expired",
		"reviewer", reviewer, "event", event, "unit", c.Unit, "claim", c.ID,
		"age", e.now().Sub(c.StartTime).String())
	return ir.Claim{}, false, true, nil
}
