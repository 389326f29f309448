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

// Terminal action names used in logs and metrics.
const (
	actionSubmit  = "submit"
	actionSkip    = "skip"
	actionAbandon = "abandon"
	actionFlag    = "flag"
)

// SubmitRequest is the input of Submit.
type SubmitRequest struct {
	Reviewer ir.Reviewer
	Claim    ir.Claim

	// EndTime stamps the created review. Zero means now.
	EndTime time.Time

	// ActiveTime, when set, asks the engine to create review content for
	// the unit unless the reviewer already has some.
	ActiveTime *time.Duration
}

// normalizeClaim canonicalizes the identifiers of a caller-supplied claim.
func normalizeClaim(reviewer ir.Reviewer, c ir.Claim) (ir.Reviewer, ir.Claim, error) {
	var err error
	if reviewer, err = ir.NormalizeReviewer(reviewer); err != nil {
		return "", ir.Claim{}, invalid("reviewer", err)
	}
	if c.ID == "" {
		return "", ir.Claim{}, invalid("claim id", ir.ErrEmptyID)
	}
	if c.Reviewer, err = ir.NormalizeReviewer(c.Reviewer); err != nil {
		return "", ir.Claim{}, invalid("claim reviewer", err)
	}
	if c.Event, err = ir.NormalizeEvent(c.Event); err != nil {
		return "", ir.Claim{}, invalid("claim event", err)
	}
	if c.Unit, err = ir.NormalizeUnit(c.Unit); err != nil {
		return "", ir.Claim{}, invalid("claim unit", err)
	}
	return reviewer, c, nil
}

// checkOwned fails with ErrClaimNotOwned unless a claim matching
// (c.ID, reviewer, c.Unit, c.Event) is on record.
func checkOwned(ctx context.Context, tx repo.Tx, reviewer ir.Reviewer, c ir.Claim) error {
	stored, err := tx.ClaimByID(ctx, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrClaimNotOwned
	}
	if err != nil {
		return err
	}

	if c.Reviewer != reviewer || !stored.Matches(c) {
		return ErrClaimNotOwned
	}
	return nil
}

// verifyOwned runs checkOwned in a read-only transaction.
func (e *Engine) verifyOwned(ctx context.Context, reviewer ir.Reviewer, c ir.Claim) error {
	return e.store.View(ctx, func(tx repo.Tx) error {
		return checkOwned(ctx, tx, reviewer, c)
	})
}

// compensate deletes a review created earlier in a failed operation.
func (e *Engine) compensate(ctx context.Context, review ir.ReviewID, cause error) {
	if err := e.reviews.DeleteReviewCascade(ctx, review); err != nil {
		e.metrics.RecordCollaboratorFailure(opDeleteReview)
		e.logger.Error("failed to remove review after aborted operation",
			"review", review, "cause", cause, "error", err)
		return
	}
	e.logger.Warn("removed review after aborted operation", "review", review, "cause", cause)
}

// unflag removes a flag added earlier in a failed operation.
func (e *Engine) unflag(ctx context.Context, reviewer ir.Reviewer, review ir.ReviewID, cause error) {
	if err := e.reviews.RemoveFlag(ctx, reviewer, review); err != nil {
		e.metrics.RecordCollaboratorFailure(opRemoveFlag)
		e.logger.Error("failed to remove flag after aborted operation",
			"review", review, "cause", cause, "error", err)
		return
	}
	e.logger.Warn("removed flag after aborted operation", "review", review, "cause", cause)
}

// Submit completes the claim: the unit's completion count grows by one,
// the reviewer joins its consumed set and the claim is removed.
//
// When req.ActiveTime is set and the reviewer has no review for the unit,
// one is created first. If that fails, nothing changes.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (unit ir.Unit, err error) {
	reviewer, claim, err := normalizeClaim(req.Reviewer, req.Claim)
	if err != nil {
		return "", err
	}
	if !req.EndTime.IsZero() {
		if err := ir.CheckTime(req.EndTime); err != nil {
			return "", invalid("end time", err)
		}
	}

	ctx, end := e.begin(ctx, actionSubmit,
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(claim.Event)),
		attribute.String("unit", string(claim.Unit)),
		attribute.String("claim", claim.ID))
	defer func() { end(err) }()

	unlock := e.lockEvent(claim.Event)
	defer unlock()

	if err := e.verifyOwned(ctx, reviewer, claim); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	var created ir.ReviewID
	if req.ActiveTime != nil {
		created, err = e.ensureReview(ctx, reviewer, claim.Unit, req.EndTime, req.ActiveTime)
		if err != nil {
			return "", fmt.Errorf("submit: %w", err)
		}
	}

	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		if err := checkOwned(ctx, tx, reviewer, claim); err != nil {
			return err
		}
		if err := tx.IncrementCompletions(ctx, claim.Unit, claim.Event); err != nil {
			return err
		}
		if _, err := tx.AddConsumer(ctx, claim.Unit, claim.Event, reviewer); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, claim.ID)
	})
	if err != nil {
		if created != "" {
			e.compensate(ctx, created, err)
		}
		return "", fmt.Errorf("submit: %w", err)
	}

	e.metrics.RecordTerminal(string(claim.Event), actionSubmit)
	e.logger.Info("claim submitted",
		"reviewer", reviewer, "event", claim.Event, "unit", claim.Unit, "claim", claim.ID)
	return claim.Unit, nil
}

// ensureReview creates review content unless the reviewer already has
// some. It returns the id of a review it created, or "" if one existed.
func (e *Engine) ensureReview(ctx context.Context, reviewer ir.Reviewer, unit ir.Unit, at time.Time, active *time.Duration) (ir.ReviewID, error) {
	_, exists, err := e.reviews.FindReview(ctx, reviewer, unit)
	if err != nil {
		return "", e.collaboratorFailed(opFindReview, err)
	}
	if exists {
		return "", nil
	}

	if at.IsZero() {
		at = e.now()
	}
	id, err := e.reviews.CreateReview(ctx, ir.ReviewDraft{
		Author:      reviewer,
		Unit:        unit,
		SubmittedAt: at.UTC(),
		ActiveTime:  active,
	})
	if errors.Is(err, repo.ErrReviewExists) {
		return "", nil
	}
	if err != nil {
		return "", e.collaboratorFailed(opCreateReview, err)
	}
	return id, nil
}

// Skip declines the claim: the reviewer joins the unit's consumed set, a
// skip record is appended and the claim is removed. Completions do not
// change.
//
// If the reviewer already wrote review content for the unit, that content
// is deleted after the ledger commits. A failed delete is logged and the
// review stays; the reviewer is already in the consumed set.
func (e *Engine) Skip(ctx context.Context, reviewer ir.Reviewer, claim ir.Claim) (err error) {
	reviewer, claim, err = normalizeClaim(reviewer, claim)
	if err != nil {
		return err
	}

	ctx, end := e.begin(ctx, actionSkip,
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(claim.Event)),
		attribute.String("unit", string(claim.Unit)),
		attribute.String("claim", claim.ID))
	defer func() { end(err) }()

	unlock := e.lockEvent(claim.Event)
	defer unlock()

	if err := e.verifyOwned(ctx, reviewer, claim); err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	review, exists, err := e.reviews.FindReview(ctx, reviewer, claim.Unit)
	if err != nil {
		return fmt.Errorf("skip: %w", e.collaboratorFailed(opFindReview, err))
	}

	now := e.now()
	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		if err := checkOwned(ctx, tx, reviewer, claim); err != nil {
			return err
		}
		if _, err := tx.AddConsumer(ctx, claim.Unit, claim.Event, reviewer); err != nil {
			return err
		}
		if _, err := tx.AppendException(ctx, ir.ExceptionRecord{
			Kind:      ir.ExceptionSkip,
			Reviewer:  reviewer,
			Unit:      claim.Unit,
			Event:     claim.Event,
			Timestamp: now,
		}); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, claim.ID)
	})
	if err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	if exists {
		if derr := e.reviews.DeleteReviewCascade(ctx, review); derr != nil {
			e.metrics.RecordCollaboratorFailure(opDeleteReview)
			e.logger.Error("failed to remove review of skipped unit",
				"reviewer", reviewer, "unit", claim.Unit, "review", review, "error", derr)
		} else {
			e.logger.Info("removed review of skipped unit",
				"reviewer", reviewer, "unit", claim.Unit, "review", review)
		}
	}

	e.metrics.RecordTerminal(string(claim.Event), actionSkip)
	e.logger.Info("claim skipped",
		"reviewer", reviewer, "event", claim.Event, "unit", claim.Unit, "claim", claim.ID)
	return nil
}

// Abandon releases the reviewer's claim in event without recording
// anything. The unit becomes eligible again for everyone, the reviewer
// included.
func (e *Engine) Abandon(ctx context.Context, reviewer ir.Reviewer, event ir.Event) (err error) {
	if reviewer, err = ir.NormalizeReviewer(reviewer); err != nil {
		return invalid("reviewer", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return invalid("event", err)
	}

	ctx, end := e.begin(ctx, actionAbandon,
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(event)))
	defer func() { end(err) }()

	unlock := e.lockEvent(event)
	defer unlock()

	var released ir.Claim
	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		c, err := tx.ClaimFor(ctx, reviewer, event)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNoActiveClaim
		}
		if err != nil {
			return err
		}
		released = c
		return tx.DeleteClaim(ctx, c.ID)
	})
	if err != nil {
		return fmt.Errorf("abandon: %w", err)
	}

	e.metrics.RecordTerminal(string(event), actionAbandon)
	e.logger.Info("claim abandoned",
		"reviewer", reviewer, "event", event, "unit", released.Unit, "claim", released.ID)
	return nil
}

// FlagAndSkip marks the claimed unit as needing someone else's attention.
// Minimal review content carrying a flag is written through the review
// collaborator, the reviewer joins the consumed set, a flag record is
// appended and the claim is removed. No skip record is written, so flags
// do not count as skips.
//
// An existing review of the unit is reused. If the ledger write fails, a
// review created here is deleted again, and a flag added to an existing
// review is removed.
func (e *Engine) FlagAndSkip(ctx context.Context, reviewer ir.Reviewer, claim ir.Claim, reason string) (err error) {
	reviewer, claim, err = normalizeClaim(reviewer, claim)
	if err != nil {
		return err
	}

	ctx, end := e.begin(ctx, actionFlag,
		attribute.String("reviewer", string(reviewer)),
		attribute.String("event", string(claim.Event)),
		attribute.String("unit", string(claim.Unit)),
		attribute.String("claim", claim.ID))
	defer func() { end(err) }()

	unlock := e.lockEvent(claim.Event)
	defer unlock()

	if err := e.verifyOwned(ctx, reviewer, claim); err != nil {
		return fmt.Errorf("flag: %w", err)
	}

	now := e.now()
	var zero time.Duration
	review, exists, err := e.reviews.FindReview(ctx, reviewer, claim.Unit)
	if err != nil {
		return fmt.Errorf("flag: %w", e.collaboratorFailed(opFindReview, err))
	}
	var created ir.ReviewID
	if !exists {
		review, err = e.reviews.CreateReview(ctx, ir.ReviewDraft{
			Author:      reviewer,
			Unit:        claim.Unit,
			SubmittedAt: now,
			ActiveTime:  &zero,
		})
		if err != nil {
			return fmt.Errorf("flag: %w", e.collaboratorFailed(opCreateReview, err))
		}
		created = review
	}

	flagged, err := e.reviews.AddFlag(ctx, reviewer, review, reason)
	if err != nil {
		ferr := e.collaboratorFailed(opAddFlag, err)
		if created != "" {
			e.compensate(ctx, created, ferr)
		}
		return fmt.Errorf("flag: %w", ferr)
	}

	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		if err := checkOwned(ctx, tx, reviewer, claim); err != nil {
			return err
		}
		if _, err := tx.AddConsumer(ctx, claim.Unit, claim.Event, reviewer); err != nil {
			return err
		}
		if _, err := tx.AppendException(ctx, ir.ExceptionRecord{
			Kind:      ir.ExceptionFlag,
			Reviewer:  reviewer,
			Unit:      claim.Unit,
			Event:     claim.Event,
			Timestamp: now,
			Reason:    reason,
		}); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, claim.ID)
	})
	if err != nil {
		switch {
		case created != "":
			e.compensate(ctx, created, err)
		case flagged:
			e.unflag(ctx, reviewer, review, err)
		}
		return fmt.Errorf("flag: %w", err)
	}

	e.metrics.RecordTerminal(string(claim.Event), actionFlag)
	e.logger.Info("claim flagged",
		"reviewer", reviewer, "event", claim.Event, "unit", claim.Unit, "claim", claim.ID,
		"reason", reason)
	return nil
}
