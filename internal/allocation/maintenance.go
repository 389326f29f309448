package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// SweepExpired deletes every claim older than the TTL across all events
// and returns how many were removed. Lazy expiry in NextAssignment and
// Current makes this optional.
func (e *Engine) SweepExpired(ctx context.Context) (n int, err error) {
	ctx, end := e.begin(ctx, "sweep")
	defer func() { end(err) }()

	var stale []ir.Claim
	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		stale, err = tx.ExpiredClaims(ctx, e.now().Add(-e.ttl))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	byEvent := make(map[ir.Event][]ir.Claim)
	var events []ir.Event
	for _, c := range stale {
		if _, ok := byEvent[c.Event]; !ok {
			events = append(events, c.Event)
		}
		byEvent[c.Event] = append(byEvent[c.Event], c)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })

	for _, event := range events {
		removed, err := e.sweepEvent(ctx, event, byEvent[event])
		n += removed
		if err != nil {
			return n, fmt.Errorf("sweep %s: %w", event, err)
		}
	}

	if n > 0 {
		e.logger.Info("expired claims swept", "count", n)
	}
	return n, nil
}

// sweepEvent deletes the given claims of one event under its lock. Each
// claim is re-read first so a claim replaced since the scan survives.
func (e *Engine) sweepEvent(ctx context.Context, event ir.Event, claims []ir.Claim) (int, error) {
	unlock := e.lockEvent(event)
	defer unlock()

	removed := 0
	now := e.now()
	err := e.store.Atomic(ctx, func(tx repo.Tx) error {
		removed = 0
		for _, c := range claims {
			current, err := tx.ClaimByID(ctx, c.ID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !current.Expired(now, e.ttl) {
				continue
			}
			if err := tx.DeleteClaim(ctx, c.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.metrics.RecordExpired(string(event), removed)
	return removed, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
// Sweep errors are logged and do not stop the loop.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidArgument)
	}

	e.logger.Info("sweeper starting", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sweeper stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Reconcile adds to each unit's consumed set every reviewer the review
// collaborator knows as an author of that unit. It returns the number of
// entries added. The collaborator must implement ReviewLister.
func (e *Engine) Reconcile(ctx context.Context, event ir.Event) (n int, err error) {
	if event, err = ir.NormalizeEvent(event); err != nil {
		return 0, invalid("event", err)
	}
	lister, ok := e.reviews.(ReviewLister)
	if !ok {
		return 0, fmt.Errorf("reconcile: review collaborator cannot list reviewers: %w", errors.ErrUnsupported)
	}

	ctx, end := e.begin(ctx, "reconcile", attribute.String("event", string(event)))
	defer func() { end(err) }()

	unlock := e.lockEvent(event)
	defer unlock()

	var statuses []ir.StatusRecord
	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		statuses, err = tx.ListStatuses(ctx, event)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	type repair struct {
		unit     ir.Unit
		reviewer ir.Reviewer
	}
	var repairs []repair
	for _, s := range statuses {
		authors, err := lister.ReviewersOf(ctx, s.Unit)
		if err != nil {
			return 0, fmt.Errorf("reconcile: %w", e.collaboratorFailed(opReviewersOf, err))
		}
		for _, a := range authors {
			if !s.HasConsumer(a) {
				repairs = append(repairs, repair{unit: s.Unit, reviewer: a})
			}
		}
	}
	if len(repairs) == 0 {
		return 0, nil
	}

	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		n = 0
		for _, r := range repairs {
			added, err := tx.AddConsumer(ctx, r.unit, event, r.reviewer)
			if err != nil {
				return err
			}
			if added {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	e.logger.Info("consumed sets reconciled", "event", event, "added", n)
	return n, nil
}
