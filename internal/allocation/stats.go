package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// SkipStat is the number of skips one reviewer made in an event.
type SkipStat struct {
	Reviewer ir.Reviewer `json:"reviewer"`
	Skips    int         `json:"skips"`
}

// SkipStats counts skip records per reviewer, ordered by reviewer.
// Flags are not skips and are not counted.
func (e *Engine) SkipStats(ctx context.Context, event ir.Event) ([]SkipStat, error) {
	event, err := ir.NormalizeEvent(event)
	if err != nil {
		return nil, invalid("event", err)
	}

	var skips []ir.ExceptionRecord
	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		skips, err = tx.ListExceptions(ctx, event, ir.ExceptionSkip)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("skip stats: %w", err)
	}

	counts := make(map[ir.Reviewer]int)
	for _, s := range skips {
		counts[s.Reviewer]++
	}
	stats := make([]SkipStat, 0, len(counts))
	for r, c := range counts {
		stats = append(stats, SkipStat{Reviewer: r, Skips: c})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Reviewer < stats[j].Reviewer })
	return stats, nil
}

// FlaggedUnits returns the reviewer's flag records in event, newest first.
func (e *Engine) FlaggedUnits(ctx context.Context, reviewer ir.Reviewer, event ir.Event) ([]ir.ExceptionRecord, error) {
	reviewer, err := ir.NormalizeReviewer(reviewer)
	if err != nil {
		return nil, invalid("reviewer", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return nil, invalid("event", err)
	}

	var flags []ir.ExceptionRecord
	err = e.store.View(ctx, func(tx repo.Tx) error {
		all, err := tx.ListExceptions(ctx, event, ir.ExceptionFlag)
		if err != nil {
			return err
		}
		for _, f := range all {
			if f.Reviewer == reviewer {
				flags = append(flags, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flagged units: %w", err)
	}

	sort.SliceStable(flags, func(i, j int) bool {
		if !flags[i].Timestamp.Equal(flags[j].Timestamp) {
			return flags[i].Timestamp.After(flags[j].Timestamp)
		}
		return flags[i].Seq > flags[j].Seq
	})
	if flags == nil {
		flags = []ir.ExceptionRecord{}
	}
	return flags, nil
}
