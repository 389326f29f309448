package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

func TestEnsureStatus_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created := 0
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Atomic(ctx, func(tx repo.Tx) error {
			ok, err := tx.EnsureStatus(ctx, "a", "fall")
			if ok {
				created++
			}
			return err
		}))
	}
	assert.Equal(t, 1, created)

	require.NoError(t, s.View(ctx, func(tx repo.Tx) error {
		recs, err := tx.ListStatuses(ctx, "fall")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(0), recs[0].Completions)
		assert.Empty(t, recs[0].ConsumedBy)
		return nil
	}))
}

func TestAtomic_DiscardsWritesOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, s.Atomic(ctx, func(tx repo.Tx) error {
		_, err := tx.EnsureStatus(ctx, "a", "fall")
		return err
	}))

	err := s.Atomic(ctx, func(tx repo.Tx) error {
		require.NoError(t, tx.IncrementCompletions(ctx, "a", "fall"))
		_, err := tx.AddConsumer(ctx, "a", "fall", "alice")
		require.NoError(t, err)
		require.NoError(t, tx.InsertClaim(ctx, ir.Claim{ID: "c1", Reviewer: "bob", Event: "fall", Unit: "a", StartTime: time.Now()}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx repo.Tx) error {
		rec, err := tx.Status(ctx, "a", "fall")
		require.NoError(t, err)
		assert.Equal(t, int64(0), rec.Completions)
		assert.False(t, rec.HasConsumer("alice"))
		_, err = tx.ClaimByID(ctx, "c1")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		return nil
	}))
}

func TestView_RejectsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.View(ctx, func(tx repo.Tx) error {
		_, err := tx.EnsureStatus(ctx, "a", "fall")
		return err
	})
	assert.ErrorIs(t, err, repo.ErrReadOnly)
}

func TestInsertClaim_Exclusivity(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Atomic(ctx, func(tx repo.Tx) error {
		for _, u := range []ir.Unit{"a", "b"} {
			if _, err := tx.EnsureStatus(ctx, u, "fall"); err != nil {
				return err
			}
		}
		_, err := tx.EnsureStatus(ctx, "a", "spring")
		return err
	}))

	insert := func(c ir.Claim) error {
		return s.Atomic(ctx, func(tx repo.Tx) error { return tx.InsertClaim(ctx, c) })
	}

	require.NoError(t, insert(ir.Claim{ID: "c1", Reviewer: "alice", Event: "fall", Unit: "a", StartTime: now}))
	assert.ErrorIs(t, insert(ir.Claim{ID: "c2", Reviewer: "bob", Event: "fall", Unit: "a", StartTime: now}), repo.ErrClaimConflict)
	assert.ErrorIs(t, insert(ir.Claim{ID: "c3", Reviewer: "alice", Event: "fall", Unit: "b", StartTime: now}), repo.ErrClaimConflict)
	assert.ErrorIs(t, insert(ir.Claim{ID: "c4", Reviewer: "bob", Event: "fall", Unit: "zzz", StartTime: now}), repo.ErrNotFound)

	// Other events are independent.
	require.NoError(t, insert(ir.Claim{ID: "c5", Reviewer: "alice", Event: "spring", Unit: "a", StartTime: now}))

	require.NoError(t, s.View(ctx, func(tx repo.Tx) error {
		c, err := tx.ClaimFor(ctx, "alice", "fall")
		require.NoError(t, err)
		assert.Equal(t, "c1", c.ID)

		units, err := tx.ClaimedUnits(ctx, "fall")
		require.NoError(t, err)
		assert.Equal(t, map[ir.Unit]struct{}{"a": {}}, units)

		expired, err := tx.ExpiredClaims(ctx, now.Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, expired, 2)
		return nil
	}))
}

func TestListStatuses_Order(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx repo.Tx) error {
		for _, u := range []ir.Unit{"c", "a", "b"} {
			if _, err := tx.EnsureStatus(ctx, u, "fall"); err != nil {
				return err
			}
		}
		return tx.IncrementCompletions(ctx, "a", "fall")
	}))

	require.NoError(t, s.View(ctx, func(tx repo.Tx) error {
		recs, err := tx.ListStatuses(ctx, "fall")
		require.NoError(t, err)
		var got []ir.Unit
		for _, r := range recs {
			got = append(got, r.Unit)
		}
		assert.Equal(t, []ir.Unit{"b", "c", "a"}, got)
		return nil
	}))
}

func TestExceptions_Sequence(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx repo.Tx) error {
		for _, r := range []ir.Reviewer{"alice", "bob"} {
			if _, err := tx.AppendException(ctx, ir.ExceptionRecord{Kind: ir.ExceptionSkip, Reviewer: r, Unit: "a", Event: "fall"}); err != nil {
				return err
			}
		}
		_, err := tx.AppendException(ctx, ir.ExceptionRecord{Kind: ir.ExceptionFlag, Reviewer: "carol", Unit: "a", Event: "fall"})
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx repo.Tx) error {
		skips, err := tx.ListExceptions(ctx, "fall", ir.ExceptionSkip)
		require.NoError(t, err)
		require.Len(t, skips, 2)
		assert.Equal(t, int64(1), skips[0].Seq)
		assert.Equal(t, int64(2), skips[1].Seq)

		flags, err := tx.ListExceptions(ctx, "fall", ir.ExceptionFlag)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, ir.Reviewer("carol"), flags[0].Reviewer)
		return nil
	}))
}

func TestAtomic_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Atomic(ctx, func(tx repo.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
