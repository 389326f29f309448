package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/memstore"
	"github.com/roach88/allot/internal/testutil"
)

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, fall, "A", "B")
	f.register(t, "spring", "A")

	f.next(t, "alice", fall)
	f.next(t, "alice", "spring")
	f.clock.Advance(10 * time.Hour)
	fresh := f.next(t, "bob", fall)
	f.clock.Advance(3 * time.Hour)

	n, err := f.eng.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := f.eng.Snapshot(ctx, fall)
	require.NoError(t, err)
	require.Len(t, snap.Claims, 1)
	assert.Equal(t, fresh.ID, snap.Claims[0].ID)

	n, err = f.eng.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.register(t, fall, "A")
	f.next(t, "alice", fall)
	f.clock.Advance(24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.eng.RunSweeper(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		snap, err := f.eng.Snapshot(context.Background(), fall)
		return err == nil && len(snap.Claims) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunSweeper_RejectsBadInterval(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.eng.RunSweeper(context.Background(), 0), ErrInvalidArgument)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, fall, "A", "B")

	f.reviews.Seed("alice", "A")
	f.reviews.Seed("bob", "A")
	f.reviews.Seed("bob", "B")
	c := f.next(t, "carol", fall)
	f.submit(t, "carol", c)

	n, err := f.eng.Reconcile(ctx, fall)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []ir.Reviewer{"alice", "bob", "carol"}, f.status(t, "A").ConsumedBy)
	assert.Equal(t, []ir.Reviewer{"bob"}, f.status(t, "B").ConsumedBy)

	n, err = f.eng.Reconcile(ctx, fall)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconcile_RequiresLister(t *testing.T) {
	type contentOnly struct{ ReviewContent }
	eng := New(memstore.New(), contentOnly{testutil.NewFakeReviews()})

	_, err := eng.Reconcile(context.Background(), fall)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestReconcile_CollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, fall, "A")
	f.reviews.Seed("alice", "A")
	f.reviews.Fail(testutil.OpReviewersOf, errors.New("down"))

	_, err := f.eng.Reconcile(context.Background(), fall)
	require.Error(t, err)
	assert.True(t, IsCollaboratorError(err))
	assert.Empty(t, f.status(t, "A").ConsumedBy)
}

func TestSkipStats_PerReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, fall, "A", "B", "C")

	for _, r := range []ir.Reviewer{"bob", "alice", "bob"} {
		c := f.next(t, r, fall)
		require.NoError(t, f.eng.Skip(ctx, r, c))
	}
	c := f.next(t, "alice", fall)
	require.NoError(t, f.eng.FlagAndSkip(ctx, "alice", c, ""))

	stats, err := f.eng.SkipStats(ctx, fall)
	require.NoError(t, err)
	assert.Equal(t, []SkipStat{
		{Reviewer: "alice", Skips: 1},
		{Reviewer: "bob", Skips: 2},
	}, stats)
}
