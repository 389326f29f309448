package allocation

import (
	"context"

	"github.com/roach88/allot/internal/ir"
)

// ReviewContent is the review store the engine reads for drift repair and
// writes to on submit, skip and flag.
//
// Implemented by store.Reviews (SQLite) and testutil.FakeReviews.
// CreateReview should return an error wrapping repo.ErrReviewExists when the
// author already has a review for the unit.
type ReviewContent interface {
	HasReviewed(ctx context.Context, reviewer ir.Reviewer, unit ir.Unit) (bool, error)
	FindReview(ctx context.Context, reviewer ir.Reviewer, unit ir.Unit) (ir.ReviewID, bool, error)
	CreateReview(ctx context.Context, draft ir.ReviewDraft) (ir.ReviewID, error)
	// AddFlag reports whether the flag is new; flagging an already flagged
	// review is a no-op.
	AddFlag(ctx context.Context, reviewer ir.Reviewer, review ir.ReviewID, reason string) (bool, error)
	RemoveFlag(ctx context.Context, reviewer ir.Reviewer, review ir.ReviewID) error
	DeleteReviewCascade(ctx context.Context, review ir.ReviewID) error
}

// ReviewLister is implemented by review stores that can enumerate the
// authors of a unit. Reconcile requires it.
type ReviewLister interface {
	ReviewersOf(ctx context.Context, unit ir.Unit) ([]ir.Reviewer, error)
}

// Collaborator operation names used in CollaboratorError.Op and metrics.
const (
	opHasReviewed  = "has_reviewed"
	opFindReview   = "find_review"
	opCreateReview = "create_review"
	opAddFlag      = "add_flag"
	opRemoveFlag   = "remove_flag"
	opDeleteReview = "delete_review"
	opReviewersOf  = "reviewers_of"
)
