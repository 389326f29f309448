package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// Reviews is a minimal SQLite review-content store sharing the ledger's
// database. It satisfies the engine's review collaborator contract so the
// CLI works without an external review service.
//
// Reviews methods use the pool directly and must not be called from inside
// Store.Atomic or Store.View.
type Reviews struct {
	db *sql.DB
}

// Reviews returns the review-content view of the store.
func (s *Store) Reviews() *Reviews {
	return &Reviews{db: s.db}
}

// HasReviewed reports whether author has review content for unit.
func (r *Reviews) HasReviewed(ctx context.Context, author ir.Reviewer, unit ir.Unit) (bool, error) {
	_, ok, err := r.FindReview(ctx, author, unit)
	return ok, err
}

// FindReview returns the author's review of unit, if any.
func (r *Reviews) FindReview(ctx context.Context, author ir.Reviewer, unit ir.Unit) (ir.ReviewID, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM reviews WHERE author = ? AND unit = ?
	`, string(author), string(unit)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find review: %w", err)
	}
	return ir.ReviewID(id), true, nil
}

// CreateReview stores a new review. An author may hold one review per unit;
// a second one returns repo.ErrReviewExists.
func (r *Reviews) CreateReview(ctx context.Context, draft ir.ReviewDraft) (ir.ReviewID, error) {
	if err := ir.CheckTime(draft.SubmittedAt); err != nil {
		return "", fmt.Errorf("create review: %w", err)
	}
	id := uuid.Must(uuid.NewV7()).String()

	var activeMs sql.NullInt64
	if draft.ActiveTime != nil {
		activeMs = sql.NullInt64{Int64: draft.ActiveTime.Milliseconds(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reviews (id, author, unit, submitted_at, active_time_ms)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(draft.Author), string(draft.Unit), draft.SubmittedAt.UnixNano(), activeMs)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("create review: %w", repo.ErrReviewExists)
		}
		return "", fmt.Errorf("create review: %w", err)
	}
	return ir.ReviewID(id), nil
}

// AddFlag marks the review as flagged by author and reports whether the
// flag is new. Flagging twice is a no-op.
func (r *Reviews) AddFlag(ctx context.Context, author ir.Reviewer, review ir.ReviewID, reason string) (bool, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT author FROM reviews WHERE id = ?`, string(review)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("add flag: review %s: %w", review, repo.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("add flag: %w", err)
	}
	if owner != string(author) {
		return false, fmt.Errorf("add flag: review %s is not authored by %s", review, author)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO review_flags (review_id, author, reason)
		VALUES (?, ?, ?)
		ON CONFLICT (review_id, author) DO NOTHING
	`, string(review), string(author), reason)
	if err != nil {
		return false, fmt.Errorf("add flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add flag: rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveFlag deletes author's flag on the review. Removing a missing flag
// is not an error.
func (r *Reviews) RemoveFlag(ctx context.Context, author ir.Reviewer, review ir.ReviewID) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM review_flags WHERE review_id = ? AND author = ?
	`, string(review), string(author))
	if err != nil {
		return fmt.Errorf("remove flag: %w", err)
	}
	return nil
}

// DeleteReviewCascade removes the review and, through the foreign key,
// its flags. Deleting a missing review is not an error.
func (r *Reviews) DeleteReviewCascade(ctx context.Context, review ir.ReviewID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, string(review)); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}

// ReviewersOf lists every author with review content for unit.
func (r *Reviews) ReviewersOf(ctx context.Context, unit ir.Unit) ([]ir.Reviewer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT author FROM reviews WHERE unit = ?
		ORDER BY author COLLATE BINARY ASC
	`, string(unit))
	if err != nil {
		return nil, fmt.Errorf("reviewers of: %w", err)
	}
	defer rows.Close()

	reviewers := []ir.Reviewer{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		reviewers = append(reviewers, ir.Reviewer(a))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviewers: %w", err)
	}
	return reviewers, nil
}

// IsFlagged reports whether the review carries a flag.
func (r *Reviews) IsFlagged(ctx context.Context, review ir.ReviewID) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM review_flags WHERE review_id = ?
	`, string(review)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is flagged: %w", err)
	}
	return count > 0, nil
}
