package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// Review collaborator operation names accepted by FakeReviews.Fail.
const (
	OpHasReviewed  = "has_reviewed"
	OpFindReview   = "find_review"
	OpCreateReview = "create_review"
	OpAddFlag      = "add_flag"
	OpRemoveFlag   = "remove_flag"
	OpDeleteReview = "delete_review"
	OpReviewersOf  = "reviewers_of"
)

// FakeReview is one review held by FakeReviews.
type FakeReview struct {
	ID     ir.ReviewID
	Draft  ir.ReviewDraft
	Flags  []string
	Seeded bool
}

type reviewKey struct {
	author ir.Reviewer
	unit   ir.Unit
}

// FakeReviews is an in-memory review collaborator with fault injection.
//
// Thread-safety: safe for concurrent use.
type FakeReviews struct {
	mu      sync.Mutex
	byKey   map[reviewKey]ir.ReviewID
	reviews map[ir.ReviewID]*FakeReview
	calls   map[string]int
	nextID  int

	faults *xsync.Map[string, error]
}

// NewFakeReviews creates an empty fake.
func NewFakeReviews() *FakeReviews {
	return &FakeReviews{
		byKey:   make(map[reviewKey]ir.ReviewID),
		reviews: make(map[ir.ReviewID]*FakeReview),
		calls:   make(map[string]int),
		faults:  xsync.NewMap[string, error](),
	}
}

// Fail makes every later call of op return err until Clear(op).
func (f *FakeReviews) Fail(op string, err error) {
	f.faults.Store(op, err)
}

// Clear removes an injected failure.
func (f *FakeReviews) Clear(op string) {
	f.faults.Delete(op)
}

// Calls returns how often op was invoked, including failed calls.
func (f *FakeReviews) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed stores a review as if it had been written outside the engine.
func (f *FakeReviews) Seed(author ir.Reviewer, unit ir.Unit) ir.ReviewID {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.insertLocked(ir.ReviewDraft{Author: author, Unit: unit})
	r.Seeded = true
	return r.ID
}

// Review returns a copy of the review, if present.
func (f *FakeReviews) Review(id ir.ReviewID) (FakeReview, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return FakeReview{}, false
	}
	out := *r
	out.Flags = append([]string(nil), r.Flags...)
	return out, true
}

// Len returns the number of stored reviews.
func (f *FakeReviews) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reviews)
}

// enter counts the call and returns the injected fault for op, if any.
func (f *FakeReviews) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
	if err, ok := f.faults.Load(op); ok {
		return err
	}
	return nil
}

func (f *FakeReviews) insertLocked(draft ir.ReviewDraft) *FakeReview {
	f.nextID++
	r := &FakeReview{ID: ir.ReviewID(fmt.Sprintf("review-%d", f.nextID)), Draft: draft}
	f.reviews[r.ID] = r
	f.byKey[reviewKey{author: draft.Author, unit: draft.Unit}] = r.ID
	return r
}

// HasReviewed reports whether author has a review of unit.
func (f *FakeReviews) HasReviewed(_ context.Context, author ir.Reviewer, unit ir.Unit) (bool, error) {
	if err := f.enter(OpHasReviewed); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byKey[reviewKey{author: author, unit: unit}]
	return ok, nil
}

// FindReview returns author's review of unit.
func (f *FakeReviews) FindReview(_ context.Context, author ir.Reviewer, unit ir.Unit) (ir.ReviewID, bool, error) {
	if err := f.enter(OpFindReview); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[reviewKey{author: author, unit: unit}]
	return id, ok, nil
}

// CreateReview stores a review, one per (author, unit).
func (f *FakeReviews) CreateReview(_ context.Context, draft ir.ReviewDraft) (ir.ReviewID, error) {
	if err := f.enter(OpCreateReview); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byKey[reviewKey{author: draft.Author, unit: draft.Unit}]; ok {
		return "", fmt.Errorf("create review: %w", repo.ErrReviewExists)
	}
	return f.insertLocked(draft).ID, nil
}

// AddFlag records reason as the review's flag. A review carries at most
// one flag, so a second call reports false and changes nothing.
func (f *FakeReviews) AddFlag(_ context.Context, author ir.Reviewer, review ir.ReviewID, reason string) (bool, error) {
	if err := f.enter(OpAddFlag); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[review]
	if !ok {
		return false, fmt.Errorf("add flag: review %s: %w", review, repo.ErrNotFound)
	}
	if r.Draft.Author != author {
		return false, fmt.Errorf("add flag: review %s is not authored by %s", review, author)
	}
	if len(r.Flags) > 0 {
		return false, nil
	}
	r.Flags = append(r.Flags, reason)
	return true, nil
}

// RemoveFlag clears author's flag on the review.
func (f *FakeReviews) RemoveFlag(_ context.Context, author ir.Reviewer, review ir.ReviewID) error {
	if err := f.enter(OpRemoveFlag); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reviews[review]; ok && r.Draft.Author == author {
		r.Flags = nil
	}
	return nil
}

// DeleteReviewCascade removes the review and its flags.
func (f *FakeReviews) DeleteReviewCascade(_ context.Context, review ir.ReviewID) error {
	if err := f.enter(OpDeleteReview); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[review]
	if !ok {
		return nil
	}
	delete(f.reviews, review)
	delete(f.byKey, reviewKey{author: r.Draft.Author, unit: r.Draft.Unit})
	return nil
}

// ReviewersOf lists the authors of reviews of unit in ascending order.
func (f *FakeReviews) ReviewersOf(_ context.Context, unit ir.Unit) ([]ir.Reviewer, error) {
	if err := f.enter(OpReviewersOf); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ir.Reviewer{}
	for k := range f.byKey {
		if k.unit == unit {
			out = append(out, k.author)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
