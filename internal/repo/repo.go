// Package repo defines the narrow storage contract of the allocation engine.
//
// The Status Ledger, Claim Table and Exception Logs are reached only through
// a Tx handed out by Store.Atomic or Store.View. Implementations:
//   - store.Store: SQLite, durable
//   - memstore.Store: in-memory, for isolated tests
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/allot/internal/ir"
)

var (
	// ErrNotFound is returned by single-record lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrClaimConflict is returned by InsertClaim when the reviewer already
	// holds a claim in the event, or the unit is already claimed in the event.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("write in read-only transaction")

	// ErrReviewExists is returned when an author already has review
	// content for a unit.
	ErrReviewExists = errors.New("review already exists")
)

// Store runs units of work against the ledger.
type Store interface {
	// Atomic runs fn in a serializable read-write transaction.
	// If fn returns an error, none of its writes are kept.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of ledger operations available inside a transaction.
type Tx interface {
	// EnsureStatus creates the (unit, event) record with zero completions
	// if it does not exist. Reports whether a record was created.
	EnsureStatus(ctx context.Context, unit ir.Unit, event ir.Event) (bool, error)

	// Status returns the record for (unit, event) or ErrNotFound.
	Status(ctx context.Context, unit ir.Unit, event ir.Event) (ir.StatusRecord, error)

	// ListStatuses returns every record of the event ordered by
	// completions ascending, then unit ascending.
	ListStatuses(ctx context.Context, event ir.Event) ([]ir.StatusRecord, error)

	// IncrementCompletions adds one to the record's completion count.
	IncrementCompletions(ctx context.Context, unit ir.Unit, event ir.Event) error

	// AddConsumer adds reviewer to the consumed set. Reports whether the
	// set changed.
	AddConsumer(ctx context.Context, unit ir.Unit, event ir.Event, reviewer ir.Reviewer) (bool, error)

	// ClaimFor returns the reviewer's claim in the event or ErrNotFound.
	ClaimFor(ctx context.Context, reviewer ir.Reviewer, event ir.Event) (ir.Claim, error)

	// ClaimByID returns the claim with the given id or ErrNotFound.
	ClaimByID(ctx context.Context, id string) (ir.Claim, error)

	// ClaimedUnits returns the units held by any live claim in the event.
	ClaimedUnits(ctx context.Context, event ir.Event) (map[ir.Unit]struct{}, error)

	// ListClaims returns the claims of the event ordered by unit.
	ListClaims(ctx context.Context, event ir.Event) ([]ir.Claim, error)

	// ExpiredClaims returns claims across all events that started before cutoff.
	ExpiredClaims(ctx context.Context, cutoff time.Time) ([]ir.Claim, error)

	// InsertClaim stores a new claim or returns ErrClaimConflict.
	InsertClaim(ctx context.Context, c ir.Claim) error

	// DeleteClaim removes the claim. Deleting a missing claim is not an error.
	DeleteClaim(ctx context.Context, id string) error

	// AppendException appends to the exception log and returns its sequence.
	AppendException(ctx context.Context, rec ir.ExceptionRecord) (int64, error)

	// ListExceptions returns the event's records of the given kind in
	// append order.
	ListExceptions(ctx context.Context, event ir.Event, kind ir.ExceptionKind) ([]ir.ExceptionRecord, error)
}
