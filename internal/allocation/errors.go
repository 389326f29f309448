package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEligibleUnit is returned by NextAssignment when every unit of
	// the event is consumed by the reviewer or claimed by someone else.
	// It is an expected outcome, not a fault.
	ErrNoEligibleUnit = errors.New("no eligible unit")

	// ErrClaimNotOwned is returned when a claim does not exist or does not
	// match the (id, reviewer, unit, event) tuple on record.
	ErrClaimNotOwned = errors.New("claim invalid or not owned by reviewer")

	// ErrNoActiveClaim is returned by Abandon when the reviewer holds no
	// claim in the event, and by Lookup for unknown claim ids.
	ErrNoActiveClaim = errors.New("no active claim")

	// ErrClaimConflict is returned when claim creation kept losing races
	// after the configured number of retries.
	ErrClaimConflict = errors.New("claim conflict: retries exhausted")

	// ErrUnitNotRegistered is returned by Status for unknown (unit, event).
	ErrUnitNotRegistered = errors.New("unit not registered")

	// ErrInvalidArgument is returned for blank identifiers.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CollaboratorError wraps a failed review collaborator call. The operation
// that returned it made no ledger change.
type CollaboratorError struct {
	// Op names the collaborator call, e.g. "create_review".
	Op string

	// Err is the collaborator's error.
	Err error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("review collaborator %s: %v", e.Op, e.Err)
}

// Unwrap returns the collaborator's error.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsCollaboratorError reports whether err wraps a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}

func invalid(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, field, err)
}
