package ir

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyID is returned when a required identifier is blank.
var ErrEmptyID = errors.New("identifier is empty")

// NormalizeID returns the NFC form of s with surrounding space trimmed.
//
// Two identifiers that render the same must compare equal, otherwise the
// tie-break order of units and the consumed-set membership would depend on
// how a caller happened to encode the string.
func NormalizeID(s string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(s))
	if n == "" {
		return "", ErrEmptyID
	}
	return n, nil
}

// NormalizeReviewer normalizes a reviewer identifier.
func NormalizeReviewer(r Reviewer) (Reviewer, error) {
	n, err := NormalizeID(string(r))
	return Reviewer(n), err
}

// NormalizeEvent normalizes an event identifier.
func NormalizeEvent(e Event) (Event, error) {
	n, err := NormalizeID(string(e))
	return Event(n), err
}

// NormalizeUnit normalizes a unit identifier.
func NormalizeUnit(u Unit) (Unit, error) {
	n, err := NormalizeID(string(u))
	return Unit(n), err
}
