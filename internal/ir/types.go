package ir

import (
	"sort"
	"time"
)

// Reviewer identifies an actor who claims and completes units.
type Reviewer string

// Event identifies the review cycle that scopes units and claims.
type Event string

// Unit identifies one assignable piece of review work.
type Unit string

// ReviewID identifies review content held by the review collaborator.
type ReviewID string

// StatusRecord is the durable fairness state of one unit within one event.
//
// Completions only grows on successful submission. ConsumedBy is a set:
// a reviewer appears at most once and order carries no meaning.
type StatusRecord struct {
	Unit        Unit       `json:"unit"`
	Event       Event      `json:"event"`
	Completions int64      `json:"completions"`
	ConsumedBy  []Reviewer `json:"consumed_by"`
}

// HasConsumer reports whether r is in the consumed set.
func (s StatusRecord) HasConsumer(r Reviewer) bool {
	for _, c := range s.ConsumedBy {
		if c == r {
			return true
		}
	}
	return false
}

// SortedConsumers returns a copy of ConsumedBy in ascending order.
func (s StatusRecord) SortedConsumers() []Reviewer {
	out := make([]Reviewer, len(s.ConsumedBy))
	copy(out, s.ConsumedBy)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Claim is a reviewer's exclusive, time-bounded right to work one unit.
//
// At most one claim exists per (reviewer, event), and no two live claims
// in the same event name the same unit.
type Claim struct {
	ID        string    `json:"id"`
	Reviewer  Reviewer  `json:"reviewer"`
	Event     Event     `json:"event"`
	Unit      Unit      `json:"unit"`
	StartTime time.Time `json:"start_time"`
}

// Matches reports whether other names the same claim tuple.
// StartTime is not part of the identity.
func (c Claim) Matches(other Claim) bool {
	return c.ID == other.ID &&
		c.Reviewer == other.Reviewer &&
		c.Event == other.Event &&
		c.Unit == other.Unit
}

// Expired reports whether the claim is older than ttl at now.
// A claim exactly ttl old is still live.
func (c Claim) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.StartTime) > ttl
}

// ExceptionKind classifies an exception record.
type ExceptionKind string

const (
	// ExceptionSkip records a reviewer declining a claimed unit.
	ExceptionSkip ExceptionKind = "skip"

	// ExceptionFlag records a reviewer flagging a unit for someone else.
	ExceptionFlag ExceptionKind = "flag"
)

// Valid reports whether k is a known kind.
func (k ExceptionKind) Valid() bool {
	return k == ExceptionSkip || k == ExceptionFlag
}

// ExceptionRecord is one append-only skip or flag log entry.
// Used for reporting only.
type ExceptionRecord struct {
	Seq       int64         `json:"seq"`
	Kind      ExceptionKind `json:"kind"`
	Reviewer  Reviewer      `json:"reviewer"`
	Unit      Unit          `json:"unit"`
	Event     Event         `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
}

// ReviewDraft is the minimal review content the engine asks the review
// collaborator to create on submit or flag.
type ReviewDraft struct {
	Author      Reviewer
	Unit        Unit
	SubmittedAt time.Time

	// ActiveTime is how long the reviewer actively worked, if known.
	ActiveTime *time.Duration
}
