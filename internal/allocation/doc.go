// Package allocation implements the review assignment engine.
//
// The engine hands out units of review work one at a time per reviewer
// within an event. It keeps three pieces of state behind repo.Store:
//
//   - Status records: how often each unit was completed and which reviewers
//     have consumed it (by submitting, skipping or flagging)
//   - Claims: at most one per (reviewer, event), at most one per (event, unit)
//   - Exceptions: an append-only skip and flag log used for statistics
//
// # Selection
//
// NextAssignment returns the caller's existing claim if it is younger than
// the claim TTL (12h by default). Otherwise it drops the stale claim and
// picks the eligible unit with the fewest completions, ties broken by unit
// identifier. A unit is eligible when no one holds a claim on it, the
// reviewer is not in its consumed set, and the review collaborator has no
// review by the reviewer for it. The last check repairs drift between the
// ledger and the review store at read time.
//
// # Concurrency
//
// Operations on one event are serialized by an in-process lock. Claim
// inserts are additionally guarded by the store's uniqueness rules, so a
// second process racing on the same database loses with
// repo.ErrClaimConflict and the engine retries selection a bounded number
// of times.
//
// # Collaborator failures
//
// Review collaborator calls run outside store transactions. Terminal
// actions validate the claim, call the collaborator, then apply all ledger
// mutations in one transaction. If the collaborator fails nothing is
// written; if the transaction fails after a review was created, the review
// is deleted again.
package allocation
