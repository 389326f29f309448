// Package metrics records allocation outcomes.
//
// The engine reports through the Collector interface. NewNop discards
// everything; NewPrometheus exports counters and a latency histogram.
package metrics

// Collector receives allocation outcomes. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordClaimIssued counts a newly created claim.
	RecordClaimIssued(event string)

	// RecordReask counts a next-assignment request answered with the
	// caller's existing claim.
	RecordReask(event string)

	// RecordNoEligible counts a next-assignment request with no candidate.
	RecordNoEligible(event string)

	// RecordExpired counts claims removed for exceeding the TTL.
	RecordExpired(event string, n int)

	// RecordTerminal counts a completed terminal action
	// (submit, skip, abandon, flag).
	RecordTerminal(event, action string)

	// RecordConflict counts a claim insert that lost a race.
	RecordConflict(event string)

	// RecordCollaboratorFailure counts a failed review collaborator call.
	RecordCollaboratorFailure(op string)

	// ObserveOperation records how long an engine operation took.
	ObserveOperation(op string, seconds float64)
}
