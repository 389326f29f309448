package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the summed counter value of the named family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func TestNop_DoesNotPanic(t *testing.T) {
	var c Collector = NewNop()
	c.RecordClaimIssued("fall")
	c.RecordReask("fall")
	c.RecordNoEligible("fall")
	c.RecordExpired("fall", 3)
	c.RecordTerminal("fall", "submit")
	c.RecordConflict("fall")
	c.RecordCollaboratorFailure("create_review")
	c.ObserveOperation("next", 0.01)
}

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordClaimIssued("fall")
	p.RecordClaimIssued("fall")
	p.RecordTerminal("fall", "skip")
	p.RecordExpired("fall", 2)
	p.RecordExpired("fall", 0)
	p.ObserveOperation("next", 0.002)

	assert.Equal(t, 2.0, gathered(t, reg, "test_allocation_claims_issued_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "test_allocation_terminal_actions_total"))
	assert.Equal(t, 2.0, gathered(t, reg, "test_allocation_claims_expired_total"))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_allocation_operation_seconds"])
}

func TestPrometheus_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheus(reg, "shared")
	b := NewPrometheus(reg, "shared")

	a.RecordConflict("fall")
	b.RecordConflict("fall")

	assert.Equal(t, 2.0, gathered(t, reg, "shared_allocation_claim_conflicts_total"))
}
