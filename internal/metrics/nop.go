package metrics

// NopMetrics discards every metric.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a no-op collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordClaimIssued discards the metric.
func (n *NopMetrics) RecordClaimIssued(_ string) {}

// RecordReask discards the metric.
func (n *NopMetrics) RecordReask(_ string) {}

// RecordNoEligible discards the metric.
func (n *NopMetrics) RecordNoEligible(_ string) {}

// RecordExpired discards the metric.
func (n *NopMetrics) RecordExpired(_ string, _ int) {}

// RecordTerminal discards the metric.
func (n *NopMetrics) RecordTerminal(_, _ string) {}

// RecordConflict discards the metric.
func (n *NopMetrics) RecordConflict(_ string) {}

// RecordCollaboratorFailure discards the metric.
func (n *NopMetrics) RecordCollaboratorFailure(_ string) {}

// ObserveOperation discards the metric.
func (n *NopMetrics) ObserveOperation(_ string, _ float64) {}
