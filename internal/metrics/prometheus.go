package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
//
// Metrics are created and registered on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	claimsIssued         *prometheus.CounterVec
	reasks               *prometheus.CounterVec
	noEligible           *prometheus.CounterVec
	expired              *prometheus.CounterVec
	terminal             *prometheus.CounterVec
	conflicts            *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	operationLatency     *prometheus.HistogramVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector.
//
// reg defaults to prometheus.DefaultRegisterer and namespace to "allot".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "allot"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		counter := func(name, help string, labels ...string) *prometheus.CounterVec {
			return register(p.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: p.namespace,
				Subsystem: "allocation",
				Name:      name,
				Help:      help,
			}, labels))
		}

		p.claimsIssued = counter("claims_issued_total", "Claims created by next-assignment selection.", "event")
		p.reasks = counter("reasks_total", "Next-assignment requests answered with an existing claim.", "event")
		p.noEligible = counter("no_eligible_total", "Next-assignment requests with no eligible unit.", "event")
		p.expired = counter("claims_expired_total", "Claims deleted for exceeding the claim TTL.", "event")
		p.terminal = counter("terminal_actions_total", "Completed terminal actions by kind.", "event", "action")
		p.conflicts = counter("claim_conflicts_total", "Claim inserts that lost a race and were retried.", "event")
		p.collaboratorFailures = counter("collaborator_failures_total", "Failed review collaborator calls by operation.", "op")

		p.operationLatency = register(p.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "allocation",
			Name:      "operation_seconds",
			Help:      "Latency of engine operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"op"}))
	})
}

// register adds c to reg. If an identical collector is already registered,
// the existing one is returned so two engines in one process share series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Sprintf("metrics: register: %v", err))
	}
	return c
}

// RecordClaimIssued increments claims_issued_total.
func (p *PrometheusCollector) RecordClaimIssued(event string) {
	p.ensureRegistered()
	p.claimsIssued.WithLabelValues(event).Inc()
}

// RecordReask increments reasks_total.
func (p *PrometheusCollector) RecordReask(event string) {
	p.ensureRegistered()
	p.reasks.WithLabelValues(event).Inc()
}

// RecordNoEligible increments no_eligible_total.
func (p *PrometheusCollector) RecordNoEligible(event string) {
	p.ensureRegistered()
	p.noEligible.WithLabelValues(event).Inc()
}

// RecordExpired adds n to claims_expired_total.
func (p *PrometheusCollector) RecordExpired(event string, n int) {
	if n <= 0 {
		return
	}
	p.ensureRegistered()
	p.expired.WithLabelValues(event).Add(float64(n))
}

// RecordTerminal increments terminal_actions_total.
func (p *PrometheusCollector) RecordTerminal(event, action string) {
	p.ensureRegistered()
	p.terminal.WithLabelValues(event, action).Inc()
}

// RecordConflict increments claim_conflicts_total.
func (p *PrometheusCollector) RecordConflict(event string) {
	p.ensureRegistered()
	p.conflicts.WithLabelValues(event).Inc()
}

// RecordCollaboratorFailure increments collaborator_failures_total.
func (p *PrometheusCollector) RecordCollaboratorFailure(op string) {
	p.ensureRegistered()
	p.collaboratorFailures.WithLabelValues(op).Inc()
}

// ObserveOperation records into operation_seconds.
func (p *PrometheusCollector) ObserveOperation(op string, seconds float64) {
	p.ensureRegistered()
	p.operationLatency.WithLabelValues(op).Observe(seconds)
}
