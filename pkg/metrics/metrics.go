// Package metrics holds the Prometheus collectors for the ledger, the
// lifecycle state machines and the outbox relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Metrics implements ledger.Recorder, outbox.Recorder and the command
// transition recorder.
type Metrics struct {
	// Ledger
	AuditAppends        *prometheus.CounterVec
	IntegrityMismatches *prometheus.CounterVec

	// Lifecycle
	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec

	// Outbox relay
	PendingDepth    prometheus.Gauge
	PublishedTotal  prometheus.Counter
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
}

// New registers every collector on reg. A nil reg uses a fresh registry so
// tests never collide on the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		AuditAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_audit_appends_total",
			Help: "Ledger entries appended, by action and entity type",
		}, []string{"action", "entity_type"}),
		IntegrityMismatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_audit_integrity_mismatches_total",
			Help: "Ledger entries whose stored checksum no longer matches",
		}, []string{"entity_type"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_lifecycle_transitions_total",
			Help: "Committed lifecycle transitions",
		}, []string{"entity_type", "from", "to"}),
		RejectedTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_lifecycle_rejected_total",
			Help: "Lifecycle operations rejected before mutation",
		}, []string{"entity_type", "operation"}),
		PendingDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_outbox_pending_total",
			Help: "Current number of pending outbox entries",
		}),
		PublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_outbox_published_total",
			Help: "Outbox entries successfully published",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_outbox_publish_failures_total",
			Help: "Outbox publish failures",
		}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenancy_outbox_publish_duration_seconds",
			Help:    "Time taken to publish an outbox entry",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenancy_outbox_batch_size",
			Help:    "Entries processed per relay batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenancy_outbox_poll_duration_seconds",
			Help:    "Time taken for each relay poll",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveAppend counts a committed ledger entry.
func (m *Metrics) ObserveAppend(action types.Action, entityType types.EntityType) {
	m.AuditAppends.WithLabelValues(string(action), string(entityType)).Inc()
}

// IncIntegrityMismatch counts a tamper finding.
func (m *Metrics) IncIntegrityMismatch(entityType types.EntityType) {
	m.IntegrityMismatches.WithLabelValues(string(entityType)).Inc()
}

// ObserveTransition counts a committed lifecycle transition.
func (m *Metrics) ObserveTransition(entityType types.EntityType, from, to string) {
	m.Transitions.WithLabelValues(string(entityType), from, to).Inc()
}

// IncRejected counts a rejected lifecycle operation.
func (m *Metrics) IncRejected(entityType types.EntityType, operation string) {
	m.RejectedTransitions.WithLabelValues(string(entityType), operation).Inc()
}

// SetPendingDepth sets the current number of pending outbox entries.
func (m *Metrics) SetPendingDepth(count int64) {
	m.PendingDepth.Set(float64(count))
}

// IncPublished increments the published counter.
func (m *Metrics) IncPublished() {
	m.PublishedTotal.Inc()
}

// IncPublishFailures increments the publish failures counter.
func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

// ObservePublishDuration records publish latency.
func (m *Metrics) ObservePublishDuration(seconds float64) {
	m.PublishDuration.Observe(seconds)
}

// ObserveBatchSize records the size of a relay batch.
func (m *Metrics) ObserveBatchSize(size int) {
	m.BatchSize.Observe(float64(size))
}

// ObservePollDuration records relay poll latency.
func (m *Metrics) ObservePollDuration(seconds float64) {
	m.PollDuration.Observe(seconds)
}
