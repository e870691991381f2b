package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync engine.
type Metrics struct {
	ReconcileTotal           *prometheus.CounterVec
	PublishDuration          prometheus.Histogram
	ConflictsDetected        prometheus.Counter
	PublicationsDeduplicated prometheus.Counter
}

// New creates a new Metrics instance with all sync engine metrics registered.
func New() *Metrics {
	return &Metrics{
		ReconcileTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "balregistry_reconcile_total",
			Help: "Total reconciliations by outcome",
		}, []string{"outcome"}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "balregistry_publish_duration_seconds",
			Help:    "Duration of remote revision publications",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ConflictsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "balregistry_sync_conflicts_total",
			Help: "Total remote divergences detected",
		}),
		PublicationsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "balregistry_publications_deduplicated_total",
			Help: "Total publications skipped because the content hash matched the remote head",
		}),
	}
}

// Reconcile outcome labels.
const (
	OutcomeSynced       = "synced"
	OutcomePublished    = "published"
	OutcomeDeduplicated = "deduplicated"
	OutcomeConflict     = "conflict"
	OutcomeGuardFailed  = "guard_failed"
	OutcomeError        = "error"
)

// ObserveReconcile records a finished reconciliation.
func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish records the duration of a remote publication.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObservePublish(start time.Time) {
	if m == nil {
		return
	}
	m.PublishDuration.Observe(time.Since(start).Seconds())
}

// IncrementConflicts records a detected divergence.
func (m *Metrics) IncrementConflicts() {
	if m == nil {
		return
	}
	m.ConflictsDetected.Inc()
}

// IncrementDeduplicated records a skipped, hash-identical publication.
func (m *Metrics) IncrementDeduplicated() {
	if m == nil {
		return
	}
	m.PublicationsDeduplicated.Inc()
}
