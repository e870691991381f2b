// Package metrics holds the HTTP-level Prometheus metrics. Sync engine
// metrics live in internal/sync/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request-level Prometheus metrics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	BasesCreated    prometheus.Counter
}

// New creates and registers all HTTP metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "balregistry_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		BasesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "balregistry_bases_locales_created_total",
			Help: "Total base locales created",
		}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, status).Observe(seconds)
}

// IncrementBasesCreated counts a successful creation.
func (m *Metrics) IncrementBasesCreated() {
	if m == nil {
		return
	}
	m.BasesCreated.Inc()
}
