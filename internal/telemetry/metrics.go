package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AuthAttempts       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "connector_auth_attempts_total", Help: "Authentication attempts by outcome"}, []string{"outcome"})
	JobsDispatched     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "connector_jobs_dispatched_total", Help: "Query jobs handed to the connector"}, []string{"entity_type"})
	SequenceErrors     = prometheus.NewCounter(prometheus.CounterOpts{Name: "connector_sequence_errors_total", Help: "Responses submitted without a pending dispatch"})
	RecordsReconciled  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_records_total", Help: "Reconciled records by entity type and status"}, []string{"entity_type", "status"})
	ReconcileDuration  = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "sync_batch_duration_seconds", Help: "Wall time of one reconciliation batch", Buckets: prometheus.DefBuckets}, []string{"entity_type"})
	ActiveSessions     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "connector_active_sessions", Help: "Sessions authenticated and not yet closed"})
	BreakerStateChange = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "store_breaker_transitions_total", Help: "Entity store circuit breaker transitions"}, []string{"to"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AuthAttempts,
			JobsDispatched,
			SequenceErrors,
			RecordsReconciled,
			ReconcileDuration,
			ActiveSessions,
			BreakerStateChange,
		)
	})
	return promhttp.Handler()
}
