package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smehta/brokersync/internal/domain"
)

// Metrics exposes run and outcome counters on /metrics. It satisfies the
// orchestrator's MetricsRecorder.
type Metrics struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// NewMetrics creates the metrics registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brokersync",
		Name:      "task_outcomes_total",
		Help:      "Per-user task outcomes by terminal status.",
	}, []string{"status"})
	registry.MustRegister(outcomes)

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "brokersync",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of completed daily runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	registry.MustRegister(runDuration)

	return &Metrics{
		registry:    registry,
		outcomes:    outcomes,
		runDuration: runDuration,
	}
}

// ObserveOutcome implements sync.MetricsRecorder.
func (m *Metrics) ObserveOutcome(status domain.OutcomeStatus) {
	m.outcomes.WithLabelValues(string(status)).Inc()
}

// ObserveRunDuration implements sync.MetricsRecorder.
func (m *Metrics) ObserveRunDuration(d time.Duration) {
	m.runDuration.Observe(d.Seconds())
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
