package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the prometheus collectors of the job server.
type Metrics struct {
	registry *prometheus.Registry
	solves   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

// NewMetrics creates collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doe",
			Name:      "solves_total",
			Help:      "Finished design jobs by solver strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doe",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of design jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"strategy"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "doe",
			Name:      "running_jobs",
			Help:      "Design jobs currently running.",
		}),
	}
	m.registry.MustRegister(m.solves, m.duration, m.running)
	return m
}

func (m *Metrics) jobStarted() { m.running.Inc() }

func (m *Metrics) jobFinished(strategy string, outcome JobState, elapsed time.Duration) {
	m.running.Dec()
	m.solves.WithLabelValues(strategy, string(outcome)).Inc()
	m.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
