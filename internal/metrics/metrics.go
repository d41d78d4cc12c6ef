package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's prometheus collectors on a private
// registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted     *prometheus.CounterVec
	JobsCompleted     prometheus.Counter
	JobsFailed        prometheus.Counter
	JobDuration       prometheus.Histogram
	CollectorFailures *prometheus.CounterVec
	RateLimitDenials  prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensics_jobs_submitted_total",
			Help: "Jobs accepted for processing, by execution mode.",
		}, []string{"mode"}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensics_jobs_completed_total",
			Help: "Jobs that reached the completed state.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensics_jobs_failed_total",
			Help: "Jobs that reached the failed state.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forensics_job_duration_seconds",
			Help:    "Wall time from job start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		CollectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensics_collector_failures_total",
			Help: "Non-fatal collector failures, by stage.",
		}, []string{"stage"}),
		RateLimitDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensics_reverse_search_denials_total",
			Help: "Reverse-search admissions denied by the rate limiter.",
		}),
	}

	registry.MustRegister(
		m.JobsSubmitted,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobDuration,
		m.CollectorFailures,
		m.RateLimitDenials,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
