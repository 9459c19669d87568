// Package metrics exposes Prometheus counters for pipeline activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instruments the scheduler and server report into.
type Metrics struct {
	Registry *prometheus.Registry

	PipelinesTotal *prometheus.CounterVec
	JobsTotal      *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	JobsRunning    prometheus.Gauge
}

// New builds a registry with all instruments registered.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PipelinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewright_pipelines_total",
			Help: "Finished pipelines by terminal state.",
		}, []string{"state"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewright_jobs_total",
			Help: "Finished jobs by terminal state.",
		}, []string{"state"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipewright_job_duration_seconds",
			Help:    "Wall time of executed jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipewright_jobs_running",
			Help: "Jobs currently executing.",
		}),
	}
	m.Registry.MustRegister(m.PipelinesTotal, m.JobsTotal, m.JobDuration, m.JobsRunning)
	return m
}
