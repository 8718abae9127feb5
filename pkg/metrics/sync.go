package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncJobMetrics records metadata for inventory sync jobs.
type SyncJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewSyncJobMetrics registers the sync job metrics on the provided registerer.
func NewSyncJobMetrics(reg prometheus.Registerer) *SyncJobMetrics {
	if reg == nil {
		return &SyncJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_sync_job_duration_seconds",
		Help:    "Duration of inventory sync jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_job_success",
		Help: "Successful inventory sync job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_job_failure",
		Help: "Failed inventory sync job executions.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure)
	return &SyncJobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named job.
func (c *SyncJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (c *SyncJobMetrics) IncSuccess(job string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (c *SyncJobMetrics) IncFailure(job string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
