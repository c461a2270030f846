package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records metadata for background worker loops.
type WorkerMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	published *prometheus.CounterVec
}

// NewWorkerMetrics registers the worker metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Duration of worker job iterations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_success",
		Help: "Successful worker job iterations.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_failure",
		Help: "Failed worker job iterations.",
	}, []string{"job"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_events_published",
		Help: "Outbox events published to Pub/Sub by event type.",
	}, []string{"event_type"})
	reg.MustRegister(duration, success, failure, published)
	return &WorkerMetrics{
		duration:  duration,
		success:   success,
		failure:   failure,
		published: published,
	}
}

// ObserveDuration records the duration for the named job.
func (w *WorkerMetrics) ObserveDuration(job string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (w *WorkerMetrics) IncSuccess(job string) {
	if w == nil || w.success == nil {
		return
	}
	w.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (w *WorkerMetrics) IncFailure(job string) {
	if w == nil || w.failure == nil {
		return
	}
	w.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncPublished increments the published-event counter for the event type.
func (w *WorkerMetrics) IncPublished(eventType string) {
	if w == nil || w.published == nil {
		return
	}
	w.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
