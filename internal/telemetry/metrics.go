// Package telemetry exposes the Prometheus counters and gauges the Job Controller and streaming
// layer update, and the /metrics HTTP handler that serves them. Grounded on the teacher's
// internal/telemetry/metrics.go singleton-registry shape, with counter names swapped from the
// generic task-scheduler vocabulary to the reconstruction pipeline's job lifecycle.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coherentrecon/internal/controller"
)

var (
	once sync.Once

	JobsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_jobs_started_total", Help: "Reconstruction jobs started"})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_jobs_completed_total", Help: "Reconstruction jobs completed"})
	JobsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_jobs_failed_total", Help: "Reconstruction jobs that failed"})
	JobsAborted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_jobs_aborted_total", Help: "Reconstruction jobs aborted by operator request"})

	ChunkRetries         = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_chunk_retries_total", Help: "Chunk reconstruction attempts retried after a transport or malformed-output error"})
	ContinuationAttempts = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_continuation_attempts_total", Help: "Length-enforcer continuation calls issued beyond a chunk's first draft"})

	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cc_active_jobs", Help: "Reconstruction jobs currently running in this worker"})

	StreamDroppedObservers = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_stream_dropped_observers_total", Help: "Stream Hub events dropped because a subscriber's buffer was full"})

	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "cc_rate_limit_rejects_total", Help: "Job submissions rejected by the admission rate limiter"})
	QueueDepth       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cc_queue_depth", Help: "Ready queue depth"})
	InFlight         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cc_queue_inflight", Help: "Jobs currently leased by a worker"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsCompleted,
			JobsFailed,
			JobsAborted,
			ChunkRetries,
			ContinuationAttempts,
			ActiveJobs,
			StreamDroppedObservers,
			RateLimitRejects,
			QueueDepth,
			InFlight,
		)
	})
	return promhttp.Handler()
}

// ControllerMetrics wires the package-level Prometheus collectors into a controller.Metrics value,
// so cmd/worker doesn't need to know counter names.
func ControllerMetrics() controller.Metrics {
	return controller.Metrics{
		JobStarted:          JobsStarted.Inc,
		JobCompleted:        JobsCompleted.Inc,
		JobFailed:           JobsFailed.Inc,
		JobAborted:          JobsAborted.Inc,
		ChunkRetry:          ChunkRetries.Inc,
		ContinuationAttempt: ContinuationAttempts.Inc,
		ActiveJobsInc:       ActiveJobs.Inc,
		ActiveJobsDec:       ActiveJobs.Dec,
	}
}
