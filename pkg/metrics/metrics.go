// Package metrics registers the Prometheus instruments exported at
// /metrics. All instruments live in the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestAccepted counts raw events appended to the event log.
	IngestAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentlens_ingest_events_accepted_total",
		Help: "Raw events accepted and appended to the event log.",
	})

	// IngestRejected counts dead-lettered batches.
	IngestRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentlens_ingest_batches_rejected_total",
		Help: "Ingest batches rejected by validation.",
	})

	// EventsProcessed counts worker event materializations by type and
	// outcome.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlens_events_processed_total",
		Help: "Raw events processed by the materializer workers.",
	}, []string{"event_type", "outcome"})

	// BatchDuration observes worker batch processing time.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentlens_worker_batch_duration_seconds",
		Help:    "Time spent processing one claimed batch.",
		Buckets: prometheus.DefBuckets,
	})

	// PendingEvents gauges the unprocessed event backlog.
	PendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentlens_raw_events_pending",
		Help: "Unprocessed raw events awaiting materialization.",
	})

	// JobDuration observes batch job runtime by job name.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentlens_job_duration_seconds",
		Help:    "Runtime of one batch analytics job invocation.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})

	// JobFailures counts failed job invocations by job name.
	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlens_job_failures_total",
		Help: "Failed batch analytics job invocations.",
	}, []string{"job"})

	// AnomaliesDetected counts anomalies recorded by detection method.
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlens_anomalies_detected_total",
		Help: "Anomalies recorded by the detection job.",
	}, []string{"method"})

	// ActionsProposed counts recommended actions by type.
	ActionsProposed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentlens_actions_proposed_total",
		Help: "Recommended actions inserted after cooldown dedup.",
	}, []string{"action_type"})
)
