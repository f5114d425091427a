package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "faceblur"

var (
	TaskSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submitted_total",
			Help:      "Total number of tasks accepted for processing.",
		},
		[]string{"kind"},
	)

	TaskCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completed_total",
			Help:      "Total number of tasks that reached a terminal state, labeled by outcome.",
		},
		[]string{"kind", "status"},
	)

	TaskProcessingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_processing_seconds",
			Help:      "Wall time spent processing one task (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind", "status"},
	)

	ResultsServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_served_total",
			Help:      "Total number of result fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	DetectorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_calls_total",
			Help:      "Total number of face detector invocations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	SweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Total number of expired entries removed by the sweeper.",
		},
		[]string{"target"},
	)

	LeaseExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_expired_total",
			Help:      "Total number of expired task leases returned to the queue.",
		},
	)

	ArtifactConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_conflicts_total",
			Help:      "Artifact writes rejected because a result was already stored for the task.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Broker deliveries settled by workers, labeled by ack, requeue or drop.",
		},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency (seconds).",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		TaskSubmittedTotal,
		TaskCompletedTotal,
		TaskProcessingSeconds,
		ResultsServedTotal,
		DetectorCallsTotal,
		SweptTotal,
		LeaseExpiredTotal,
		DeliveriesTotal,
		ArtifactConflictsTotal,
		HTTPRequestsTotal,
		HTTPRequestSeconds,
	)
}
