package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contenthub",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contenthub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ScheduledFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contenthub",
			Name:      "scheduled_fires_total",
			Help:      "Scheduled task fires by executor type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contenthub",
			Name:      "execution_duration_seconds",
			Help:      "Executor run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	PoolPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contenthub",
			Name:      "pool_publish_total",
			Help:      "Publish pool entries processed by the scanner.",
		},
		[]string{"result"},
	)

	GenerationTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contenthub",
			Name:      "generation_tasks_total",
			Help:      "Content generation tasks by lifecycle event.",
		},
		[]string{"event"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contenthub",
			Name:      "generation_duration_seconds",
			Help:      "Generator call duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contenthub",
			Name:      "webhook_deliveries_total",
			Help:      "Outbound webhook notification attempts.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	// MustRegister is safe to call once; if tests call multiple times, use Register and ignore errors.
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScheduledFiresTotal,
		ExecutionDuration,
		PoolPublishTotal,
		GenerationTasksTotal,
		GenerationDuration,
		WebhookDeliveriesTotal,
	)
}
