package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Messaging metrics
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_messages_sent_total",
			Help: "Total number of messages enqueued by priority",
		},
		[]string{"priority"},
	)

	MessagesAcknowledgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_messages_acknowledged_total",
			Help: "Total number of messages acknowledged",
		},
	)

	MessagesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_messages_swept_total",
			Help: "Total number of acknowledged messages removed by retention sweeps",
		},
	)

	// Lock metrics
	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hearth_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a named lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// Health metrics
	HealthSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_health_samples_total",
			Help: "Total number of health samples recorded by outcome",
		},
		[]string{"outcome"},
	)

	HealthAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_health_alerts_total",
			Help: "Total number of health transition alerts emitted by status",
		},
		[]string{"status"},
	)

	// Workflow metrics
	WorkflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_workflow_runs_total",
			Help: "Total number of workflow runs by terminal state",
		},
		[]string{"state"},
	)

	WorkflowStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hearth_workflow_step_duration_seconds",
			Help:    "Workflow step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkflowQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_workflow_queue_depth",
			Help: "Number of workflow runs waiting for a worker",
		},
	)

	// Scheduler metrics
	CronFiringsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_cron_firings_total",
			Help: "Total number of cron job firings",
		},
	)

	// Webhook metrics
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_webhook_requests_total",
			Help: "Total number of webhook requests by binding and status code",
		},
		[]string{"binding", "status"},
	)
)

func init() {
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(MessagesAcknowledgedTotal)
	prometheus.MustRegister(MessagesSweptTotal)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(LockTimeoutsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(HealthSamplesTotal)
	prometheus.MustRegister(HealthAlertsTotal)
	prometheus.MustRegister(WorkflowRunsTotal)
	prometheus.MustRegister(WorkflowStepDuration)
	prometheus.MustRegister(WorkflowQueueDepth)
	prometheus.MustRegister(CronFiringsTotal)
	prometheus.MustRegister(WebhookRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
