package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Webhook pipeline metrics
	WebhookEventsProcessed *prometheus.CounterVec
	WebhookDuplicates      prometheus.Counter
	WebhookFailures        *prometheus.CounterVec
	WebhookLatency         prometheus.Histogram
	SignatureRejections    prometheus.Counter

	// Fulfillment metrics
	OrdersFulfilled     prometheus.Counter
	OrdersRefunded      prometheus.Counter
	EmailsQueued        prometheus.Counter
	EmailsSent          *prometheus.CounterVec
	FailedJobsPending   prometheus.Gauge
	FailedJobsRecorded  prometheus.Counter

	// Infrastructure metrics
	DatabaseOperations *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	RetryAttempts      *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		WebhookEventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_processed_total",
			Help:      "Total number of webhook events processed, by event type",
		}, []string{"event_type"}),
		WebhookDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_duplicates_total",
			Help:      "Total number of redelivered events answered as already processed",
		}),
		WebhookFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_failures_total",
			Help:      "Total number of webhook events that failed processing, by event type",
		}, []string{"event_type"}),
		WebhookLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Time spent processing webhook events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		SignatureRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_signature_rejections_total",
			Help:      "Total number of payloads rejected at signature verification",
		}),
		OrdersFulfilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_fulfilled_total",
			Help:      "Total number of orders marked completed",
		}),
		OrdersRefunded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_refunded_total",
			Help:      "Total number of orders marked refunded",
		}),
		EmailsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "emails_queued_total",
			Help:      "Total number of emails published for background delivery",
		}),
		EmailsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "emails_sent_total",
			Help:      "Total number of email delivery attempts, by status",
		}, []string{"status"}),
		FailedJobsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failed_jobs_pending",
			Help:      "Current number of failed jobs awaiting operator action",
		}),
		FailedJobsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failed_jobs_recorded_total",
			Help:      "Total number of events escalated to the failed-job queue",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"dependency"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts, by operation",
		}, []string{"operation"}),
	}
}
