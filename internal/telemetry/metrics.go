// Package telemetry holds the Prometheus metrics for billing observability.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the billing service.
type Metrics struct {
	// Webhook intake
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Event dispatch
	EventsDispatched   *prometheus.CounterVec
	EventsDuplicate    *prometheus.CounterVec
	EventsUnclassified prometheus.Counter

	// Background jobs
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsDead      *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all billing metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry so repeated construction does not panic.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "crowdchurn"
	}
	subsystem := "billing"
	factory := promauto.With(reg)

	return &Metrics{
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total Kill Bill push notifications received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total notifications processed successfully",
			},
			[]string{"category"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total notifications whose handler returned an error",
			},
			[]string{"category"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_latency_seconds",
				Help:      "Notification handling latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_dispatched_total",
				Help:      "Total events routed to a handler",
			},
			[]string{"event_type"},
		),
		EventsDuplicate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_duplicate_total",
				Help:      "Total events dropped by the dedupe ledger",
			},
			[]string{"event_type"},
		),
		EventsUnclassified: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_unclassified_total",
				Help:      "Total events with an unrecognized type, logged and dropped",
			},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs completed",
			},
			[]string{"job"},
		),
		JobsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background job attempts that returned an error",
			},
			[]string{"job"},
		),
		JobsDead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_dead_total",
				Help:      "Total jobs exiled to the dead-letter subject after max deliveries",
			},
			[]string{"job"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job execution time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}
