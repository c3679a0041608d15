// Package metrics exposes Prometheus collectors for the gateway, cache,
// pipeline, delivery chain and HTTP surface. Labels are limited to
// operation, queue, event, strategy, route and outcome names so cardinality
// stays bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// GatewayCalls counts provider calls by operation and outcome
	// (success, transient, blocked, unavailable, error).
	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Provider calls made through the resilience gateway.",
		},
		[]string{"operation", "outcome"},
	)

	// GatewayLatency records provider call duration in seconds
	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Duration of provider calls in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90, 180},
		},
		[]string{"operation"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
	)

	// CacheLookups counts content cache hits and misses
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_cache_lookups_total",
			Help: "Content cache lookups by result.",
		},
		[]string{"result"},
	)

	// PipelineEvents counts job lifecycle events per queue
	PipelineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_events_total",
			Help: "Job lifecycle events by queue and event type.",
		},
		[]string{"queue", "event"},
	)

	// JobDuration records how long a stage handler ran
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Stage handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// DeadLetters counts jobs routed to the dead-letter queue
	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dead_letters_total",
			Help: "Jobs dead-lettered by stage.",
		},
		[]string{"stage"},
	)

	// DeliveryAttempts counts delivery strategy attempts
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Delivery attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	// PendingNotifications gauges undelivered notifications after the last sweep
	PendingNotifications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_pending_notifications",
			Help: "Pending notifications awaiting redelivery.",
		},
	)

	// HTTPRequests counts requests by method, route and status code
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPLatency records request duration by method and route
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		GatewayCalls,
		GatewayLatency,
		BreakerState,
		CacheLookups,
		PipelineEvents,
		JobDuration,
		DeadLetters,
		DeliveryAttempts,
		PendingNotifications,
		HTTPRequests,
		HTTPLatency,
	)
}
