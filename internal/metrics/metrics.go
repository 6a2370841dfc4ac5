package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration times HTTP handlers.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// RequestsTotal counts HTTP requests by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// FramesReceived counts accepted detection frames.
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frames_received_total",
			Help: "Total number of detection frames accepted",
		},
	)

	// AlertsCreated counts persisted alerts by status.
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"status"},
	)

	// AlertsSuppressed counts observations swallowed by the cooldown window.
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown",
		},
	)

	// ClassifierDegraded counts decisions made without roster data.
	ClassifierDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_degraded_total",
			Help: "Total number of classifications made while the roster was unavailable",
		},
	)

	// StoreRetries counts transient store write retries.
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_write_retries_total",
			Help: "Total number of retried alert store writes",
		},
	)

	// Subscribers tracks currently connected stream subscribers.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_subscribers",
			Help: "Number of currently connected event stream subscribers",
		},
	)

	// EventsDropped counts events lost to slow subscribers.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_events_dropped_total",
			Help: "Total number of events dropped due to subscriber queue overflow",
		},
	)

	// SubscribersEvicted counts subscribers disconnected for falling behind.
	SubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_subscribers_evicted_total",
			Help: "Total number of subscribers disconnected due to queue overflow",
		},
	)
)
