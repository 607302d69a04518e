// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CallsTotal tracks initiated outbound calls by provider and outcome.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calls_total",
			Help: "Total outbound calls initiated",
		},
		[]string{"provider", "outcome"},
	)

	// CallsActive tracks call sessions currently in a non-terminal state.
	CallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calls_active",
			Help: "Call sessions in a non-terminal state",
		},
	)

	// CallDuration tracks completed call duration.
	CallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// TimelineItemsTotal tracks timeline items produced by kind.
	TimelineItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_items_total",
			Help: "Timeline items created",
		},
		[]string{"kind"},
	)

	// DeltasScheduled tracks transcript deltas accepted for deferred apply.
	DeltasScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_deltas_scheduled_total",
			Help: "Transcript deltas scheduled for deferred apply",
		},
	)

	// DeltasApplied tracks transcript deltas whose deferred apply fired.
	DeltasApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_deltas_applied_total",
			Help: "Transcript deltas applied to the timeline",
		},
	)

	// DeltasCancelled tracks deferred applies cancelled by a session reset.
	DeltasCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_deltas_cancelled_total",
			Help: "Scheduled transcript deltas cancelled before firing",
		},
	)

	// DeltasDropped tracks deltas dropped because the response was complete.
	DeltasDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_deltas_dropped_total",
			Help: "Transcript deltas dropped as late arrivals",
		},
	)

	// EventsIngested tracks inbound socket events by type.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Inbound socket events processed",
		},
		[]string{"type"},
	)

	// EventsDropped tracks malformed or unknown inbound events.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Inbound socket events dropped",
		},
		[]string{"reason"},
	)

	// PollDuration tracks persisted-history poll round trips.
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_poll_duration_seconds",
			Help:    "Persisted history poll duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// NATSPublishTotal tracks events published to JetStream.
	NATSPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_total",
			Help: "Events published to the CALLS stream",
		},
		[]string{"subject_kind", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCall records an initiated call and its immediate outcome.
func RecordCall(provider, outcome string) {
	CallsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordPoll records a history poll round trip.
func RecordPoll(status string, duration float64) {
	PollDuration.WithLabelValues(status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
