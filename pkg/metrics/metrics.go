// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal tracks send pipeline outcomes.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Messages sent through the send pipeline",
		},
		[]string{"kind", "outcome"},
	)

	// SendDuration tracks time from dispatch to confirmation or failure.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_send_duration_seconds",
			Help:    "Send dispatch duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind", "outcome"},
	)

	// PushEventsTotal tracks inbound push events.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_total",
			Help: "Inbound push events by type and decode outcome",
		},
		[]string{"event", "outcome"},
	)

	// ReconcileMissesTotal counts confirmations for provisional ids no longer present.
	ReconcileMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconcile_misses_total",
			Help: "Confirmations whose provisional message was already gone",
		},
	)

	// TypingBroadcastsTotal tracks outbound typing signals.
	TypingBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_typing_broadcasts_total",
			Help: "Outbound typing presence signals",
		},
		[]string{"event"},
	)

	// BestEffortFailuresTotal counts swallowed failures on non-critical paths.
	BestEffortFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_best_effort_failures_total",
			Help: "Failures on non-critical paths that were logged and swallowed",
		},
		[]string{"operation"},
	)

	// AssistantPending is 1 while an assistant request is in flight.
	AssistantPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_assistant_pending",
			Help: "Whether an assistant request is in flight",
		},
	)

	// PushConnectionsActive tracks open push channel connections.
	PushConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_push_connections_active",
			Help: "Number of open push channel connections",
		},
	)

	// APIRequestDuration tracks outbound service call duration.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_api_request_duration_seconds",
			Help:    "Service call duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// DiagnosticsRequestsTotal tracks requests served by the diagnostics endpoint.
	DiagnosticsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_diagnostics_requests_total",
			Help: "Requests served by the diagnostics HTTP server",
		},
		[]string{"method", "path", "status"},
	)

	// DiagnosticsStreamsActive tracks open change streams.
	DiagnosticsStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_diagnostics_streams_active",
			Help: "Number of open diagnostics change streams",
		},
	)
)

// RecordSend records the outcome of one send.
func RecordSend(kind, outcome string, duration float64) {
	SendsTotal.WithLabelValues(kind, outcome).Inc()
	SendDuration.WithLabelValues(kind, outcome).Observe(duration)
}

// RecordPushEvent records one inbound push event.
func RecordPushEvent(event, outcome string) {
	PushEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordBestEffortFailure records a swallowed failure.
func RecordBestEffortFailure(operation string) {
	BestEffortFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordAPIRequest records metrics for an outbound service call.
func RecordAPIRequest(operation, status string, duration float64) {
	APIRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// SetAssistantPending mirrors the pending assistant flag.
func SetAssistantPending(pending bool) {
	if pending {
		AssistantPending.Set(1)
		return
	}
	AssistantPending.Set(0)
}

// IncrementPushConnections increments the active push connection count.
func IncrementPushConnections() {
	PushConnectionsActive.Inc()
}

// DecrementPushConnections decrements the active push connection count.
func DecrementPushConnections() {
	PushConnectionsActive.Dec()
}
