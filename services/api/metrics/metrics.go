// Package metrics holds the Prometheus instrumentation of the dispatch gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_ingest_total",
			Help: "Telemetry submissions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	EventLogFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_event_log_failures_total",
			Help: "Best-effort event log appends that failed",
		},
		[]string{"kind"},
	)

	AudioBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_audio_bytes_total",
			Help: "Bytes of audio persisted to storage",
		},
	)

	EmergencyAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_emergency_alerts_total",
			Help: "Emergency alerts recorded",
		},
	)

	GateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_gate_rejections_total",
			Help: "Requests rejected by the credential gate",
		},
		[]string{"reason"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_api_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)

	MQTTMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_mqtt_messages_total",
			Help: "MQTT messages routed by the bridge, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// RecordIngest counts one ingestion attempt.
func RecordIngest(kind, outcome string) {
	IngestTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAPIRequest records latency and status of one HTTP request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
