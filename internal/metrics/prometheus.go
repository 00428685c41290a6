package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Admission metrics
	ConnectionsAdmitted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge

	// Dispatch metrics
	MessagesDispatched prometheus.Counter
	MessagesThrottled  prometheus.Counter
	MessageFaults      prometheus.Counter

	// Reaper metrics
	SessionsReaped prometheus.Counter

	// Admin API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsAdmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_connections_admitted_total",
				Help: "Total number of websocket connections admitted",
			},
		),

		ConnectionsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_connections_rejected_total",
				Help: "Total number of websocket connections rejected",
			},
			[]string{"reason"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_active_connections",
				Help: "Number of currently open websocket connections",
			},
		),

		MessagesDispatched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_messages_dispatched_total",
				Help: "Total number of messages fanned out to sessions",
			},
		),

		MessagesThrottled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_messages_throttled_total",
				Help: "Total number of messages dropped by the message-rate quota",
			},
		),

		MessageFaults: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_message_faults_total",
				Help: "Total number of messages that faulted during dispatch",
			},
		),

		SessionsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_sessions_reaped_total",
				Help: "Total number of expired sessions reaped",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admin_requests_total",
				Help: "Total number of admin API requests",
			},
			[]string{"method", "path", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_admin_request_duration_seconds",
				Help:    "Duration of admin API request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}
