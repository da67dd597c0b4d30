// Package metrics holds the Prometheus collectors for the chat client and the dev backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// Connection metrics
	ConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlink_connection_status",
			Help: "Current connection status (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	ReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlink_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		},
	)

	ReconnectDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatlink_reconnect_delay_seconds",
			Help:    "Delay before each scheduled reconnect",
			Buckets: prometheus.ExponentialBuckets(1, 2, 5), // 1s to 16s
		},
	)

	// Event metrics
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_inbound_events_total",
			Help: "Total number of decoded inbound events",
		},
		[]string{"type"},
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlink_decode_failures_total",
			Help: "Total number of inbound frames dropped because they could not be decoded",
		},
	)

	OutboundDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_outbound_dropped_total",
			Help: "Total number of outbound messages dropped while the connection was not open",
		},
		[]string{"kind"}, // kind: message/raw
	)

	// Knowledge-base client metrics
	RAGRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatlink_rag_request_duration_seconds",
			Help:    "Knowledge-base API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"endpoint", "status"},
	)

	// Dev backend metrics
	DevserverConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlink_devserver_connections",
			Help: "Number of open WebSocket connections on the dev backend",
		},
	)

	DevserverEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_devserver_events_sent_total",
			Help: "Total number of events pushed by the dev backend",
		},
		[]string{"type"},
	)
)
