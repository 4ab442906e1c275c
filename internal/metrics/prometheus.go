package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the collector
type Metrics struct {
	// Acceptor metrics
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ActiveConnections   prometheus.Gauge
	AcceptErrors        prometheus.Counter

	// Worker metrics
	MessagesReceived prometheus.Counter
	MessageSize      prometheus.Histogram
	ReceiveErrors    prometheus.Counter
	MessagesDropped  prometheus.Counter

	// Coordinator metrics
	CoordinatorPolls prometheus.Counter
	StoredMessages   prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates all collector metrics and registers them with reg.
// A nil reg registers with a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_connections_accepted_total",
			Help: "Total number of client connections admitted to a slot",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_connections_rejected_total",
			Help: "Total number of client connections closed because capacity was exhausted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collector_active_connections",
			Help: "Current number of connection workers running",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_accept_errors_total",
			Help: "Total number of unexpected accept errors",
		}),

		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_messages_received_total",
			Help: "Total number of messages stored",
		}),
		MessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_message_size_bytes",
			Help:    "Size of stored message payloads",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1B to 128B
		}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_receive_errors_total",
			Help: "Total number of receive errors that ended a connection worker",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_messages_dropped_total",
			Help: "Total number of received messages the store refused",
		}),

		CoordinatorPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "collector_coordinator_polls_total",
			Help: "Total number of message count polls made by the coordinator",
		}),
		StoredMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "collector_stored_messages",
			Help: "Message count observed by the last coordinator poll",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),

		gatherer: reg,
	}
}

// Gatherer returns the registry the metrics were registered with
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// RecordConnectionAccepted counts an admitted connection and bumps the active gauge
func (m *Metrics) RecordConnectionAccepted() {
	m.ConnectionsAccepted.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed lowers the active gauge when a worker exits
func (m *Metrics) RecordConnectionClosed() {
	m.ActiveConnections.Dec()
}

// RecordConnectionRejected increments the rejected connections counter
func (m *Metrics) RecordConnectionRejected() {
	m.ConnectionsRejected.Inc()
}

// RecordAcceptError increments the accept errors counter
func (m *Metrics) RecordAcceptError() {
	m.AcceptErrors.Inc()
}

// RecordMessage records a stored message
func (m *Metrics) RecordMessage(sizeBytes int) {
	m.MessagesReceived.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
}

// RecordReceiveError increments the receive errors counter
func (m *Metrics) RecordReceiveError() {
	m.ReceiveErrors.Inc()
}

// RecordMessageDropped increments the dropped messages counter
func (m *Metrics) RecordMessageDropped() {
	m.MessagesDropped.Inc()
}

// RecordPoll records a coordinator poll and the count it observed
func (m *Metrics) RecordPoll(count int) {
	m.CoordinatorPolls.Inc()
	m.StoredMessages.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
