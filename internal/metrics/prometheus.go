// Package metrics exposes Prometheus instrumentation for the streaming server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the hasciicam server
type Metrics struct {
	registry *prometheus.Registry

	// Listener metrics
	CommandsReceived    *prometheus.CounterVec
	MalformedCommands   prometheus.Counter
	SubscribeRejections prometheus.Counter
	Subscribers         prometheus.Gauge

	// Stream state metrics
	StreamEnabled      prometheus.Gauge
	StreamStateChanges prometheus.Counter

	// Broadcaster metrics
	FramesRead     prometheus.Counter
	FrameBytes     prometheus.Counter
	FragmentsSent  prometheus.Counter
	SendFailures   prometheus.Counter
	FanoutDuration prometheus.Histogram

	// Control plane metrics
	ControlMessages *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CommandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hasciicam_commands_received_total",
			Help: "Total number of client commands received",
		}, []string{"command"}),
		MalformedCommands: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_malformed_commands_total",
			Help: "Total number of discarded malformed client datagrams",
		}),
		SubscribeRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_subscribe_rejections_total",
			Help: "Total number of subscriptions denied because the registry was full",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hasciicam_subscribers",
			Help: "Current number of subscribed clients",
		}),

		StreamEnabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hasciicam_stream_enabled",
			Help: "1 when the stream is enabled, 0 otherwise",
		}),
		StreamStateChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_stream_state_changes_total",
			Help: "Total number of stream enable/disable transitions",
		}),

		FramesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_frames_read_total",
			Help: "Total number of frames read from the producer",
		}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_frame_bytes_total",
			Help: "Total number of frame bytes read from the producer",
		}),
		FragmentsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_fragments_sent_total",
			Help: "Total number of fragments sent to subscribers",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "hasciicam_send_failures_total",
			Help: "Total number of failed datagram sends to a subscriber",
		}),
		FanoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hasciicam_fanout_duration_seconds",
			Help:    "Time spent sending one frame to every subscriber",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
		}),

		ControlMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hasciicam_control_messages_total",
			Help: "Total number of control plane messages consumed",
		}, []string{"kind"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hasciicam_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hasciicam_http_request_duration_seconds",
			Help:    "Time spent processing HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hasciicam_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommand increments the command counter
func (m *Metrics) RecordCommand(command string) {
	m.CommandsReceived.WithLabelValues(command).Inc()
}

// RecordMalformedCommand increments the malformed command counter
func (m *Metrics) RecordMalformedCommand() {
	m.MalformedCommands.Inc()
}

// RecordRejection increments the rejection counter
func (m *Metrics) RecordRejection() {
	m.SubscribeRejections.Inc()
}

// SetSubscribers sets the current number of subscribers
func (m *Metrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

// RecordStreamState records a stream state transition
func (m *Metrics) RecordStreamState(enabled bool) {
	m.StreamStateChanges.Inc()
	m.SetStreamEnabled(enabled)
}

// SetStreamEnabled sets the stream state gauge without counting a transition
func (m *Metrics) SetStreamEnabled(enabled bool) {
	if enabled {
		m.StreamEnabled.Set(1)
	} else {
		m.StreamEnabled.Set(0)
	}
}

// RecordFrame records one frame read from the producer
func (m *Metrics) RecordFrame(size int) {
	m.FramesRead.Inc()
	m.FrameBytes.Add(float64(size))
}

// RecordFanout records the outcome of sending one frame
func (m *Metrics) RecordFanout(sent, failed int, durationSeconds float64) {
	m.FragmentsSent.Add(float64(sent))
	m.SendFailures.Add(float64(failed))
	m.FanoutDuration.Observe(durationSeconds)
}

// RecordSendFailure increments the send failure counter
func (m *Metrics) RecordSendFailure() {
	m.SendFailures.Inc()
}

// RecordControlMessage counts one consumed control message
func (m *Metrics) RecordControlMessage(kind string) {
	m.ControlMessages.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
