package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the modem service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Transmitter metrics
	FramesSent     prometheus.Counter
	SendRejections *prometheus.CounterVec
	EncodeDuration prometheus.Histogram
	FrameAirtime   prometheus.Histogram
	TxQueueDepth   prometheus.Gauge

	// Receiver metrics
	FramesDecoded  prometheus.Counter
	DecodeFailures *prometheus.CounterVec
	SyncDetections prometheus.Counter
	EventsDropped  prometheus.Counter
	ReceiverState  prometheus.Gauge
	InputLevel     prometheus.Gauge
	CarrierActive  prometheus.Gauge
	DecodeLatency  prometheus.Histogram

	// Session metrics
	ProfileSwitches prometheus.Counter
	Listeners       prometheus.Gauge

	// UDP audio metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	PacketsLost     prometheus.Counter
	QueueSize       prometheus.Gauge

	// Webhook metrics
	WebhookRequests  prometheus.Counter
	WebhookSuccesses prometheus.Counter
	WebhookFailures  prometheus.Counter
	WebhookDuration  prometheus.Histogram
	WebhookRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Transmitter metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_frames_sent_total",
			Help: "Total number of frames handed to the audio output",
		}),
		SendRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_send_rejections_total",
			Help: "Total number of send requests rejected",
		}, []string{"reason"}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_encode_duration_seconds",
			Help:    "Time spent turning a payload into PCM audio",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),
		FrameAirtime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_frame_airtime_seconds",
			Help:    "Playback duration of transmitted frames",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		TxQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_tx_queue_depth",
			Help: "Frames waiting for or in playback",
		}),

		// Receiver metrics
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_frames_decoded_total",
			Help: "Total number of frames decoded with a valid checksum",
		}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_decode_failures_total",
			Help: "Total number of frame decode failures",
		}, []string{"reason"}),
		SyncDetections: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_sync_detections_total",
			Help: "Total number of preamble detections",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_events_dropped_total",
			Help: "Receive events dropped because a subscriber fell behind",
		}),
		ReceiverState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_receiver_state",
			Help: "Receiver state (0=idle, 1=synced, 2=header_read, 3=payload_read)",
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_input_level_dbfs",
			Help: "Smoothed input level in dBFS",
		}),
		CarrierActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_carrier_active",
			Help: "Whether the input currently carries signal energy",
		}),
		DecodeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_decode_latency_seconds",
			Help:    "Wall time from preamble detection to frame outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// Session metrics
		ProfileSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_profile_switches_total",
			Help: "Total number of session profile switches",
		}),
		Listeners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_event_listeners",
			Help: "Current number of event listeners",
		}),

		// UDP audio metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_udp_packets_received_total",
			Help: "Total number of UDP audio packets received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_udp_parse_errors_total",
			Help: "Total number of UDP packet parsing errors",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_udp_packets_lost_total",
			Help: "Audio packets declared lost and replaced by silence",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modem_udp_packet_queue_size",
			Help: "Current number of packets in the processing queue",
		}),

		// Webhook metrics
		WebhookRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_webhook_requests_total",
			Help: "Total number of webhook deliveries attempted",
		}),
		WebhookSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_webhook_successes_total",
			Help: "Total number of successful webhook deliveries",
		}),
		WebhookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_webhook_failures_total",
			Help: "Total number of failed webhook deliveries",
		}),
		WebhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modem_webhook_duration_seconds",
			Help:    "Duration of webhook deliveries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		WebhookRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "modem_webhook_retries_total",
			Help: "Total number of webhook delivery retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modem_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modem_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameSent records a frame handed to the audio output
func (m *Metrics) RecordFrameSent(encodeSeconds, airtimeSeconds float64) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.EncodeDuration.Observe(encodeSeconds)
	m.FrameAirtime.Observe(airtimeSeconds)
}

// RecordSendRejected increments the rejection counter for reason
func (m *Metrics) RecordSendRejected(reason string) {
	if m == nil {
		return
	}
	m.SendRejections.WithLabelValues(reason).Inc()
}

// SetTxQueueDepth sets the number of queued and playing frames
func (m *Metrics) SetTxQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.TxQueueDepth.Set(float64(depth))
}

// RecordFrameDecoded records a successfully decoded frame
func (m *Metrics) RecordFrameDecoded(latencySeconds float64) {
	if m == nil {
		return
	}
	m.FramesDecoded.Inc()
	m.DecodeLatency.Observe(latencySeconds)
}

// RecordDecodeFailure records a failed frame
func (m *Metrics) RecordDecodeFailure(reason string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(reason).Inc()
	m.DecodeLatency.Observe(latencySeconds)
}

// RecordSync increments the preamble detection counter
func (m *Metrics) RecordSync() {
	if m == nil {
		return
	}
	m.SyncDetections.Inc()
}

// RecordEventsDropped adds n dropped receive events
func (m *Metrics) RecordEventsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsDropped.Add(float64(n))
}

// SetReceiverState sets the receiver state gauge
func (m *Metrics) SetReceiverState(state int) {
	if m == nil {
		return
	}
	m.ReceiverState.Set(float64(state))
}

// SetInputLevel records the smoothed input level and carrier flag
func (m *Metrics) SetInputLevel(dbfs float64, active bool) {
	if m == nil {
		return
	}
	m.InputLevel.Set(dbfs)
	if active {
		m.CarrierActive.Set(1)
	} else {
		m.CarrierActive.Set(0)
	}
}

// RecordProfileSwitch increments the profile switch counter
func (m *Metrics) RecordProfileSwitch() {
	if m == nil {
		return
	}
	m.ProfileSwitches.Inc()
}

// SetListeners sets the current number of event listeners
func (m *Metrics) SetListeners(count int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(count))
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketsLost adds n lost audio packets
func (m *Metrics) RecordPacketsLost(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PacketsLost.Add(float64(n))
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordWebhookRequest increments webhook requests counter
func (m *Metrics) RecordWebhookRequest() {
	if m == nil {
		return
	}
	m.WebhookRequests.Inc()
}

// RecordWebhookSuccess records a successful delivery
func (m *Metrics) RecordWebhookSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.WebhookSuccesses.Inc()
	m.WebhookDuration.Observe(durationSeconds)
}

// RecordWebhookFailure records a failed delivery
func (m *Metrics) RecordWebhookFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.WebhookFailures.Inc()
	m.WebhookDuration.Observe(durationSeconds)
}

// RecordWebhookRetry increments the retry counter
func (m *Metrics) RecordWebhookRetry() {
	if m == nil {
		return
	}
	m.WebhookRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
