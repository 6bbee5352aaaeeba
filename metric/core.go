package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core client metrics (not component-specific)
type Metrics struct {
	// Session metrics
	SessionStatus   prometheus.Gauge
	ConnectAttempts prometheus.Counter

	// Streaming metrics
	FramesSent    *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec

	// Control channel metrics
	ControlCalls    *prometheus.CounterVec
	ControlDuration prometheus.Histogram

	// Results channel metrics
	ResultsReceived prometheus.Counter
}

// Session status gauge values
const (
	SessionDisconnected = 0
	SessionConnecting   = 1
	SessionConnected    = 2
)

// NewMetrics creates a new Metrics instance with all core client metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "era5g",
				Subsystem: "session",
				Name:      "status",
				Help:      "Session status (0=disconnected, 1=connecting, 2=connected)",
			},
		),

		ConnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "era5g",
				Subsystem: "session",
				Name:      "connect_attempts_total",
				Help:      "Total number of connection attempts, including retries",
			},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "era5g",
				Subsystem: "data",
				Name:      "sent_total",
				Help:      "Total payloads transmitted on the data channel",
			},
			[]string{"event"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "era5g",
				Subsystem: "data",
				Name:      "dropped_total",
				Help:      "Total payloads rejected due to back pressure",
			},
			[]string{"event", "droppable"},
		),

		ControlCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "era5g",
				Subsystem: "control",
				Name:      "calls_total",
				Help:      "Total control command calls by type and outcome",
			},
			[]string{"type", "status"},
		),

		ControlDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "era5g",
				Subsystem: "control",
				Name:      "call_duration_seconds",
				Help:      "Control command round-trip duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),

		ResultsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "era5g",
				Subsystem: "results",
				Name:      "received_total",
				Help:      "Total result messages delivered to the handler",
			},
		),
	}
}
