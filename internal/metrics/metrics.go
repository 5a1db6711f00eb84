// Package metrics exposes Prometheus collectors for the terminal bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes.
const (
	OutcomeExited      = "exited"
	OutcomeClosed      = "closed"
	OutcomeSpawnFailed = "spawn_failed"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	OutputBytes    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "terminal_sessions_active",
				Help: "Number of open terminal sessions",
			},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_sessions_total",
				Help: "Terminal sessions by outcome",
			},
			[]string{"outcome"},
		),
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "terminal_messages_total",
				Help: "Control messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		OutputBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "terminal_output_bytes_total",
				Help: "Bytes of shell output relayed to clients",
			},
		),
	}
}

// SessionOpened marks a session as active.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
}

// SessionEnded records the outcome of an active session.
func (m *Metrics) SessionEnded(outcome string) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// SpawnFailed records a session whose shell never started.
func (m *Metrics) SpawnFailed() {
	m.SessionsTotal.WithLabelValues(OutcomeSpawnFailed).Inc()
}

// Message counts one control message.
func (m *Metrics) Message(direction, msgType string) {
	m.Messages.WithLabelValues(direction, msgType).Inc()
}

// Output counts relayed output bytes.
func (m *Metrics) Output(n int) {
	m.OutputBytes.Add(float64(n))
}
