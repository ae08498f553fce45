package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesReceived atomic.Uint64
	FramesRejected atomic.Uint64

	// Scenario counters
	ScenariosEmitted    atomic.Uint64
	ScenariosSuppressed atomic.Uint64
	Incidents           atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Int64
	TotalSessions  atomic.Uint64

	// Downstream delivery
	SubscriberDrops atomic.Uint64
	JournalErrors   atomic.Uint64
	CaptionRequests atomic.Uint64
	CaptionErrors   atomic.Uint64

	// Latency of one Step call in microseconds (last observed)
	ProcessLatencyUs atomic.Uint64

	scenarios *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scenarios: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scenario_events_total",
				Help: "Scenario events by name and outcome (sent, suppressed)",
			},
			[]string{"scenario", "outcome"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.scenarios)

	m.gauge("scenario_frames_received_total", "Total frames received from clients",
		func() float64 { return float64(m.FramesReceived.Load()) })
	m.gauge("scenario_frames_rejected_total", "Total frames rejected as invalid input",
		func() float64 { return float64(m.FramesRejected.Load()) })
	m.gauge("scenario_emitted_total", "Total scenarios that passed the cooldown gate",
		func() float64 { return float64(m.ScenariosEmitted.Load()) })
	m.gauge("scenario_suppressed_total", "Total scenario matches suppressed by cooldown",
		func() float64 { return float64(m.ScenariosSuppressed.Load()) })
	m.gauge("scenario_incidents_total", "Total emergency incidents issued",
		func() float64 { return float64(m.Incidents.Load()) })

	m.gauge("scenario_active_sessions", "Number of open monitoring sessions",
		func() float64 { return float64(m.ActiveSessions.Load()) })
	m.gauge("scenario_total_sessions", "Total monitoring sessions opened",
		func() float64 { return float64(m.TotalSessions.Load()) })

	m.gauge("scenario_subscriber_drops_total", "Events dropped for slow stream subscribers",
		func() float64 { return float64(m.SubscriberDrops.Load()) })
	m.gauge("scenario_journal_errors_total", "Failed journal writes",
		func() float64 { return float64(m.JournalErrors.Load()) })
	m.gauge("scenario_caption_requests_total", "Frames forwarded to the captioner",
		func() float64 { return float64(m.CaptionRequests.Load()) })
	m.gauge("scenario_caption_errors_total", "Failed captioner requests",
		func() float64 { return float64(m.CaptionErrors.Load()) })

	m.gauge("scenario_process_latency_us", "Latency of the last frame evaluation in microseconds",
		func() float64 { return float64(m.ProcessLatencyUs.Load()) })
}

// ObserveEmitted counts a scenario that was sent downstream.
func (m *Metrics) ObserveEmitted(scenario string, incident bool) {
	m.ScenariosEmitted.Add(1)
	if incident {
		m.Incidents.Add(1)
	}
	m.scenarios.WithLabelValues(scenario, "sent").Inc()
}

// ObserveSuppressed counts a match held back by the cooldown gate.
func (m *Metrics) ObserveSuppressed(scenario string) {
	m.ScenariosSuppressed.Add(1)
	m.scenarios.WithLabelValues(scenario, "suppressed").Inc()
}

// UpdateProcessLatency records the duration of one frame evaluation
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyUs.Store(uint64(duration.Microseconds()))
}

// SessionOpened and SessionClosed keep the session gauges in sync.
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Add(1)
	m.TotalSessions.Add(1)
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Add(-1)
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer builds the metrics HTTP server
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
