package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

const namespace = "wiotp"

// Metrics contains the relay's Prometheus collectors.
type Metrics struct {
	// Connection registry metrics
	ConnectionsOpen  prometheus.Gauge
	ConnectionUsers  *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec

	// Endpoint metrics
	CommandsRouted  *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	EndpointStatus  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
//
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_open",
				Help:      "Number of shared platform connections currently open",
			},
		),

		ConnectionUsers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_users",
				Help:      "Number of endpoints attached to each shared connection",
			},
			[]string{"identity"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_state_transitions_total",
				Help:      "Total number of shared connection state changes",
			},
			[]string{"state"},
		),

		CommandsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_routed_total",
				Help:      "Total number of commands delivered to inbound endpoints",
			},
			[]string{"endpoint"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events sent by outbound endpoints",
			},
			[]string{"endpoint", "format"},
		),

		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Total number of outbound sends that produced a warning",
			},
			[]string{"endpoint"},
		),

		EndpointStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "endpoint_connected",
				Help:      "Endpoint connection status (0=not connected, 1=connected)",
			},
			[]string{"endpoint"},
		),

		gatherer: reg,
	}

	reg.MustRegister(
		m.ConnectionsOpen,
		m.ConnectionUsers,
		m.StateTransitions,
		m.CommandsRouted,
		m.EventsPublished,
		m.PublishFailures,
		m.EndpointStatus,
	)
	return m
}

// Handler returns an HTTP handler serving the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ConnectionOpened implements connpool.Observer.
func (m *Metrics) ConnectionOpened(string) {
	m.ConnectionsOpen.Inc()
}

// ConnectionClosed implements connpool.Observer.
func (m *Metrics) ConnectionClosed(identity string) {
	m.ConnectionsOpen.Dec()
	m.ConnectionUsers.DeleteLabelValues(shortID(identity))
}

// UsersChanged implements connpool.Observer.
func (m *Metrics) UsersChanged(identity string, users int) {
	m.ConnectionUsers.WithLabelValues(shortID(identity)).Set(float64(users))
}

// StateChanged implements connpool.Observer.
func (m *Metrics) StateChanged(_ string, state connpool.State) {
	m.StateTransitions.WithLabelValues(string(state)).Inc()
}

// RecordCommandRouted increments the routed command counter for an endpoint.
func (m *Metrics) RecordCommandRouted(endpoint string) {
	m.CommandsRouted.WithLabelValues(endpoint).Inc()
}

// RecordEventPublished counts one send; a send with a warning counts as a failure.
func (m *Metrics) RecordEventPublished(endpoint, format string, ok bool) {
	if !ok {
		m.PublishFailures.WithLabelValues(endpoint).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(endpoint, format).Inc()
}

// RecordEndpointStatus updates the connection status gauge for an endpoint.
func (m *Metrics) RecordEndpointStatus(endpoint string, status connpool.Status) {
	value := 0.0
	if status == connpool.StatusConnected {
		value = 1.0
	}
	m.EndpointStatus.WithLabelValues(endpoint).Set(value)
}

// shortID trims an identity hash to a readable label.
func shortID(identity string) string {
	if len(identity) > 12 {
		return identity[:12]
	}
	return identity
}

var _ connpool.Observer = (*Metrics)(nil)
