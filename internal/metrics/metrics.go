// Package metrics defines the Prometheus collectors for protocol servers,
// bindings, discovery and the peer handshake.
//
// A single Metrics value is created at startup and passed to the
// components that record into it. All recording methods are nil-safe so
// tests can pass nil.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Reload outcomes.
const (
	ReloadOK      = "ok"
	ReloadFailed  = "failed"
	ReloadSkipped = "skipped"
	ReloadDropped = "dropped"
)

// Metrics holds the layer's collectors.
type Metrics struct {
	registry *prometheus.Registry

	serversRunning     *prometheus.GaugeVec
	bindingReloads     *prometheus.CounterVec
	handshakes         *prometheus.CounterVec
	discoveryResponses prometheus.Counter
	emits              *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		serversRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers_running",
			Help:      "Number of running protocol server handles by type.",
		}, []string{"type"}),
		bindingReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binding_reloads_total",
			Help:      "Binding file reload attempts by outcome.",
		}, []string{"interface", "outcome"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Peer handshakes by final phase.",
		}, []string{"phase"}),
		discoveryResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_responses_total",
			Help:      "mDNS responses matched to a pending query.",
		}),
		emits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_actions_total",
			Help:      "Bridge actions sent by interface and result.",
		}, []string{"interface", "result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.serversRunning,
		m.bindingReloads,
		m.handshakes,
		m.discoveryResponses,
		m.emits,
	)

	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetServersRunning records the running handle count for a type.
func (m *Metrics) SetServersRunning(serverType string, n int) {
	if m == nil {
		return
	}
	m.serversRunning.WithLabelValues(serverType).Set(float64(n))
}

// BindingReload counts one reload attempt.
func (m *Metrics) BindingReload(iface, outcome string) {
	if m == nil {
		return
	}
	m.bindingReloads.WithLabelValues(iface, outcome).Inc()
}

// Handshake counts one finished handshake.
func (m *Metrics) Handshake(phase string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(phase).Inc()
}

// DiscoveryResponse counts one matched mDNS response.
func (m *Metrics) DiscoveryResponse() {
	if m == nil {
		return
	}
	m.discoveryResponses.Inc()
}

// BridgeAction counts one outbound bridge action.
func (m *Metrics) BridgeAction(iface string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.emits.WithLabelValues(iface, result).Inc()
}
