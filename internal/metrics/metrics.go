// Package metrics exposes the broker's Prometheus counters, grounded on
// statsd_exporter's relay package: one labeled CounterVec per concern,
// built with promauto so registration happens at construction time instead
// of through a hand-rolled registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter the broker publishes on its admin surface.
type Metrics struct {
	TelemetryIngress *prometheus.CounterVec
	TelemetryEgress  *prometheus.CounterVec
	CommandsRouted   *prometheus.CounterVec
	CommandsDropped  prometheus.Counter
	DatagramsDropped prometheus.Counter
}

// New registers and returns the broker's counters against reg. Passing a
// fresh *prometheus.Registry keeps tests hermetic; production wiring uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TelemetryIngress: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry_broker",
			Name:      "telemetry_ingress_total",
			Help:      "Telemetry frames received, by uav, transport and topic.",
		}, []string{"uav", "transport", "topic"}),

		TelemetryEgress: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry_broker",
			Name:      "telemetry_egress_total",
			Help:      "Telemetry frames forwarded to the UI, by transport and topic.",
		}, []string{"transport", "topic"}),

		CommandsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry_broker",
			Name:      "commands_routed_total",
			Help:      "UI commands successfully routed to a UAV command socket.",
		}, []string{"uav"}),

		CommandsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry_broker",
			Name:      "commands_dropped_total",
			Help:      "UI commands dropped because the target UAV was not found.",
		}),

		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "telemetry_broker",
			Name:      "datagrams_dropped_total",
			Help:      "Oversized UDP datagrams dropped by the transport layer.",
		}),
	}
}
