// Package metrics exposes counters about the agent's progress. They're
// served next to the provisioning endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thinx_agent"

var (
	// Registry holds every agent metric. It is separate from the default
	// registry so tests don't collide with process collectors.
	Registry = prometheus.NewRegistry()

	JoinAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_join_attempts_total",
		Help:      "Join attempts issued by the connection manager.",
	})
	Fallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_ap_fallbacks_total",
		Help:      "Times the radio degraded into access point mode.",
	})
	Checkins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-in attempts by result.",
	}, []string{"result"})
	Dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatched_messages_total",
		Help:      "Responses dispatched by message kind.",
	}, []string{"kind"})
	UpdateApplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_applies_total",
		Help:      "Firmware apply attempts by source and result.",
	}, []string{"source", "result"})
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_state",
		Help:      "1 for the session's current state.",
	}, []string{"state"})
)

func init() {
	Registry.MustRegister(JoinAttempts, Fallbacks, Checkins, Dispatched, UpdateApplies, SessionState)
}

// Result renders an error as a metric label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the agent's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
