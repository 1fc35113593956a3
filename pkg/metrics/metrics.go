// Package metrics exposes the bridge's operator-facing instrumentation.
// Queue depths are the primary signal: a growing inbound queue means
// the relay target is slower than the workers producing for it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	InboundQueueDepth  prometheus.Gauge
	OutboundQueueDepth *prometheus.GaugeVec
	SessionState       *prometheus.GaugeVec

	EventsDelivered   prometheus.Counter
	EventsDropped     prometheus.Counter
	RepliesResolved   prometheus.Counter
	RepliesUnresolved prometheus.Counter
	WorkerRestarts    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		InboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waferry_inbound_queue_depth",
			Help: "Events waiting for the relay to consume.",
		}),
		OutboundQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waferry_outbound_queue_depth",
			Help: "Commands pending per account.",
		}, []string{"account"}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waferry_session_state",
			Help: "Session health per account and state (1 = current state).",
		}, []string{"account", "state"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waferry_events_delivered_total",
			Help: "Inbound events delivered to the relay target.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waferry_events_dropped_total",
			Help: "Inbound events dropped after exhausting the delivery retry budget.",
		}),
		RepliesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waferry_replies_resolved_total",
			Help: "Replies resolved to an originating chat.",
		}),
		RepliesUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waferry_replies_unresolved_total",
			Help: "Replies whose correlation key was unknown or expired.",
		}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waferry_worker_restarts_total",
			Help: "Session worker crash restarts per account.",
		}, []string{"account"}),
	}
	reg.MustRegister(
		m.InboundQueueDepth,
		m.OutboundQueueDepth,
		m.SessionState,
		m.EventsDelivered,
		m.EventsDropped,
		m.RepliesResolved,
		m.RepliesUnresolved,
		m.WorkerRestarts,
	)
	return m
}

// SetSessionState marks one state as current for the account, clearing
// the others.
func (m *Metrics) SetSessionState(account, state string) {
	for _, s := range []string{"connected", "degraded", "reconnecting", "failed"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.SessionState.WithLabelValues(account, s).Set(v)
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
