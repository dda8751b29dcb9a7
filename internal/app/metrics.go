package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	wsReconnects prometheus.Counter
	syncFailures prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairgate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by status class.",
		}, []string{"class"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairgate",
			Name:      "session_events_total",
			Help:      "Onboarding session lifecycle events.",
		}, []string{"event"}),
		wsReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairgate",
			Name:      "ws_reconnects_total",
			Help:      "Revocation event subscriber reconnect attempts.",
		}),
		syncFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pairgate",
			Name:      "whitelist_sync_failures_total",
			Help:      "Failed whitelist pushes to the filtering service.",
		}),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRequest counts one HTTP request by status class.
func (m *Metrics) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(statusClass(status)).Inc()
}

// ObserveEvent counts a domain lifecycle event emitted by the gateway handler.
func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	switch event {
	case "whitelist.sync_failed":
		m.syncFailures.Inc()
	default:
		m.sessions.WithLabelValues(event).Inc()
	}
}

// ObserveReconnect counts one subscriber reconnect attempt.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.wsReconnects.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
