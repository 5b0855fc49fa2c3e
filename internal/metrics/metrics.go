// Package metrics holds the Prometheus collectors exported by the server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records vault activity.
type Metrics struct {
	revealTotal        *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec
	auditFailuresTotal prometheus.Counter
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing a fresh prometheus.NewRegistry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		revealTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credvault_reveal_total",
				Help: "Total number of password reveal attempts by outcome",
			},
			[]string{"outcome"},
		),
		rateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credvault_rate_limited_total",
				Help: "Total number of requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
		auditFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credvault_audit_append_failures_total",
				Help: "Total number of audit entries that could not be stored",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credvault_http_requests_total",
				Help: "Total number of HTTP requests by route pattern, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credvault_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"route"},
		),
		gatherer: reg,
	}
}

// RecordReveal counts a reveal attempt with its outcome label.
func (m *Metrics) RecordReveal(outcome string) {
	if m == nil {
		return
	}
	m.revealTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts a rejection by the named limiter.
func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(limiter).Inc()
}

// RecordAuditFailure counts an audit entry that was dropped.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailuresTotal.Inc()
}

// RecordRequest counts a served HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
