// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moodcycle"

// Metrics owns a private registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	admissionDecisions   *prometheus.CounterVec
	admissionStoreErrors prometheus.Counter
	backendDuration      *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	budgetSpent          *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		admissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions on the chat endpoint.",
			},
			[]string{"decision", "persona"},
		),
		admissionStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "store_errors_total",
				Help:      "Counter store failures; the request was let through.",
			},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chat",
				Name:      "backend_duration_seconds",
				Help:      "Latency of chat backend calls.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		budgetSpent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "budget",
				Name:      "spent_dollars",
				Help:      "Estimated chat backend spend in the current period.",
			},
			[]string{"period"},
		),
	}

	m.Registry.MustRegister(
		m.admissionDecisions,
		m.admissionStoreErrors,
		m.backendDuration,
		m.httpRequests,
		m.budgetSpent,
	)
	return m
}

// RecordAdmission counts one allow or deny decision.
func (m *Metrics) RecordAdmission(allowed bool, persona string) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.admissionDecisions.WithLabelValues(decision, persona).Inc()
}

// RecordStoreError counts a failed counter lookup.
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.admissionStoreErrors.Inc()
}

// ObserveBackend records the latency of one backend call.
func (m *Metrics) ObserveBackend(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordHTTPRequest counts a finished request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// SetBudgetSpent publishes the spend of one budget period.
func (m *Metrics) SetBudgetSpent(period string, dollars float64) {
	if m == nil {
		return
	}
	m.budgetSpent.WithLabelValues(period).Set(dollars)
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
