// Package metrics holds the Prometheus collectors for the BFF.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio_bff"

// Outcomes recorded for upstream calls.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeNetwork  = "network_error"
	OutcomeRejected = "rejected"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests    *prometheus.CounterVec
	upstreamDuration    *prometheus.HistogramVec
	creditsDebited      prometheus.Counter
	bookkeepingFailures *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Outbound provider requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Duration of outbound provider requests.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"method"},
		),
		creditsDebited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "credits_debited_total",
				Help:      "Credits debited from accounts after successful submissions.",
			},
		),
		bookkeepingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "bookkeeping_failures_total",
				Help:      "Best-effort writes that failed after the upstream call.",
			},
			[]string{"operation"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Inbound HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamDuration,
		m.creditsDebited,
		m.bookkeepingFailures,
		m.httpRequests,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveUpstream(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, outcome).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) AddCreditsDebited(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsDebited.Add(amount)
}

// BookkeepingFailed counts a swallowed failure of operation
// ("debit", "record", "attach_result", "diagnostic_record").
func (m *Metrics) BookkeepingFailed(operation string) {
	if m == nil {
		return
	}
	m.bookkeepingFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
