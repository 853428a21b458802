// Package metrics exposes prometheus instrumentation for provider calls,
// cache behavior and payment captures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargehub/internal/provider"
)

// Metrics holds the collectors. A nil *Metrics is a no-op so tests can skip
// instrumentation entirely.
type Metrics struct {
	registry       *prometheus.Registry
	providerCalls  *prometheus.CounterVec
	cacheServes    *prometheus.CounterVec
	providerHealth *prometheus.GaugeVec
	captures       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargehub_provider_calls_total",
			Help: "Provider adapter calls by operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		cacheServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargehub_availability_cache_serves_total",
			Help: "Availability cache reads by freshness mode.",
		}, []string{"provider", "mode"}),
		providerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chargehub_provider_health",
			Help: "Provider health: 0 ok, 1 degraded, 2 down.",
		}, []string{"provider"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargehub_payment_captures_total",
			Help: "Payment capture attempts by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(m.providerCalls, m.cacheServes, m.providerHealth, m.captures)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordProviderCall counts one adapter call outcome ("ok" or an error kind).
func (m *Metrics) RecordProviderCall(providerName, op, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(providerName, op, outcome).Inc()
}

// RecordCacheServe counts one cache read by mode ("fresh" or "stale").
func (m *Metrics) RecordCacheServe(providerName, mode string) {
	if m == nil {
		return
	}
	m.cacheServes.WithLabelValues(providerName, mode).Inc()
}

// SetProviderHealth publishes the rolling health verdict.
func (m *Metrics) SetProviderHealth(providerName string, status provider.Status) {
	if m == nil {
		return
	}
	var v float64
	switch status {
	case provider.StatusDegraded:
		v = 1
	case provider.StatusDown:
		v = 2
	}
	m.providerHealth.WithLabelValues(providerName).Set(v)
}

// RecordCapture counts one payment capture outcome.
func (m *Metrics) RecordCapture(outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(outcome).Inc()
}
