package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the rate limiter collectors.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	fallbackTotal  prometheus.Counter
	redisErrors    prometheus.Counter
}

// NewMetrics creates rate limiter metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "secretgw"
	}

	return &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions by backend and result",
			},
			[]string{"backend", "result"},
		),
		fallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "fallback_total",
				Help:      "Total number of decisions served by the local fallback",
			},
		),
		redisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "redis_errors_total",
				Help:      "Total number of failed Redis rate limit calls",
			},
		),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.decisionsTotal, m.fallbackTotal, m.redisErrors}
}

// RecordDecision records an allow or deny decision.
func (m *Metrics) RecordDecision(backend Backend, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.decisionsTotal.WithLabelValues(string(backend), result).Inc()
}

// RecordFallback records a decision made locally because Redis failed.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.fallbackTotal.Inc()
}

// RecordRedisError records a failed Redis call.
func (m *Metrics) RecordRedisError() {
	if m == nil {
		return
	}
	m.redisErrors.Inc()
}
