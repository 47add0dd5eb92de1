package vault

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the Prometheus collectors for outbound Vault traffic.
// Collectors are not registered anywhere until the caller registers
// Collectors() on a registry.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	breakerState      prometheus.Gauge
	breakerTransition *prometheus.CounterVec
	tokenTTL          prometheus.Gauge
}

// NewMetrics creates the Vault metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "secretgw"
	}

	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "requests_total",
				Help:      "Total number of HTTP calls made to Vault",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP calls made to Vault in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total number of gateway operations against Vault by result kind",
			},
			[]string{"operation", "result"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "retries_total",
				Help:      "Total number of retried Vault operations",
			},
			[]string{"operation"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		breakerTransition: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		tokenTTL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "token_ttl_seconds",
				Help:      "Remaining TTL of the gateway token as of the last lookup or renewal",
			},
		),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.operationsTotal,
		m.retriesTotal,
		m.breakerState,
		m.breakerTransition,
		m.tokenTTL,
	}
}

// RecordRequest records one HTTP call to Vault. status is the HTTP status,
// or zero when no response was received.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, label).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOperation records the outcome of a gateway operation.
func (m *Metrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := statusSuccess
	if err != nil {
		result = string(KindOf(err))
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordRetry records a retry of an operation.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

// RecordBreakerTransition records a breaker state change.
func (m *Metrics) RecordBreakerTransition(from, to string, state int) {
	if m == nil {
		return
	}
	m.breakerTransition.WithLabelValues(from, to).Inc()
	m.breakerState.Set(float64(state))
}

// SetTokenTTL publishes the gateway token's remaining TTL.
func (m *Metrics) SetTokenTTL(ttl time.Duration) {
	if m == nil {
		return
	}
	m.tokenTTL.Set(ttl.Seconds())
}
