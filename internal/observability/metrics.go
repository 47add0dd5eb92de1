package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute is the label value used for requests that do not
// match any registered route, ensuring bounded cardinality.
const unmatchedRoute = "unmatched"

// Metrics holds the Prometheus metrics for the gateway's inbound side.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  *prometheus.GaugeVec
	rateLimitHits   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec
	startTime       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "secretgw"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of active HTTP requests",
		},
		[]string{"method"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of error responses by error kind",
		},
		[]string{"kind"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.rateLimitHits,
		m.errorsTotal,
		m.buildInfo,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.startTime.SetToCurrentTime()

	return m
}

// RecordRequest records a completed HTTP request.
// The route parameter should be the matched route pattern,
// not the raw request path, to prevent cardinality explosion.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = unmatchedRoute
	}
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
}

// IncActiveRequests increments the in-flight gauge.
func (m *Metrics) IncActiveRequests(method string) {
	m.activeRequests.WithLabelValues(method).Inc()
}

// DecActiveRequests decrements the in-flight gauge.
func (m *Metrics) DecActiveRequests(method string) {
	m.activeRequests.WithLabelValues(method).Dec()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(route string) {
	if route == "" {
		route = unmatchedRoute
	}
	m.rateLimitHits.WithLabelValues(route).Inc()
}

// RecordError records an error response of the given kind.
func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// SetBuildInfo publishes build information.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Registry returns the Prometheus registry so that other components
// can register their collectors alongside the HTTP metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
