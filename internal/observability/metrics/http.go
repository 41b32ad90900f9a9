package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for HTTP request handling.
type HTTPMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	authErrors      *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewHTTPMetrics creates and registers new HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests answered with an error status",
		},
		[]string{"method", "path", "status_code"},
	)

	m.authErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_auth_errors_total",
			Help: "Total number of rejected authentication attempts",
		},
		[]string{"path"},
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.requestErrors,
		m.authErrors,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRequest records one completed HTTP request.
func (m *HTTPMetrics) RecordRequest(method, path string, statusCode int, seconds float64) {
	code := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, code).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(seconds)
	if statusCode >= 400 {
		m.requestErrors.WithLabelValues(method, path, code).Inc()
	}
}

// RecordAuthError records one rejected authentication attempt.
func (m *HTTPMetrics) RecordAuthError(path string) {
	m.authErrors.WithLabelValues(path).Inc()
}
