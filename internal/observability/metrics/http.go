// Package metrics provides HTTP handler metrics for observability
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the control API
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP handler metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"method", "path"},
	)

	m.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP request errors",
		},
		[]string{"method", "path", "error_type"}, // error_type: validation, state, system
	)
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsTotal, m.requestDuration, m.requestErrors}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordHTTPRequest records a completed request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordHTTPRequestError records a request that ended in an error
func (m *HTTPMetrics) RecordHTTPRequestError(method, path, errorType string) {
	m.requestErrors.WithLabelValues(method, path, errorType).Inc()
}
