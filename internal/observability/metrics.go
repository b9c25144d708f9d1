// Package observability provides Prometheus metrics for monitoring spatialpump.
// Error telemetry is handled by the errors package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Spatial  *metrics.SpatialMetrics
	MQTT     *metrics.MQTTMetrics
	HTTP     *metrics.HTTPMetrics
}

// NewMetrics creates a private registry with the process and Go runtime
// collectors plus every component collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	spatialMetrics, err := metrics.NewSpatialMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create spatial metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Spatial:  spatialMetrics,
		MQTT:     mqttMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Registry returns the registry all collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promErrorLogger forwards promhttp errors to the module logger.
type promErrorLogger struct{}

func (promErrorLogger) Println(v ...any) {
	getLogger().Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
