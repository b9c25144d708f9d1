package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains the Prometheus metrics of the MQTT event publisher.
type MQTTMetrics struct {
	connectionStatus  prometheus.Gauge
	lastConnectTime   prometheus.Gauge
	eventsPublished   *prometheus.CounterVec
	errors            *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	messageSize       prometheus.Histogram
	publishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT publisher metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
	m.lastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})
	m.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_events_published_total",
		Help: "Engine events delivered to the broker by kind",
	}, []string{"kind"})
	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "MQTT errors by operation",
	}, []string{"operation"})
	m.reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "MQTT reconnection attempts",
	})
	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of published MQTT payloads in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})
	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})
}

// UpdateConnectionStatus records the connection state, stamping the time on connect.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
		m.lastConnectTime.SetToCurrentTime()
		return
	}
	m.connectionStatus.Set(0)
}

// RecordPublished counts one delivered event of the given kind.
func (m *MQTTMetrics) RecordPublished(kind string, sizeBytes int, latency time.Duration) {
	m.eventsPublished.WithLabelValues(kind).Inc()
	m.messageSize.Observe(float64(sizeBytes))
	m.publishLatency.Observe(latency.Seconds())
}

// RecordError counts an error in operation (connect, publish, marshal).
func (m *MQTTMetrics) RecordError(operation string) {
	m.errors.WithLabelValues(operation).Inc()
}

// IncrementReconnectAttempts counts one reconnection attempt.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.reconnectAttempts.Inc()
}

func (m *MQTTMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionStatus, m.lastConnectTime, m.eventsPublished, m.errors,
		m.reconnectAttempts, m.messageSize, m.publishLatency,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
