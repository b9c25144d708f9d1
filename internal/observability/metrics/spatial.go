// Package metrics provides custom Prometheus metrics for the spatialpump components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// workerStates lists every pump worker state so the state gauge can be reset
// to a one-hot encoding on each transition.
var workerStates = []string{"idle", "disconnected", "connected", "pumping", "stopped"}

// SpatialMetrics contains the Prometheus metrics of the spatial pipeline.
// It satisfies the engine's metrics recorder interface.
type SpatialMetrics struct {
	registry *prometheus.Registry

	usableSlots       prometheus.Gauge
	queueLength       prometheus.Gauge
	registeredSources prometheus.Gauge
	workerState       *prometheus.GaugeVec

	dispositions  *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	lockTimeouts  *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	starvedReads  prometheus.Counter
	pumpCycles    prometheus.Counter
	activeSlots   prometheus.Histogram
	cycleDuration prometheus.Histogram
}

// NewSpatialMetrics creates and registers the spatial pipeline metrics.
func NewSpatialMetrics(registry *prometheus.Registry) (*SpatialMetrics, error) {
	m := &SpatialMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register spatial metrics: %w", err)
	}
	return m, nil
}

func (m *SpatialMetrics) initMetrics() {
	m.usableSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_usable_slots",
		Help: "Render slots currently usable",
	})
	m.queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_admitted_sources",
		Help: "Sources currently owning a render slot",
	})
	m.registeredSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_registered_sources",
		Help: "Sources currently registered with the engine",
	})
	m.workerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spatial_worker_state",
		Help: "Pump worker state, 1 for the current state",
	}, []string{"state"})

	m.dispositions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_render_calls_total",
		Help: "Producer calls by outcome (absorbed, pass_through, unsupported, unknown_source, destroyed, lock_timeout)",
	}, []string{"disposition"})
	m.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_evictions_total",
		Help: "Sources removed from the admission queue by reason",
	}, []string{"reason"})
	m.lockTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_lock_timeouts_total",
		Help: "Source lock acquisitions that gave up after the bounded wait",
	}, []string{"side"})
	m.reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_renderer_connects_total",
		Help: "Renderer connection attempts by status",
	}, []string{"status"})
	m.starvedReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spatial_starved_reads_total",
		Help: "Quantum reads that found less than a quantum and rendered silence",
	})
	m.pumpCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spatial_pump_cycles_total",
		Help: "Committed pump cycles",
	})
	m.activeSlots = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spatial_pump_cycle_active_slots",
		Help:    "Slots written per pump cycle",
		Buckets: prometheus.LinearBuckets(0, 1, 17),
	})
	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spatial_pump_cycle_duration_seconds",
		Help:    "Time spent in one pump cycle",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
	})
}

func (m *SpatialMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.usableSlots, m.queueLength, m.registeredSources, m.workerState,
		m.dispositions, m.evictions, m.lockTimeouts, m.reconnects,
		m.starvedReads, m.pumpCycles, m.activeSlots, m.cycleDuration,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *SpatialMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *SpatialMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *SpatialMetrics) SetUsableSlots(n int)       { m.usableSlots.Set(float64(n)) }
func (m *SpatialMetrics) SetQueueLength(n int)       { m.queueLength.Set(float64(n)) }
func (m *SpatialMetrics) SetRegisteredSources(n int) { m.registeredSources.Set(float64(n)) }

// SetWorkerState sets the gauge of state to 1 and every other state to 0.
func (m *SpatialMetrics) SetWorkerState(state string) {
	for _, s := range workerStates {
		m.workerState.WithLabelValues(s).Set(0)
	}
	m.workerState.WithLabelValues(state).Set(1)
}

func (m *SpatialMetrics) RecordDisposition(disposition string) {
	m.dispositions.WithLabelValues(disposition).Inc()
}

func (m *SpatialMetrics) RecordEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

// RecordPumpCycle records one committed cycle with the number of slots written.
func (m *SpatialMetrics) RecordPumpCycle(activeSlots int, duration time.Duration) {
	m.pumpCycles.Inc()
	m.activeSlots.Observe(float64(activeSlots))
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *SpatialMetrics) RecordStarvedRead() { m.starvedReads.Inc() }

func (m *SpatialMetrics) RecordLockTimeout(side string) {
	m.lockTimeouts.WithLabelValues(side).Inc()
}

func (m *SpatialMetrics) RecordReconnect(success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.reconnects.WithLabelValues(status).Inc()
}
