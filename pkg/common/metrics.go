// Package common provides shared metrics utilities for the regulator process.
package common

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exported by the regulators.
type Metrics struct {
	CoreUtilization *prometheus.GaugeVec
	CoreCycles      *prometheus.CounterVec
	MemoryUsage     prometheus.Gauge
	PoolBlocks      prometheus.Gauge
	PoolBytes       prometheus.Gauge
	PoolAdjustments *prometheus.CounterVec
	ComponentReady  prometheus.Gauge
}

// NewMetrics registers the regulator metrics on reg.
func NewMetrics(component string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"component": component}
	factory := promauto.With(reg)

	return &Metrics{
		CoreUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "occupancy_core_utilization_percent",
			Help:        "Latest utilization sample per logical core",
			ConstLabels: labels,
		}, []string{"core"}),
		CoreCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "occupancy_core_cycles_total",
			Help:        "Regulation cycles per core by phase",
			ConstLabels: labels,
		}, []string{"core", "phase"}),
		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "occupancy_memory_usage_percent",
			Help:        "Latest system memory utilization sample",
			ConstLabels: labels,
		}),
		PoolBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "occupancy_pool_blocks",
			Help:        "Number of blocks held in the memory pool",
			ConstLabels: labels,
		}),
		PoolBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "occupancy_pool_bytes",
			Help:        "Bytes held in the memory pool",
			ConstLabels: labels,
		}),
		PoolAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "occupancy_pool_adjustments_total",
			Help:        "Memory pool adjustments by action",
			ConstLabels: labels,
		}, []string{"action"}),
		ComponentReady: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "occupancy_component_ready",
			Help:        "Whether the component is ready (1) or not (0)",
			ConstLabels: labels,
		}),
	}
}

// ObserveCPUCycle records one CPU regulator decision.
func (m *Metrics) ObserveCPUCycle(core int, sample float64, phase string) {
	label := strconv.Itoa(core)
	m.CoreUtilization.WithLabelValues(label).Set(sample)
	m.CoreCycles.WithLabelValues(label, phase).Inc()
}

// ObserveRAMAdjustment records one RAM regulator adjustment.
func (m *Metrics) ObserveRAMAdjustment(usagePercent uint64, action string, blocks int, poolBytes uint64) {
	m.MemoryUsage.Set(float64(usagePercent))
	m.PoolBlocks.Set(float64(blocks))
	m.PoolBytes.Set(float64(poolBytes))
	m.PoolAdjustments.WithLabelValues(action).Inc()
}

// SetReady marks the component as ready.
func (m *Metrics) SetReady() {
	m.ComponentReady.Set(1)
}

// SetNotReady marks the component as not ready.
func (m *Metrics) SetNotReady() {
	m.ComponentReady.Set(0)
}
