// Package metrics exposes Prometheus metrics for the monitoring loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle results.
const (
	ResultOK           = "ok"
	ResultUnauthorized = "unauthorized"
	ResultCanceled     = "canceled"
)

// Metrics holds Prometheus counters and gauges for clipwatch. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	cyclesTotal    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	groupsDetected prometheus.Counter
	dispatches     *prometheus.CounterVec
	activeTenants  prometheus.Gauge
	cyclesSkipped  prometheus.Counter
}

// New creates and registers the clipwatch metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cyclesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipwatch_cycles_total",
		Help: "Total number of tenant monitoring cycles by result",
	}, []string{"result"})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipwatch_cycle_duration_seconds",
		Help:    "Duration of tenant monitoring cycles",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	groupsDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipwatch_groups_detected_total",
		Help: "Total number of clip groups produced by the grouper",
	})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipwatch_dispatches_total",
		Help: "Total number of outgoing notifications by kind and result",
	}, []string{"kind", "result"})
	activeTenants := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipwatch_active_tenants",
		Help: "Number of tenants currently tracked by the supervisor",
	})
	cyclesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipwatch_cycles_skipped_total",
		Help: "Ticks skipped because the tenant's previous cycle was still running",
	})

	registry.MustRegister(
		cyclesTotal,
		cycleDuration,
		groupsDetected,
		dispatches,
		activeTenants,
		cyclesSkipped,
	)

	return &Metrics{
		registry:       registry,
		cyclesTotal:    cyclesTotal,
		cycleDuration:  cycleDuration,
		groupsDetected: groupsDetected,
		dispatches:     dispatches,
		activeTenants:  activeTenants,
		cyclesSkipped:  cyclesSkipped,
	}
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// AddGroupsDetected adds to the detected groups counter.
func (m *Metrics) AddGroupsDetected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.groupsDetected.Add(float64(n))
}

// IncDispatch counts one notification attempt.
func (m *Metrics) IncDispatch(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(kind, result).Inc()
}

// SetActiveTenants sets the active tenants gauge.
func (m *Metrics) SetActiveTenants(n int) {
	if m == nil {
		return
	}
	m.activeTenants.Set(float64(n))
}

// IncCyclesSkipped counts a tick that found a cycle still in flight.
func (m *Metrics) IncCyclesSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkipped.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
