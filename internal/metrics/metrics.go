package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector records engine-level metrics. The no-op collector is the
// default; wire the Prometheus one in daemons that expose /metrics.
type Collector interface {
	ObserveCompile(durationSeconds float64)
	CountMemories(outcome string, n int)
	CountStoreOp(backend, op, status string)
}

// Outcome labels for CountMemories, matching the compilation trace
// fields.
const (
	OutcomeIncluded     = "included"
	OutcomeRedacted     = "redacted"
	OutcomeMetadataOnly = "metadata_only"
	OutcomeDenied       = "denied"
)

// PromCollector is the Prometheus-backed Collector.
type PromCollector struct {
	compileDuration prometheus.Histogram
	memoriesTotal   *prometheus.CounterVec
	storeOpsTotal   *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewPromCollector creates a collector with its own registry.
func NewPromCollector() *PromCollector {
	registry := prometheus.NewRegistry()

	compileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mnemos_compile_duration_seconds",
		Help:    "Duration of context pack compilations",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
	memoriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_memories_total",
		Help: "Compiled memories by outcome",
	}, []string{"outcome"})
	storeOpsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mnemos_store_ops_total",
		Help: "Content store operations by backend, op, and status",
	}, []string{"backend", "op", "status"})

	registry.MustRegister(compileDuration, memoriesTotal, storeOpsTotal)

	return &PromCollector{
		compileDuration: compileDuration,
		memoriesTotal:   memoriesTotal,
		storeOpsTotal:   storeOpsTotal,
		registry:        registry,
	}
}

// Registry exposes the registry for an HTTP /metrics handler.
func (c *PromCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PromCollector) ObserveCompile(durationSeconds float64) {
	c.compileDuration.Observe(durationSeconds)
}

func (c *PromCollector) CountMemories(outcome string, n int) {
	if n > 0 {
		c.memoriesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func (c *PromCollector) CountStoreOp(backend, op, status string) {
	c.storeOpsTotal.WithLabelValues(backend, op, status).Inc()
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) ObserveCompile(float64) {}

func (Noop) CountMemories(string, int) {}

func (Noop) CountStoreOp(_, _, _ string) {}
