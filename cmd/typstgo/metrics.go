package main

import (
	"github.com/goodguyjay/typstgo/compiler"
	"github.com/prometheus/client_golang/prometheus"
)

// serverMetrics holds the render service's Prometheus metrics on a custom
// registry, no global state.
type serverMetrics struct {
	registry *prometheus.Registry

	CompilesTotal   *prometheus.CounterVec
	CompileDuration prometheus.Histogram
	RendersTotal    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),

		CompilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typstgo",
			Name:      "compiles_total",
			Help:      "Total compilations by outcome.",
		}, []string{"outcome"}),

		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "typstgo",
			Name:      "compile_duration_seconds",
			Help:      "Compilation duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		RendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typstgo",
			Name:      "renders_total",
			Help:      "Total successful renders by format.",
		}, []string{"format"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "typstgo",
			Name:      "active_sessions",
			Help:      "Currently live render sessions.",
		}),
	}

	m.registry.MustRegister(
		m.CompilesTotal,
		m.CompileDuration,
		m.RendersTotal,
		m.ActiveSessions,
	)
	return m
}

func (m *serverMetrics) observeCompile(res compiler.Result) {
	outcome := "ok"
	switch {
	case res.Error != nil:
		outcome = "error"
	case !res.Success:
		outcome = "failed"
	}
	m.CompilesTotal.WithLabelValues(outcome).Inc()
	m.CompileDuration.Observe(res.Duration.Seconds())
}
