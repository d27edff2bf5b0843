// Package metrics exposes relay counters on an injected Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the relay's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageTotal     *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	pruned         prometheus.Counter
	ttsEngine      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_pipeline_stage_total",
			Help: "Pipeline stage outcomes",
		}, []string{"stage", "status"}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medrelay_pipeline_stage_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medrelay_active_sessions",
			Help: "Number of live relay sessions",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "medrelay_broadcast_pruned_total",
			Help: "Sessions evicted because a broadcast could not be delivered",
		}),
		ttsEngine: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medrelay_tts_engine_total",
			Help: "Speech synthesis attempts per engine",
		}, []string{"engine", "status"}),
	}
}

// ObserveStage records one stage outcome and its latency.
func (m *Metrics) ObserveStage(stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Pruned counts a session evicted during broadcast.
func (m *Metrics) Pruned() {
	if m == nil {
		return
	}
	m.pruned.Inc()
}

// TTSAttempt records a synthesis attempt result for an engine.
func (m *Metrics) TTSAttempt(engine string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ttsEngine.WithLabelValues(engine, status).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
