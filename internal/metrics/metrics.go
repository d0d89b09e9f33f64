// Package metrics exposes orchestration activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podshell/podshell/internal/events"
)

// Collector records events, sink operations and registry state. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	sinkOperations  *prometheus.CounterVec
	sinkDuration    *prometheus.HistogramVec
	watcherRestarts *prometheus.CounterVec
	watchersAlive   prometheus.Gauge
	sinksEnabled    prometheus.Gauge
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podshell_events_total",
				Help: "Events observed by the orchestrator",
			},
			[]string{"source", "kind"},
		),
		sinkOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podshell_sink_operations_total",
				Help: "Profile sink operations by result",
			},
			[]string{"sink", "op", "result"},
		),
		sinkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podshell_sink_operation_duration_seconds",
				Help:    "Time spent in profile sink operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"sink", "op"},
		),
		watcherRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podshell_watcher_restarts_total",
				Help: "Watcher instances replaced by a fresh instance",
			},
			[]string{"watcher"},
		),
		watchersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podshell_watchers_alive",
			Help: "Watchers whose run loop is executing",
		}),
		sinksEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podshell_sinks_enabled",
			Help: "Profile sinks currently enabled",
		}),
	}

	c.registry.MustRegister(
		c.eventsTotal,
		c.sinkOperations,
		c.sinkDuration,
		c.watcherRestarts,
		c.watchersAlive,
		c.sinksEnabled,
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// HandleEvent counts e. It satisfies events.Handler.
func (c *Collector) HandleEvent(e events.Event) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(e.Source, string(e.Kind)).Inc()
}

// ObserveSinkOp records one sink operation
func (c *Collector) ObserveSinkOp(sink, op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.sinkOperations.WithLabelValues(sink, op, result).Inc()
	c.sinkDuration.WithLabelValues(sink, op).Observe(d.Seconds())
}

// WatcherRestarted counts a watcher replacement
func (c *Collector) WatcherRestarted(name string) {
	if c == nil {
		return
	}
	c.watcherRestarts.WithLabelValues(name).Inc()
}

// SetRegistryState updates the alive watcher and enabled sink gauges
func (c *Collector) SetRegistryState(watchersAlive, sinksEnabled int) {
	if c == nil {
		return
	}
	c.watchersAlive.Set(float64(watchersAlive))
	c.sinksEnabled.Set(float64(sinksEnabled))
}
