// Package metrics collects and exposes Prometheus metrics for the runner
// and its event loop.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all ioloop Prometheus metrics. It satisfies
// ioloop.Metrics.
type Collector struct {
	registry *prometheus.Registry

	// Loop metrics.
	Dispatched *prometheus.CounterVec
	Handlers   prometheus.Gauge
	Pending    *prometheus.GaugeVec

	// Child process metrics.
	SpawnTotal      *prometheus.CounterVec
	SpawnErrorTotal *prometheus.CounterVec
	ExitTotal       *prometheus.CounterVec
	Running         prometheus.Gauge
	BuildInfo       *prometheus.GaugeVec
}

// New creates a collector on its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioloop_dispatched_total",
				Help: "Callbacks run by the event loop, by source.",
			},
			[]string{"source"},
		),

		Handlers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ioloop_handlers",
				Help: "Registered descriptor handlers.",
			},
		),

		Pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ioloop_pending",
				Help: "Scheduled timeouts waiting to fire, by queue.",
			},
			[]string{"queue"},
		),

		SpawnTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioloop_spawn_total",
				Help: "Children started, by program.",
			},
			[]string{"program"},
		),

		SpawnErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioloop_spawn_errors_total",
				Help: "Failed spawn attempts, by program.",
			},
			[]string{"program"},
		),

		ExitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioloop_exit_total",
				Help: "Children reaped, by program and whether the exit was expected.",
			},
			[]string{"program", "expected"},
		),

		Running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ioloop_running",
				Help: "Children currently running.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ioloop_info",
				Help: "Build information.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.Dispatched,
		c.Handlers,
		c.Pending,
		c.SpawnTotal,
		c.SpawnErrorTotal,
		c.ExitTotal,
		c.Running,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch counts n callbacks run from source.
func (c *Collector) ObserveDispatch(source string, n int) {
	if n > 0 {
		c.Dispatched.WithLabelValues(source).Add(float64(n))
	}
}

// SetHandlers sets the registered handler gauge.
func (c *Collector) SetHandlers(n int) {
	c.Handlers.Set(float64(n))
}

// SetPending sets the pending gauge for a timeout queue.
func (c *Collector) SetPending(queue string, n int) {
	c.Pending.WithLabelValues(queue).Set(float64(n))
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// IncSpawn counts a started child.
func (c *Collector) IncSpawn(program string) {
	c.SpawnTotal.WithLabelValues(program).Inc()
}

// IncSpawnError counts a failed spawn.
func (c *Collector) IncSpawnError(program string) {
	c.SpawnErrorTotal.WithLabelValues(program).Inc()
}

// IncExit counts a reaped child.
func (c *Collector) IncExit(program string, expected bool) {
	c.ExitTotal.WithLabelValues(program, strconv.FormatBool(expected)).Inc()
}

// SetRunning sets the running children gauge.
func (c *Collector) SetRunning(n int) {
	c.Running.Set(float64(n))
}
