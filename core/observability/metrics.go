// Package observability exposes the framework's runtime health as
// Prometheus collectors. Everything registers on a private registry so
// embedding applications never collide with the global default.
package observability

import (
	nhttp "net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blyfast/blyfast/core/http"
	"github.com/blyfast/blyfast/core/scheduler"
)

// Metrics owns the registry and the request-level collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the registry and request collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blyfast",
			Name:      "requests_total",
			Help:      "Requests dispatched, by method, route prefix and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blyfast",
			Name:      "request_duration_seconds",
			Help:      "End-to-end dispatch latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

// Registry returns the private registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RequestHook returns the per-dispatch observation callback.
func (m *Metrics) RequestHook() func(method, route string, status int, elapsed time.Duration) {
	return func(method, route string, status int, elapsed time.Duration) {
		m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	}
}

// ObserveScheduler registers gauges sampling the worker pool on scrape.
func (m *Metrics) ObserveScheduler(pool *scheduler.Pool) {
	factory := promauto.With(m.registry)

	gauge := func(name, help string, fn func() float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "blyfast",
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, fn)
	}

	gauge("pool_size", "Current worker count.", func() float64 {
		return float64(pool.PoolSize())
	})
	gauge("running_tasks", "Tasks executing right now.", func() float64 {
		return float64(pool.RunningTasks())
	})
	gauge("queue_depth", "Tasks waiting in the queue.", func() float64 {
		return float64(pool.Stats().QueueDepth)
	})
	gauge("tasks_submitted_total", "Accepted submissions.", func() float64 {
		return float64(pool.TasksSubmitted())
	})
	gauge("tasks_completed_total", "Tasks that finished executing.", func() float64 {
		return float64(pool.TasksCompleted())
	})
	gauge("tasks_rejected_total", "Submissions refused at the door.", func() float64 {
		return float64(pool.TasksRejected())
	})
	gauge("avg_execution_seconds", "Mean task execution time.", func() float64 {
		return pool.AverageExecutionTime().Seconds()
	})

	if b := pool.Breaker(); b != nil {
		gauge("breaker_state", "Circuit state: 0 closed, 1 open, 2 half-open.", func() float64 {
			return float64(b.State())
		})
	}
}

// ObserveContextPool registers gauges for context and buffer reuse rates.
func (m *Metrics) ObserveContextPool(pool *http.ContextPool) {
	factory := promauto.With(m.registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "blyfast",
		Subsystem: "pools",
		Name:      "context_hit_rate",
		Help:      "Fraction of context acquisitions served from the pool.",
	}, func() float64 {
		return pool.Stats().HitRate
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "blyfast",
		Subsystem: "pools",
		Name:      "buffer_gets_total",
		Help:      "Response buffers drawn from the tiered pool.",
	}, func() float64 {
		return float64(pool.BufferStats().TotalGets)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() nhttp.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
