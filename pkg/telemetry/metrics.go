package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the task engine. A nil *Metrics
// is a valid no-op collector, so callers never need to guard their
// recording calls.
type Metrics struct {
	config MetricsConfig

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec

	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		tasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks submitted",
			},
			[]string{"priority"},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall-clock duration from submission to terminal status",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of backend operations executed",
			},
			[]string{"action", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of backend operations including retries",
				Buckets:   buckets,
			},
			[]string{"action", "resource_kind"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of tasks waiting in the admission queue",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Current number of workers driving a task",
		}),
	}

	registry.MustRegister(
		m.tasksSubmitted,
		m.tasksCompleted,
		m.taskDuration,
		m.operationsExecuted,
		m.operationDuration,
		m.queueDepth,
		m.activeWorkers,
	)

	return m
}

// RecordTaskSubmitted increments the counter for submitted tasks.
func (m *Metrics) RecordTaskSubmitted(priority string) {
	if m == nil || m.tasksSubmitted == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(priority).Inc()
}

// RecordTaskCompleted records a task reaching a terminal status.
func (m *Metrics) RecordTaskCompleted(status string, duration time.Duration) {
	if m == nil || m.tasksCompleted == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordOperation records one executed backend operation.
func (m *Metrics) RecordOperation(action, status, resourceKind string, duration time.Duration) {
	if m == nil || m.operationsExecuted == nil {
		return
	}
	m.operationsExecuted.WithLabelValues(action, status).Inc()
	m.operationDuration.WithLabelValues(action, resourceKind).Observe(duration.Seconds())
}

// SetQueueDepth sets the current admission queue depth.
func (m *Metrics) SetQueueDepth(depth float64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(depth)
}

// SetActiveWorkers sets the current number of busy workers.
func (m *Metrics) SetActiveWorkers(count float64) {
	if m == nil || m.activeWorkers == nil {
		return
	}
	m.activeWorkers.Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
