// Package metrics exposes Prometheus collectors for the agent service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksSubmittedTotal        *prometheus.CounterVec
	tasksCompletedTotal        *prometheus.CounterVec
	taskRetriesTotal           prometheus.Counter
	taskDurationSeconds        *prometheus.HistogramVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	scheduledFiresTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	watchdogRestartsTotal      *prometheus.CounterVec
	pollCyclesTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tasks_submitted_total",
				Help: "Total number of tasks submitted, labeled by priority.",
			},
			[]string{"priority"},
		)

		tasksCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tasks_completed_total",
				Help: "Total number of tasks that reached a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		taskRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_task_retries_total",
				Help: "Total number of retry attempts across all tasks.",
			},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_task_duration_seconds",
				Help:    "Histogram of task execution durations, labeled by task name.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
			},
			[]string{"name"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_queue_depth",
				Help: "Number of tasks currently waiting in the priority queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		scheduledFiresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_scheduled_fires_total",
				Help: "Total number of recurring task fires, labeled by schedule name.",
			},
			[]string{"schedule"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		watchdogRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_restarts_total",
				Help: "Total number of service restart attempts, labeled by service.",
			},
			[]string{"service"},
		)

		pollCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_poll_cycles_total",
				Help: "Total number of poll cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmit increments the submission counter for the given priority.
func ObserveSubmit(priority string) {
	tasksSubmittedTotal.WithLabelValues(priority).Inc()
}

// ObserveCompletion records a terminal task with its execution duration.
func ObserveCompletion(name, status string, duration time.Duration) {
	tasksCompletedTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	taskRetriesTotal.Inc()
}

// SetQueueDepth records the current queue size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveScheduledFire increments the fire counter for a schedule.
func ObserveScheduledFire(schedule string) {
	scheduledFiresTotal.WithLabelValues(schedule).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWatchdogRestart increments the restart counter for a service.
func ObserveWatchdogRestart(service string) {
	watchdogRestartsTotal.WithLabelValues(service).Inc()
}

// ObservePollCycle increments the poll cycle counter for the given outcome.
func ObservePollCycle(outcome string) {
	pollCyclesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
