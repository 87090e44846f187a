// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
//
// The helper methods on *Metrics are nil-safe so that components can be
// built without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	TasksTotal             *prometheus.CounterVec
	TaskDuration           prometheus.Histogram
	TaskRetriesTotal       prometheus.Counter
	StageDuration          *prometheus.HistogramVec
	ToolInvocationsTotal   *prometheus.CounterVec
	ToolDuration           *prometheus.HistogramVec
	QueueDepth             prometheus.Gauge
	WorkersBusy            prometheus.Gauge
	DocumentsCommitted     prometheus.Counter
	DuplicatesTotal        prometheus.Counter
	DocsIndexedTotal       prometheus.Counter
	IndexFlushesTotal      *prometheus.CounterVec
	ClassifierModelVersion prometheus.Gauge
	EventsPublishedTotal   *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_total",
				Help: "Finished ingest tasks by terminal status and reason.",
			},
			[]string{"status", "reason"},
		),
		TaskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Wall time from worker claim to terminal outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
			},
		),
		TaskRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "task_retries_total",
				Help: "Task attempts beyond the first.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stage_duration_seconds",
				Help:    "Duration of each pipeline stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		),
		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "External tool invocations by tool and result (ok, exit, timeout, error).",
			},
			[]string{"tool", "result"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_duration_seconds",
				Help:    "External tool wall time.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
			},
			[]string{"tool"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Tasks waiting for a worker.",
			},
		),
		WorkersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "workers_busy",
				Help: "Workers currently processing a task.",
			},
		),
		DocumentsCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_committed_total",
				Help: "Archive records committed.",
			},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "duplicates_total",
				Help: "Sub-documents rejected as duplicates.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		ClassifierModelVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "classifier_model_version",
				Help: "Version of the classification model currently in use.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Stage events flushed to Kafka by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.TasksTotal,
		m.TaskDuration,
		m.TaskRetriesTotal,
		m.StageDuration,
		m.ToolInvocationsTotal,
		m.ToolDuration,
		m.QueueDepth,
		m.WorkersBusy,
		m.DocumentsCommitted,
		m.DuplicatesTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.ClassifierModelVersion,
		m.EventsPublishedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveTool(tool, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, result).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveTask(status, reason string, d time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(status, reason).Inc()
	m.TaskDuration.Observe(d.Seconds())
	if attempts > 1 {
		m.TaskRetriesTotal.Add(float64(attempts - 1))
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(delta)
}

func (m *Metrics) DocumentCommitted() {
	if m == nil {
		return
	}
	m.DocumentsCommitted.Inc()
	m.DocsIndexedTotal.Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) IndexFlush(status string) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ModelVersion(v int64) {
	if m == nil {
		return
	}
	m.ClassifierModelVersion.Set(float64(v))
}

func (m *Metrics) EventsPublished(status string, n int) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
