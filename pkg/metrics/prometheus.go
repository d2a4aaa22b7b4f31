// Package metrics provides Prometheus metrics for the podium leaderboard client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the client.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Remote API traffic
	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	apiRateLimited     prometheus.Counter

	// Session lifecycle
	authEvents     *prometheus.CounterVec
	sessionsActive prometheus.Gauge

	// Leaderboard
	fetches          *prometheus.CounterVec
	snapshotEntries  prometheus.Gauge
	scoreSubmissions *prometheus.CounterVec

	// Async dispatch
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueEnqueued   prometheus.Counter
	queueRejected   *prometheus.CounterVec
	workerActive    prometheus.Gauge
	workerTaskTimes prometheus.Histogram

	// Durable store
	storeSaves *prometheus.CounterVec

	// Errors by component
	errorsByComponent *prometheus.CounterVec

	// Stub server
	stubRequests *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "podium",
		subsystem:        "client",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.apiRequests = auto.NewCounterVec(
		m.counterOpts("api_requests_total", "Requests sent to the remote leaderboard API"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.apiRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("api_request_duration_milliseconds", "Remote API round-trip time in milliseconds"),
		[]string{"endpoint", "method"},
	)
	m.apiRateLimited = auto.NewCounter(
		m.counterOpts("api_rate_limited_total", "Requests that waited on or were refused by the client rate limiter"),
	)

	m.authEvents = auto.NewCounterVec(
		m.counterOpts("auth_events_total", "Auth operations by outcome"),
		[]string{"operation", "outcome"},
	)
	m.sessionsActive = auto.NewGauge(
		m.gaugeOpts("session_active", "1 while an authenticated session is held"),
	)

	m.fetches = auto.NewCounterVec(
		m.counterOpts("leaderboard_fetches_total", "Leaderboard fetches by outcome (applied, stale, failed)"),
		[]string{"outcome"},
	)
	m.snapshotEntries = auto.NewGauge(
		m.gaugeOpts("leaderboard_snapshot_entries", "Entries in the most recently applied snapshot"),
	)
	m.scoreSubmissions = auto.NewCounterVec(
		m.counterOpts("score_submissions_total", "Score candidates by outcome (skipped, submitted, failed)"),
		[]string{"outcome"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("task_queue_size", "Tasks waiting for a worker"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("task_queue_capacity", "Maximum queued tasks"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("task_queue_enqueued_total", "Tasks accepted by the queue"))
	m.queueRejected = auto.NewCounterVec(
		m.counterOpts("task_queue_rejected_total", "Tasks refused by the queue"),
		[]string{"reason"},
	)
	m.workerActive = auto.NewGauge(m.gaugeOpts("worker_active_tasks", "Tasks currently executing"))
	m.workerTaskTimes = auto.NewHistogram(
		m.histogramOpts("worker_task_duration_milliseconds", "Task execution time in milliseconds"),
	)

	m.storeSaves = auto.NewCounterVec(
		m.counterOpts("store_saves_total", "Durable store flushes by backend and outcome"),
		[]string{"backend", "outcome"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_total", "Errors by component and kind"),
		[]string{"component", "kind"},
	)

	m.stubRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "stub",
			Name:        "http_requests_total",
			Help:        "Requests served by the stub leaderboard server",
			ConstLabels: m.customLabels,
		},
		[]string{"route", "method", "status_code"},
	)
}

// RecordAPIRequest records one remote API round trip.
func RecordAPIRequest(endpoint, method, statusCode string, durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.apiRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.apiRequestDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}

// RecordRateLimited increments the rate limiter counter.
func RecordRateLimited() {
	if !globalManager.enabled {
		return
	}
	globalManager.apiRateLimited.Inc()
}

// RecordAuthEvent records the outcome of login, register, logout or validate.
func RecordAuthEvent(operation, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.authEvents.WithLabelValues(operation, outcome).Inc()
}

// SetSessionActive flips the active session gauge.
func SetSessionActive(active bool) {
	if !globalManager.enabled {
		return
	}
	if active {
		globalManager.sessionsActive.Set(1)
		return
	}
	globalManager.sessionsActive.Set(0)
}

// RecordFetch records a leaderboard fetch outcome.
func RecordFetch(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.fetches.WithLabelValues(outcome).Inc()
}

// UpdateSnapshotEntries sets the size of the applied snapshot.
func UpdateSnapshotEntries(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.snapshotEntries.Set(float64(n))
}

// RecordScoreSubmission records what happened to a score candidate.
func RecordScoreSubmission(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.scoreSubmissions.WithLabelValues(outcome).Inc()
}

// UpdateQueueSize sets the current task queue size.
func UpdateQueueSize(size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the task queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRejected increments the rejected counter for reason.
func RecordQueueRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// AddWorkerActive adjusts the active task gauge by delta.
func AddWorkerActive(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerActive.Add(float64(delta))
}

// RecordWorkerTaskLatency records task execution time.
func RecordWorkerTaskLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerTaskTimes.Observe(latencyMs)
}

// RecordStoreSave records a durable store flush.
func RecordStoreSave(backend, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeSaves.WithLabelValues(backend, outcome).Inc()
}

// RecordErrorByComponent records an error with component and kind labels.
func RecordErrorByComponent(component, kind string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

// RecordStubRequest records a request served by the stub server.
func RecordStubRequest(route, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.stubRequests.WithLabelValues(route, method, statusCode).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler exposes the custom registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
