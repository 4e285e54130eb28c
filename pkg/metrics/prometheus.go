// Package metrics provides Prometheus metrics for the proctoring engine and ingest backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the proctoring service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Engine metrics
	violationsRecorded    *prometheus.CounterVec
	violationsRejected    *prometheus.CounterVec
	sessionTransitions    *prometheus.CounterVec
	sessionsActive        prometheus.Gauge
	faceAnalysisTicks     *prometheus.CounterVec
	faceDetectorErrors    prometheus.Counter
	cameraFailures        *prometheus.CounterVec
	syncFlushes           *prometheus.CounterVec
	syncFlushLatency      *prometheus.HistogramVec
	syncPendingViolations prometheus.Gauge

	// Ingest metrics
	violationsIngested  prometheus.Counter
	violationsDuplicate prometheus.Counter

	// Repository metrics
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "proctor",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.violationsRecorded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "violations_recorded_total",
		Help:      "Violations accepted by the session aggregator, by type",
	}, []string{"type"})

	m.violationsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "violations_rejected_total",
		Help:      "Violations dropped by the aggregator, by cause",
	}, []string{"cause"})

	m.sessionTransitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "session_transitions_total",
		Help:      "Exam session state transitions, by destination state",
	}, []string{"to"})

	m.sessionsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_active",
		Help:      "Exam sessions currently active or paused",
	})

	m.faceAnalysisTicks = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "face_analysis_ticks_total",
		Help:      "Face analysis ticks executed, by detector tier",
	}, []string{"tier"})

	m.faceDetectorErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "face_detector_errors_total",
		Help:      "Detector calls that failed or timed out",
	})

	m.cameraFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "camera_failures_total",
		Help:      "Camera failures, by reason",
	}, []string{"reason"})

	m.syncFlushes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_flush_total",
		Help:      "Sync attempts against the backend, by kind and outcome",
	}, []string{"kind", "outcome"})

	m.syncFlushLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_flush_latency_milliseconds",
		Help:      "Latency of sync calls against the backend",
		Buckets:   m.histogramBuckets,
	}, []string{"kind"})

	m.syncPendingViolations = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_pending_violations",
		Help:      "Violations recorded locally but not yet acknowledged by the backend",
	})

	m.violationsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "violations_ingested_total",
		Help:      "Violations persisted by the ingest backend",
	})

	m.violationsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "violations_duplicate_total",
		Help:      "Violation batches or entries rejected as duplicates",
	})

	m.repositoryWriteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_write_latency_milliseconds",
		Help:      "Latency of repository write transactions",
		Buckets:   m.histogramBuckets,
	})

	m.repositoryQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_latency_milliseconds",
		Help:      "Latency of repository queries",
		Buckets:   m.histogramBuckets,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of batches waiting in the ingest queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Capacity of the ingest queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Fraction of the ingest queue in use (0-1)",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Batches enqueued",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Batches dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Enqueue attempts rejected because the queue was full",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Configured ingest workers",
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active",
		Help:      "Ingest workers currently processing a batch",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Time a worker spends persisting one batch",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Batches a worker failed to persist",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_total",
		Help:      "Errors by component and error type",
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_bytes",
		Help:      "Heap memory in use",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutines",
		Help:      "Number of goroutines",
	})
}

// Engine metrics.

// RecordViolation counts a violation accepted by an aggregator.
func RecordViolation(violationType string) {
	globalManager.violationsRecorded.WithLabelValues(violationType).Inc()
}

// RecordViolationRejected counts a violation dropped for cause (invalid, duplicate, cooldown).
func RecordViolationRejected(cause string) {
	globalManager.violationsRejected.WithLabelValues(cause).Inc()
}

// RecordSessionTransition counts a session entering state to.
func RecordSessionTransition(to string) {
	globalManager.sessionTransitions.WithLabelValues(to).Inc()
}

// AddSessionsActive adjusts the active session gauge by delta.
func AddSessionsActive(delta int) {
	globalManager.sessionsActive.Add(float64(delta))
}

// RecordFaceAnalysisTick counts one analysis pass on tier.
func RecordFaceAnalysisTick(tier string) {
	globalManager.faceAnalysisTicks.WithLabelValues(tier).Inc()
}

// RecordFaceDetectorError counts a failed detector call.
func RecordFaceDetectorError() {
	globalManager.faceDetectorErrors.Inc()
}

// RecordCameraFailure counts a camera failure by reason.
func RecordCameraFailure(reason string) {
	globalManager.cameraFailures.WithLabelValues(reason).Inc()
}

// RecordSyncFlush counts a sync attempt of kind (violations, checkpoint) with outcome (ok, error, skipped).
func RecordSyncFlush(kind, outcome string) {
	globalManager.syncFlushes.WithLabelValues(kind, outcome).Inc()
}

// RecordSyncLatency records the latency of a sync call.
func RecordSyncLatency(kind string, latencyMs float64) {
	globalManager.syncFlushLatency.WithLabelValues(kind).Observe(latencyMs)
}

// UpdateSyncPending sets the number of unacknowledged violations.
func UpdateSyncPending(count int) {
	globalManager.syncPendingViolations.Set(float64(count))
}

// Ingest metrics.

// RecordViolationsIngested adds n persisted violations.
func RecordViolationsIngested(n int) {
	globalManager.violationsIngested.Add(float64(n))
}

// RecordViolationDuplicate increments the duplicate counter.
func RecordViolationDuplicate() {
	globalManager.violationsDuplicate.Inc()
}

// Repository metrics.

// RecordRepositoryWriteLatency records a write transaction latency.
func RecordRepositoryWriteLatency(latencyMs float64) {
	globalManager.repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records a query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue metrics.

// UpdateQueueSize sets the current queue depth.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the busy worker gauge by delta.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// HTTP metrics.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordError records an error with component and type labels.
func RecordError(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
