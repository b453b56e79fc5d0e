// Package metrics provides Prometheus metrics for the worldwatch ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Latency buckets in milliseconds: 10ms .. ~20s.
var defaultLatencyBuckets = prometheus.ExponentialBuckets(10, 2, 12) //nolint:gochecknoglobals // immutable bucket layout

// Manager owns every Prometheus collector used by worldwatch.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Fetch metrics
	pagesFetched  *prometheus.CounterVec
	worldsFetched *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	fetchRetries  prometheus.Counter

	// Aggregation
	duplicatesDropped prometheus.Counter

	// History metrics
	historyAppends   prometheus.Counter
	historyThrottled prometheus.Counter
	historyWorlds    prometheus.Gauge

	// Persistence
	persistenceUnavailable *prometheus.CounterVec
	storeSaveLatency       *prometheus.HistogramVec

	// Daily stats
	dailyTotalWorlds *prometheus.GaugeVec
	dailyNewWorlds   *prometheus.GaugeVec

	// Runs and uploads
	lastRunUnix prometheus.Gauge
	uploads     *prometheus.CounterVec

	// HTTP API
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
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
		namespace:        "worldwatch",
		subsystem:        "ingest",
		histogramBuckets: defaultLatencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.pagesFetched = m.counterVec("pages_fetched_total", "Pages requested from the remote API by fetch strategy", "strategy")
	m.worldsFetched = m.counterVec("worlds_fetched_total", "World snapshots produced by fetch strategy", "strategy")
	m.fetchLatency = m.histogramVec("fetch_latency_milliseconds", "Latency of individual remote requests in milliseconds", "strategy")
	m.fetchErrors = m.counterVec("fetch_errors_total", "Failed remote requests by strategy and error kind", "strategy", "kind")
	m.fetchRetries = m.counter("fetch_retries_total", "Whole-fetch retries issued by the orchestration layer")

	m.duplicatesDropped = m.counter("duplicates_dropped_total", "Snapshots dropped by first-wins id deduplication")

	m.historyAppends = m.counter("history_appends_total", "History records appended")
	m.historyThrottled = m.counter("history_throttled_total", "History appends skipped by the throttle window")
	m.historyWorlds = m.gauge("history_worlds", "Distinct worlds tracked by the history store")

	m.persistenceUnavailable = m.counterVec("persistence_unavailable_total", "Operations degraded to no-ops because the durable store failed", "component")
	m.storeSaveLatency = m.histogramVec("store_save_latency_milliseconds", "Tabular store save latency in milliseconds", "table")

	m.dailyTotalWorlds = m.gaugeVec("daily_total_worlds", "Worlds seen in the latest daily stats run per source", "source")
	m.dailyNewWorlds = m.gaugeVec("daily_new_worlds", "Worlds published today per source", "source")

	m.lastRunUnix = m.gauge("last_run_unix_seconds", "Unix time of the last completed crawl run")
	m.uploads = m.counterVec("uploads_total", "Snapshot uploads by outcome", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
}

// Fetch Metrics Functions.

// RecordPageFetched counts one page request for strategy.
func RecordPageFetched(strategy string) {
	globalManager.pagesFetched.WithLabelValues(strategy).Inc()
}

// RecordWorldsFetched adds n produced snapshots for strategy.
func RecordWorldsFetched(strategy string, n int) {
	globalManager.worldsFetched.WithLabelValues(strategy).Add(float64(n))
}

// RecordFetchLatency observes the duration of one remote request.
func RecordFetchLatency(strategy string, d time.Duration) {
	globalManager.fetchLatency.WithLabelValues(strategy).Observe(float64(d.Milliseconds()))
}

// RecordFetchError counts a failed remote request.
func RecordFetchError(strategy, kind string) {
	globalManager.fetchErrors.WithLabelValues(strategy, kind).Inc()
}

// RecordFetchRetry counts a retried fetch.
func RecordFetchRetry() {
	globalManager.fetchRetries.Inc()
}

// RecordDuplicatesDropped adds n deduplicated snapshots.
func RecordDuplicatesDropped(n int) {
	globalManager.duplicatesDropped.Add(float64(n))
}

// History Metrics Functions.

// RecordHistoryAppends adds n appended history records.
func RecordHistoryAppends(n int) {
	globalManager.historyAppends.Add(float64(n))
}

// RecordHistoryThrottled adds n throttled history appends.
func RecordHistoryThrottled(n int) {
	globalManager.historyThrottled.Add(float64(n))
}

// UpdateHistoryWorlds sets the number of tracked worlds.
func UpdateHistoryWorlds(n int) {
	globalManager.historyWorlds.Set(float64(n))
}

// Persistence Metrics Functions.

// RecordPersistenceUnavailable counts a degraded persistence operation.
func RecordPersistenceUnavailable(component string) {
	globalManager.persistenceUnavailable.WithLabelValues(component).Inc()
}

// RecordStoreSave observes the duration of one table save.
func RecordStoreSave(table string, d time.Duration) {
	globalManager.storeSaveLatency.WithLabelValues(table).Observe(float64(d.Milliseconds()))
}

// UpdateDailyStats publishes the latest daily rollup for source.
func UpdateDailyStats(source string, total, newToday int) {
	globalManager.dailyTotalWorlds.WithLabelValues(source).Set(float64(total))
	globalManager.dailyNewWorlds.WithLabelValues(source).Set(float64(newToday))
}

// Run Metrics Functions.

// UpdateLastRun stamps the completion time of a crawl run.
func UpdateLastRun(t time.Time) {
	globalManager.lastRunUnix.Set(float64(t.Unix()))
}

// RecordUpload counts an upload attempt by outcome ("ok" or "error").
func RecordUpload(outcome string) {
	globalManager.uploads.WithLabelValues(outcome).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter with labels.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration with labels.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
