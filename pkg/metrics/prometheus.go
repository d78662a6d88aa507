// Package metrics provides Prometheus metrics for the airwatch analysis engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the analysis engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Core Analysis Metrics - one analysis = one public engine operation
	analysesTotal    *prometheus.CounterVec
	analysesFailed   *prometheus.CounterVec
	analysisLatency  *prometheus.HistogramVec
	insufficientData *prometheus.CounterVec
	stationsAnalyzed prometheus.Gauge

	// Risk Scoring Metrics
	riskScoresComputed prometheus.Counter
	unknownParameters  prometheus.Counter

	// Measurement Store Metrics
	storeQueryLatency    prometheus.Histogram
	storeFetchFailures   prometheus.Counter
	resultRowsAppended   prometheus.Counter
	resultAppendFailures prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "airwatch",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.analysesTotal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "analyses_total",
			Help:      "Total number of analysis operations by type",
		},
		[]string{"operation"},
	)

	m.analysesFailed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "analyses_failed_total",
			Help:      "Total number of failed analysis operations by type",
		},
		[]string{"operation"},
	)

	m.analysisLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "analysis_latency_milliseconds",
			Help:      "Histogram of end-to-end analysis latency in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"operation"},
	)

	m.insufficientData = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "insufficient_data_total",
			Help:      "Total number of analyses skipped for lack of stations or measurements",
		},
		[]string{"operation"},
	)

	m.stationsAnalyzed = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stations_analyzed",
		Help:      "Number of stations included in the most recent analysis",
	})

	m.riskScoresComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "risk_scores_computed_total",
		Help:      "Total number of composite risk scores computed",
	})

	m.unknownParameters = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unknown_parameters_total",
		Help:      "Total number of measurements whose parameter has no pollutant profile",
	})

	m.storeQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_query_latency_milliseconds",
		Help:      "Histogram of measurement store query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeFetchFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_fetch_failures_total",
		Help:      "Total number of measurement store fetch failures",
	})

	m.resultRowsAppended = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "result_rows_appended_total",
		Help:      "Total number of derived result rows appended to the results store",
	})

	m.resultAppendFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "result_append_failures_total",
		Help:      "Total number of failed (and skipped) result store writes",
	})
}

// Analysis Metrics Functions.

// RecordAnalysis increments the analysis counter for an operation.
func RecordAnalysis(operation string) {
	globalManager.analysesTotal.WithLabelValues(operation).Inc()
}

// RecordAnalysisFailure increments the failed analysis counter for an operation.
func RecordAnalysisFailure(operation string) {
	globalManager.analysesFailed.WithLabelValues(operation).Inc()
}

// RecordAnalysisLatency records end-to-end analysis latency.
func RecordAnalysisLatency(operation string, latencyMs float64) {
	globalManager.analysisLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordInsufficientData increments the insufficient-data counter for an operation.
func RecordInsufficientData(operation string) {
	globalManager.insufficientData.WithLabelValues(operation).Inc()
}

// UpdateStationsAnalyzed sets the station count of the most recent analysis.
func UpdateStationsAnalyzed(count int) {
	globalManager.stationsAnalyzed.Set(float64(count))
}

// Risk Scoring Metrics Functions.

// RecordRiskScoreComputed increments the composite risk score counter.
func RecordRiskScoreComputed() {
	globalManager.riskScoresComputed.Inc()
}

// RecordUnknownParameter increments the unknown parameter counter.
func RecordUnknownParameter() {
	globalManager.unknownParameters.Inc()
}

// Store Metrics Functions.

// RecordStoreQueryLatency records measurement store query latency.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// RecordStoreFetchFailure increments the fetch failure counter.
func RecordStoreFetchFailure() {
	globalManager.storeFetchFailures.Inc()
}

// RecordResultRowsAppended adds to the appended result row counter.
func RecordResultRowsAppended(n int) {
	globalManager.resultRowsAppended.Add(float64(n))
}

// RecordResultAppendFailure increments the skipped result write counter.
func RecordResultAppendFailure() {
	globalManager.resultAppendFailures.Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
