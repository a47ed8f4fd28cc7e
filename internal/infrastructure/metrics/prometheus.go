package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheHitRate       prometheus.Gauge
	cacheKeys          prometheus.Gauge
	cacheMemoryBytes   prometheus.Gauge
	cacheEvictions     prometheus.Counter
	operations         *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationErrors    *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	sequenceRetries    prometheus.Counter
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "puroteusu_registry_cache_hits_total",
			Help: "Total number of registry cache hits",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "puroteusu_registry_cache_misses_total",
			Help: "Total number of registry cache misses",
		}),
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "puroteusu_registry_cache_hit_rate",
			Help: "Current registry cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "puroteusu_registry_cache_keys_current",
			Help: "Current number of keys in the registry cache",
		}),
		cacheMemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "puroteusu_registry_cache_memory_bytes",
			Help: "Current memory usage of the registry cache in bytes",
		}),
		cacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "puroteusu_registry_cache_evictions_total",
			Help: "Total number of registry cache evictions due to memory limits",
		}),
		operations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "puroteusu_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "puroteusu_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		operationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "puroteusu_operation_errors_total",
				Help: "Total number of failed engine operations",
			},
			[]string{"operation"},
		),
		validationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "puroteusu_validation_failures_total",
				Help: "Total number of validation failures by kind",
			},
			[]string{"kind"},
		),
		sequenceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "puroteusu_sequence_retries_total",
			Help: "Total number of retried sequence allocations",
		}),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated at the call sites, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordOperation records an operation in Prometheus.
func (e *PrometheusExporter) RecordOperation(operation string) {
	e.operations.WithLabelValues(operation).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(operation string, durationSeconds float64) {
	e.operationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(operation string) {
	e.operationErrors.WithLabelValues(operation).Inc()
}

// RecordValidationFailure records a validation failure by kind.
func (e *PrometheusExporter) RecordValidationFailure(kind string) {
	e.validationFailures.WithLabelValues(kind).Inc()
}

// RecordSequenceRetry records a retried sequence allocation.
func (e *PrometheusExporter) RecordSequenceRetry() {
	e.sequenceRetries.Inc()
}

// RecordCacheHit records a registry cache hit.
func (e *PrometheusExporter) RecordCacheHit() {
	e.cacheHits.Inc()
}

// RecordCacheMiss records a registry cache miss.
func (e *PrometheusExporter) RecordCacheMiss() {
	e.cacheMisses.Inc()
}

// RecordCacheEviction records a registry cache eviction.
func (e *PrometheusExporter) RecordCacheEviction() {
	e.cacheEvictions.Inc()
}
