package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/puroteusu/pkg/cache"
	"github.com/asakaida/puroteusu/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the engine.
type Collector struct {
	// Operation metrics
	operations        sync.Map // map[string]*uint64 - operation -> count
	operationErrors   sync.Map // map[string]*uint64 - operation -> error count
	operationDuration sync.Map // map[string]*durationValue - operation -> total duration in seconds

	// Validation failures keyed by failure kind (type_mismatch, required_missing, ...)
	validationFailures sync.Map // map[string]*uint64

	// Sequence allocation retries due to serialization conflicts
	sequenceRetries uint64

	// Registry cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds registry cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// OperationMetrics holds engine operation metrics.
type OperationMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
	ValidationFailures   map[string]uint64
	SequenceRetries      uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the registry cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordOperation records an engine operation (e.g. "entity.create").
func (c *Collector) RecordOperation(operation string) {
	counter := c.getOrCreateCounter(&c.operations, operation)
	atomic.AddUint64(counter, 1)
}

// RecordError records a failed engine operation.
func (c *Collector) RecordError(operation string) {
	counter := c.getOrCreateCounter(&c.operationErrors, operation)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an operation in seconds.
func (c *Collector) RecordDuration(operation string, durationSeconds float64) {
	val, _ := c.operationDuration.LoadOrStore(operation, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordValidationFailure records a validation failure by kind.
func (c *Collector) RecordValidationFailure(kind string) {
	counter := c.getOrCreateCounter(&c.validationFailures, kind)
	atomic.AddUint64(counter, 1)
}

// RecordSequenceRetry records a retried sequence allocation.
func (c *Collector) RecordSequenceRetry() {
	atomic.AddUint64(&c.sequenceRetries, 1)
}

// GetCacheMetrics returns current registry cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	// Get current keys and memory if available
	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetOperationMetrics returns current operation metrics.
func (c *Collector) GetOperationMetrics() *OperationMetrics {
	result := &OperationMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
		ValidationFailures:   make(map[string]uint64),
		SequenceRetries:      atomic.LoadUint64(&c.sequenceRetries),
	}

	c.operations.Range(func(key, value interface{}) bool {
		operation := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.RequestCounts[operation] = count
		return true
	})

	c.operationErrors.Range(func(key, value interface{}) bool {
		operation := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.ErrorCounts[operation] = count
		return true
	})

	c.operationDuration.Range(func(key, value interface{}) bool {
		operation := key.(string)
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[operation] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	c.validationFailures.Range(func(key, value interface{}) bool {
		kind := key.(string)
		count := atomic.LoadUint64(value.(*uint64))
		result.ValidationFailures[kind] = count
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
