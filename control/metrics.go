// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for bridge and transport monitoring.
// Exposes counters and gauges in a thread-safe map with dynamic registration.

package control

import (
	"sort"
	"sync"
	"time"
)

// MetricsRegistry holds counters (int64, updated with Add) and arbitrary
// gauges (set with Set).
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments an int64 counter, creating it at zero. A key previously
// Set to a non-counter value is overwritten.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	mr.mu.Lock()
	cur, _ := mr.metrics[key].(int64)
	mr.metrics[key] = cur + delta
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Counter returns an int64 metric, zero when absent.
func (mr *MetricsRegistry) Counter(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	v, _ := mr.metrics[key].(int64)
	return v
}

// SetCounters publishes a batch of int64 values under prefix+key.
func (mr *MetricsRegistry) SetCounters(prefix string, values map[string]int64) {
	mr.mu.Lock()
	for k, v := range values {
		mr.metrics[prefix+k] = v
	}
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Keys lists registered metric names in sorted order.
func (mr *MetricsRegistry) Keys() []string {
	mr.mu.RLock()
	keys := make([]string, 0, len(mr.metrics))
	for k := range mr.metrics {
		keys = append(keys, k)
	}
	mr.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// LastUpdated reports when any metric last changed.
func (mr *MetricsRegistry) LastUpdated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
