package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryMetricsClient accumulates metrics in process memory. It backs the
// stats endpoint and gives tests something to assert against without an
// external metrics pipeline.
type InMemoryMetricsClient struct {
	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
}

// NewMetricsClient creates the default in-memory metrics client
func NewMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(labels[k])
	}
	sb.WriteString("}")
	return sb.String()
}

// RecordCounter adds value to the named counter
func (m *InMemoryMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, labels)] += value
}

// RecordGauge sets the named gauge
func (m *InMemoryMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, labels)] = value
}

// RecordHistogram records a histogram observation. The in-memory client
// keeps only a running sum and count.
func (m *InMemoryMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name+"_sum", labels)] += value
	m.counters[metricKey(name+"_count", labels)]++
}

// RecordTimer records a duration as a histogram in seconds
func (m *InMemoryMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	m.RecordHistogram(name, duration.Seconds(), labels)
}

// RecordCacheOperation records cache operation metrics
func (m *InMemoryMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
	labels := map[string]string{
		"operation": operation,
		"success":   fmt.Sprintf("%t", success),
	}
	m.RecordCounter("cache_operations_total", 1, labels)
	m.RecordHistogram("cache_operation_duration_seconds", durationSeconds, labels)
}

// IncrementCounter increments a counter without labels
func (m *InMemoryMetricsClient) IncrementCounter(name string, value float64) {
	m.RecordCounter(name, value, nil)
}

// IncrementCounterWithLabels increments a counter with labels
func (m *InMemoryMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.RecordCounter(name, value, labels)
}

// Snapshot returns a copy of all counters and gauges
func (m *InMemoryMetricsClient) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.counters)+len(m.gauges))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}

// Counter returns the current value of a counter
func (m *InMemoryMetricsClient) Counter(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, labels)]
}

// Close releases client resources
func (m *InMemoryMetricsClient) Close() error {
	return nil
}
