package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of recent dispatch latencies
type LatencyTracker struct {
	metrics    *Metrics
	samples    []time.Duration
	maxSamples int

	mutex sync.RWMutex
}

// NewLatencyTracker creates a tracker that keeps the last maxSamples values
func NewLatencyTracker(metrics *Metrics, maxSamples int) *LatencyTracker {
	if maxSamples < 1 {
		maxSamples = 1000
	}
	return &LatencyTracker{
		metrics:    metrics,
		samples:    make([]time.Duration, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// Record adds a latency sample and refreshes the percentile gauges
func (lt *LatencyTracker) Record(latency time.Duration) {
	lt.mutex.Lock()
	lt.samples = append(lt.samples, latency)
	if len(lt.samples) > lt.maxSamples {
		lt.samples = lt.samples[1:]
	}
	p95, p99 := percentiles(lt.samples)
	lt.mutex.Unlock()

	if lt.metrics != nil {
		lt.metrics.UpdateLatencyPercentiles(p95, p99)
	}
}

// Percentiles returns the 95th and 99th percentile of the current window
func (lt *LatencyTracker) Percentiles() (time.Duration, time.Duration) {
	lt.mutex.RLock()
	defer lt.mutex.RUnlock()
	return percentiles(lt.samples)
}

// GetCurrentStats returns the window summary for the health endpoint
func (lt *LatencyTracker) GetCurrentStats() map[string]interface{} {
	lt.mutex.RLock()
	defer lt.mutex.RUnlock()

	stats := map[string]interface{}{
		"samples": len(lt.samples),
	}
	if len(lt.samples) > 0 {
		p95, p99 := percentiles(lt.samples)
		stats["latency_p95_ms"] = float64(p95.Nanoseconds()) / 1e6
		stats["latency_p99_ms"] = float64(p99.Nanoseconds()) / 1e6
	}
	return stats
}

func percentiles(latencies []time.Duration) (time.Duration, time.Duration) {
	if len(latencies) == 0 {
		return 0, 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p95Index := int(float64(len(sorted)) * 0.95)
	p99Index := int(float64(len(sorted)) * 0.99)

	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}
	if p99Index >= len(sorted) {
		p99Index = len(sorted) - 1
	}

	return sorted[p95Index], sorted[p99Index]
}
