package metrics

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for dispatches, receivers and logs
type Metrics struct {
	// Outbound dispatches
	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	DispatchTimeouts   prometheus.Counter
	DispatchLatencyP95 prometheus.Gauge
	DispatchLatencyP99 prometheus.Gauge

	// Inbound receivers
	ReceiveTotal  *prometheus.CounterVec
	ReceiveErrors *prometheus.CounterVec
	ReceiveBytes  prometheus.Histogram

	// Dual logger
	DashboardEntries     prometheus.Gauge
	DetailedEntriesTotal *prometheus.CounterVec
	DetailedWriteErrors  prometheus.Counter

	// Event index
	IndexBatchesTotal prometheus.Counter
	IndexBatchSize    prometheus.Histogram
	IndexBatchTime    prometheus.Histogram
	IndexErrorsTotal  prometheus.Counter
	IndexDroppedTotal prometheus.Counter
	IndexQueueSize    prometheus.Gauge
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Get returns the singleton instance of the application metrics
func Get() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	return &Metrics{
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apiremote_dispatch_requests_total",
			Help: "Total number of outbound requests by method and outcome",
		}, []string{"method", "outcome"}),
		DispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apiremote_dispatch_duration_seconds",
			Help:    "Duration of outbound requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		}, []string{"method"}),
		DispatchTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apiremote_dispatch_timeouts_total",
			Help: "Total number of outbound requests that timed out",
		}),
		DispatchLatencyP95: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apiremote_dispatch_latency_p95_seconds",
			Help: "95th percentile outbound latency over recent samples",
		}),
		DispatchLatencyP99: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apiremote_dispatch_latency_p99_seconds",
			Help: "99th percentile outbound latency over recent samples",
		}),

		ReceiveTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apiremote_receive_requests_total",
			Help: "Total number of inbound requests by receiver path and method",
		}, []string{"path", "method"}),
		ReceiveErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apiremote_receive_errors_total",
			Help: "Total number of inbound requests that could not be processed",
		}, []string{"path"}),
		ReceiveBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiremote_receive_body_bytes",
			Help:    "Size of inbound request bodies",
			Buckets: prometheus.ExponentialBuckets(16, 4, 10), // 16B to ~4MB
		}),

		DashboardEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apiremote_dashboard_entries",
			Help: "Current number of entries in the dashboard log",
		}),
		DetailedEntriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apiremote_detailed_entries_total",
			Help: "Total number of detailed log entries by level",
		}, []string{"level"}),
		DetailedWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apiremote_detailed_write_errors_total",
			Help: "Total number of failed writes to the detailed log file",
		}),

		IndexBatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apiremote_index_batches_total",
			Help: "Total number of batches written to the event index",
		}),
		IndexBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiremote_index_batch_size",
			Help:    "Size of batches written to the event index",
			Buckets: prometheus.LinearBuckets(1, 10, 20), // 1 to 200
		}),
		IndexBatchTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiremote_index_batch_seconds",
			Help:    "Time taken to write a batch to the event index",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		IndexErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apiremote_index_errors_total",
			Help: "Total number of entries that failed to reach the event index",
		}),
		IndexDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apiremote_index_dropped_total",
			Help: "Total number of entries dropped because the index queue was full",
		}),
		IndexQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apiremote_index_queue_size",
			Help: "Current size of the event index queue",
		}),
	}
}

// RecordDispatch records an outbound call with its duration and outcome
func (m *Metrics) RecordDispatch(method string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if isTimeoutError(err) {
			m.DispatchTimeouts.Inc()
		}
	}
	m.DispatchTotal.WithLabelValues(method, outcome).Inc()
	m.DispatchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordReceive records an inbound request at a receiver path
func (m *Metrics) RecordReceive(path, method string, size int, err error) {
	m.ReceiveTotal.WithLabelValues(path, method).Inc()
	if err != nil {
		m.ReceiveErrors.WithLabelValues(path).Inc()
		return
	}
	m.ReceiveBytes.Observe(float64(size))
}

// RecordDetailed records a detailed log entry and whether writing it failed
func (m *Metrics) RecordDetailed(level string, err error) {
	m.DetailedEntriesTotal.WithLabelValues(level).Inc()
	if err != nil {
		m.DetailedWriteErrors.Inc()
	}
}

// UpdateDashboardSize updates the dashboard entry gauge
func (m *Metrics) UpdateDashboardSize(size int) {
	m.DashboardEntries.Set(float64(size))
}

// RecordIndexBatch records a batch written to the event index
func (m *Metrics) RecordIndexBatch(size int, duration time.Duration, err error) {
	m.IndexBatchesTotal.Inc()
	m.IndexBatchSize.Observe(float64(size))
	m.IndexBatchTime.Observe(duration.Seconds())
	if err != nil {
		m.IndexErrorsTotal.Add(float64(size))
	}
}

// RecordIndexDropped records an entry dropped before reaching the index
func (m *Metrics) RecordIndexDropped() {
	m.IndexDroppedTotal.Inc()
}

// UpdateIndexQueueSize updates the event index queue gauge
func (m *Metrics) UpdateIndexQueueSize(size int) {
	m.IndexQueueSize.Set(float64(size))
}

// UpdateLatencyPercentiles updates dispatch latency percentile gauges
func (m *Metrics) UpdateLatencyPercentiles(p95, p99 time.Duration) {
	m.DispatchLatencyP95.Set(p95.Seconds())
	m.DispatchLatencyP99.Set(p99.Seconds())
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
