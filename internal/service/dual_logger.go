package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"apiremote/internal/interfaces"
	"apiremote/internal/metrics"
	"apiremote/internal/types"
)

const (
	// DefaultBatchSize is the default number of entries indexed per transaction
	DefaultBatchSize = 50
	// DefaultBatchTimeout is the longest an entry waits before being indexed
	DefaultBatchTimeout = 100 * time.Millisecond
	// DefaultQueueSize is the default size of the index queue
	DefaultQueueSize = 10000

	dashboardTimeFormat = "15:04:05"
	detailedTimeFormat  = "2006-01-02 15:04:05"
	logFileTimeFormat   = "20060102_150405"
)

var (
	// ErrIndexDisabled is returned by Search when no event store is configured
	ErrIndexDisabled = errors.New("event index is disabled")
	// ErrLogClosed is reported when writing after Stop
	ErrLogClosed = errors.New("detailed log is closed")
)

// DualLogger owns the bounded dashboard log and the per-run detailed log
// file. Detailed entries are also mirrored into the event store by a
// background batch worker.
type DualLogger struct {
	dashboard *DashboardRing

	logPath   string
	logFile   io.WriteCloser
	fileMutex sync.Mutex

	store   interfaces.EventStore
	metrics *metrics.Metrics

	// Index batching
	batchSize    int
	batchTimeout time.Duration
	queueSize    int
	eventQueue   chan *types.DetailedEntry
	flushQueue   chan chan struct{}
	batchBuffer  []*types.DetailedEntry
	batchMutex   sync.Mutex
	batchTimer   *time.Timer

	// Service lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	runningMux sync.RWMutex

	// Statistics
	stats      interfaces.LoggerStats
	statsMutex sync.RWMutex

	now func() time.Time
}

// NewDualLogger creates the log directory if needed and opens this run's
// detailed log file. store may be nil to disable the event index.
func NewDualLogger(logDir string, dashboardSize int, store interfaces.EventStore) (*DualLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	now := time.Now
	logPath := filepath.Join(logDir, "api_remote_"+now().Format(logFileTimeFormat)+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open detailed log: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DualLogger{
		dashboard:    NewDashboardRing(dashboardSize),
		logPath:      logPath,
		logFile:      logFile,
		store:        store,
		metrics:      metrics.Get(),
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		queueSize:    DefaultQueueSize,
		ctx:          ctx,
		cancel:       cancel,
		now:          now,
	}, nil
}

// SetBatchSize configures the index batch size. Call before Start.
func (l *DualLogger) SetBatchSize(size int) {
	if size > 0 {
		l.batchSize = size
	}
}

// SetBatchTimeout configures the index batch timeout. Call before Start.
func (l *DualLogger) SetBatchTimeout(timeout time.Duration) {
	if timeout > 0 {
		l.batchTimeout = timeout
	}
}

// SetQueueSize configures the index queue size. Call before Start.
func (l *DualLogger) SetQueueSize(size int) {
	if size > 0 {
		l.queueSize = size
	}
}

// Start starts the index worker
func (l *DualLogger) Start() error {
	l.runningMux.Lock()
	defer l.runningMux.Unlock()

	if l.isRunning {
		return fmt.Errorf("dual logger is already running")
	}
	if l.ctx.Err() != nil {
		return fmt.Errorf("dual logger has been stopped")
	}

	if l.store != nil {
		l.eventQueue = make(chan *types.DetailedEntry, l.queueSize)
		l.flushQueue = make(chan chan struct{})
		l.batchBuffer = make([]*types.DetailedEntry, 0, l.batchSize)
		l.wg.Add(1)
		go l.batchProcessor()
	}

	l.isRunning = true
	l.updateStats(func(stats *interfaces.LoggerStats) {
		stats.IsRunning = true
	})

	return nil
}

// Stop indexes whatever is still pending and closes the detailed log file
func (l *DualLogger) Stop() error {
	l.runningMux.Lock()
	wasRunning := l.isRunning
	l.isRunning = false
	l.runningMux.Unlock()

	l.cancel()
	if wasRunning {
		l.wg.Wait()
		l.Flush()
	}

	l.updateStats(func(stats *interfaces.LoggerStats) {
		stats.IsRunning = false
	})

	l.fileMutex.Lock()
	defer l.fileMutex.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// LogDashboard timestamps message and appends it to the dashboard ring
func (l *DualLogger) LogDashboard(message string) {
	entry := types.DashboardEntry{
		Timestamp: l.now().Format(dashboardTimeFormat),
		Message:   message,
	}
	size := l.dashboard.Append(entry)
	l.metrics.UpdateDashboardSize(size)
}

// LogDetailed appends an entry to the detailed log file and queues it for
// indexing. Write failures are reported on the process log, never to the caller.
func (l *DualLogger) LogDetailed(level types.Level, message string, data interface{}) {
	parsed, ok := types.ParseLevel(string(level))
	if !ok {
		parsed = types.LevelInfo
	}

	entry := &types.DetailedEntry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Level:     parsed,
		Message:   message,
		Data:      data,
	}

	err := l.writeLine(formatDetailedLine(entry))
	if err != nil {
		log.Printf("Error writing detailed log: %v", err)
	}

	l.updateStats(func(stats *interfaces.LoggerStats) {
		stats.DetailedEntries++
		if err != nil {
			stats.DetailedErrors++
		}
	})
	l.metrics.RecordDetailed(string(parsed), err)

	l.enqueue(entry)
}

// Dashboard returns the rendered dashboard lines, oldest first
func (l *DualLogger) Dashboard() []string {
	entries := l.dashboard.Entries()
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = entry.String()
	}
	return lines
}

// DetailedLogPath returns the file this run's detailed log is written to
func (l *DualLogger) DetailedLogPath() string {
	return l.logPath
}

// Search flushes pending entries and queries the event index
func (l *DualLogger) Search(query types.EventQuery) ([]*types.DetailedEntry, error) {
	if l.store == nil {
		return nil, ErrIndexDisabled
	}
	l.Flush()
	return l.store.Search(query)
}

// Flush indexes every queued entry immediately. While the worker runs the
// request is handed to it so entries it already dequeued are included.
func (l *DualLogger) Flush() {
	if l.store == nil || l.eventQueue == nil {
		return
	}

	if l.ctx.Err() == nil {
		done := make(chan struct{})
		select {
		case l.flushQueue <- done:
			<-done
			return
		case <-l.ctx.Done():
		}
	}

	l.batchMutex.Lock()
	l.drainQueue()
	l.batchMutex.Unlock()
}

// drainQueue moves queued entries into the buffer and writes them. Caller
// holds batchMutex.
func (l *DualLogger) drainQueue() {
	for {
		select {
		case entry := <-l.eventQueue:
			l.batchBuffer = append(l.batchBuffer, entry)
		default:
			l.processBatch()
			return
		}
	}
}

// GetStats returns logger statistics
func (l *DualLogger) GetStats() interfaces.LoggerStats {
	l.statsMutex.RLock()
	stats := l.stats
	l.statsMutex.RUnlock()

	stats.DashboardEntries = l.dashboard.Len()
	stats.DashboardTotal = l.dashboard.Total()
	if l.eventQueue != nil {
		stats.QueueSize = len(l.eventQueue)
	}

	return stats
}

func (l *DualLogger) writeLine(line string) error {
	l.fileMutex.Lock()
	defer l.fileMutex.Unlock()

	if l.logFile == nil {
		return ErrLogClosed
	}
	_, err := io.WriteString(l.logFile, line)
	return err
}

// enqueue hands an entry to the index worker without blocking
func (l *DualLogger) enqueue(entry *types.DetailedEntry) {
	if l.store == nil {
		return
	}

	l.runningMux.RLock()
	defer l.runningMux.RUnlock()

	if !l.isRunning {
		return
	}

	select {
	case l.eventQueue <- entry:
		l.metrics.UpdateIndexQueueSize(len(l.eventQueue))
	default:
		l.updateStats(func(stats *interfaces.LoggerStats) {
			stats.DroppedEntries++
		})
		l.metrics.RecordIndexDropped()
		log.Printf("Event index queue is full, dropping entry %s", entry.ID)
	}
}

// batchProcessor runs in a separate goroutine to index entries in batches
func (l *DualLogger) batchProcessor() {
	defer l.wg.Done()

	l.batchTimer = time.NewTimer(l.batchTimeout)
	defer l.batchTimer.Stop()

	for {
		select {
		case entry := <-l.eventQueue:
			l.batchMutex.Lock()
			l.batchBuffer = append(l.batchBuffer, entry)
			if len(l.batchBuffer) >= l.batchSize {
				l.processBatch()
				l.resetBatchTimer()
			}
			l.batchMutex.Unlock()

		case done := <-l.flushQueue:
			l.batchMutex.Lock()
			l.drainQueue()
			l.resetBatchTimer()
			l.batchMutex.Unlock()
			close(done)

		case <-l.batchTimer.C:
			l.batchMutex.Lock()
			if len(l.batchBuffer) > 0 {
				l.processBatch()
			}
			l.batchTimer.Reset(l.batchTimeout)
			l.batchMutex.Unlock()

		case <-l.ctx.Done():
			return
		}
	}
}

// processBatch writes the buffered entries. Caller holds batchMutex.
func (l *DualLogger) processBatch() {
	if len(l.batchBuffer) == 0 {
		return
	}

	batch := make([]*types.DetailedEntry, len(l.batchBuffer))
	copy(batch, l.batchBuffer)
	l.batchBuffer = l.batchBuffer[:0]

	start := time.Now()
	err := l.store.StoreBatch(batch)
	l.metrics.RecordIndexBatch(len(batch), time.Since(start), err)
	l.metrics.UpdateIndexQueueSize(len(l.eventQueue))

	if err != nil {
		log.Printf("Error indexing %d events: %v", len(batch), err)
	}
	l.updateStats(func(stats *interfaces.LoggerStats) {
		if err != nil {
			stats.IndexErrors += int64(len(batch))
		} else {
			stats.IndexedEntries += int64(len(batch))
		}
	})
}

// resetBatchTimer resets the batch processing timer
func (l *DualLogger) resetBatchTimer() {
	if !l.batchTimer.Stop() {
		select {
		case <-l.batchTimer.C:
		default:
		}
	}
	l.batchTimer.Reset(l.batchTimeout)
}

// updateStats safely updates the logger statistics
func (l *DualLogger) updateStats(updateFunc func(*interfaces.LoggerStats)) {
	l.statsMutex.Lock()
	defer l.statsMutex.Unlock()
	updateFunc(&l.stats)
}

// formatDetailedLine renders "2006-01-02 15:04:05,000 - LEVEL - message",
// followed by " | Data: " and indented JSON when the entry carries data.
func formatDetailedLine(entry *types.DetailedEntry) string {
	var b strings.Builder

	b.WriteString(entry.Timestamp.Format(detailedTimeFormat))
	fmt.Fprintf(&b, ",%03d - %s - %s", entry.Timestamp.Nanosecond()/int(time.Millisecond), entry.Level.Label(), entry.Message)

	if entry.Data != nil {
		b.WriteString(" | Data: ")
		b.WriteString(prettyJSON(entry.Data))
	}
	b.WriteByte('\n')

	return b.String()
}

func prettyJSON(data interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Sprintf("%v", data)
	}
	return strings.TrimRight(buf.String(), "\n")
}
