package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"apiremote/internal/storage"
	"apiremote/internal/types"
)

// MockStore implements the EventStore interface for testing
type MockStore struct {
	storeBatchFunc func([]*types.DetailedEntry) error

	entries []*types.DetailedEntry
	batches int
	mutex   sync.Mutex
}

func (m *MockStore) Store(entry *types.DetailedEntry) error {
	return m.StoreBatch([]*types.DetailedEntry{entry})
}

func (m *MockStore) StoreBatch(entries []*types.DetailedEntry) error {
	if m.storeBatchFunc != nil {
		if err := m.storeBatchFunc(entries); err != nil {
			return err
		}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = append(m.entries, entries...)
	m.batches++
	return nil
}

func (m *MockStore) Search(query types.EventQuery) ([]*types.DetailedEntry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]*types.DetailedEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MockStore) Count() (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return int64(len(m.entries)), nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.entries)
}

func newTestLogger(t *testing.T, store *MockStore) *DualLogger {
	t.Helper()
	var logger *DualLogger
	var err error
	if store != nil {
		logger, err = NewDualLogger(t.TempDir(), 100, store)
	} else {
		logger, err = NewDualLogger(t.TempDir(), 100, nil)
	}
	if err != nil {
		t.Fatalf("Failed to create dual logger: %v", err)
	}
	t.Cleanup(func() { logger.Stop() })
	return logger
}

func readDetailedLog(t *testing.T, logger *DualLogger) string {
	t.Helper()
	data, err := os.ReadFile(logger.DetailedLogPath())
	if err != nil {
		t.Fatalf("Failed to read detailed log: %v", err)
	}
	return string(data)
}

func TestNewDualLogger_CreatesDirectoryAndFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := NewDualLogger(logDir, 100, nil)
	if err != nil {
		t.Fatalf("Failed to create dual logger: %v", err)
	}
	defer logger.Stop()

	name := filepath.Base(logger.DetailedLogPath())
	if !regexp.MustCompile(`^api_remote_\d{8}_\d{6}\.log$`).MatchString(name) {
		t.Errorf("Unexpected log file name %s", name)
	}
	if _, err := os.Stat(logger.DetailedLogPath()); err != nil {
		t.Errorf("Expected log file to exist: %v", err)
	}
}

func TestDualLogger_LogDashboardFormat(t *testing.T) {
	logger := newTestLogger(t, nil)
	logger.now = func() time.Time { return time.Date(2024, 1, 1, 9, 5, 7, 0, time.Local) }

	logger.LogDashboard("SENT GET to http://example.com - Status: 200")

	lines := logger.Dashboard()
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0] != "[09:05:07] SENT GET to http://example.com - Status: 200" {
		t.Errorf("Unexpected dashboard line: %q", lines[0])
	}
}

func TestDualLogger_DashboardBoundedAndOrdered(t *testing.T) {
	logger := newTestLogger(t, nil)

	for i := 1; i <= 150; i++ {
		logger.LogDashboard(fmt.Sprintf("event %d", i))
	}

	lines := logger.Dashboard()
	if len(lines) != 100 {
		t.Fatalf("Expected 100 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "event 51") || !strings.HasSuffix(lines[99], "event 150") {
		t.Errorf("Unexpected window: first %q last %q", lines[0], lines[99])
	}
}

func TestDualLogger_EmptyDashboardIsNotNil(t *testing.T) {
	logger := newTestLogger(t, nil)
	if lines := logger.Dashboard(); lines == nil || len(lines) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", lines)
	}
}

func TestDualLogger_LogDetailedFormat(t *testing.T) {
	logger := newTestLogger(t, nil)
	logger.now = func() time.Time { return time.Date(2024, 3, 2, 14, 30, 15, 42*int(time.Millisecond), time.Local) }

	logger.LogDetailed(types.LevelInfo, "Application started on port 6001", nil)
	logger.LogDetailed(types.LevelWarning, "Received GET request at /hook", map[string]interface{}{
		"endpoint": "/hook",
		"body":     "<b>",
	})

	content := readDetailedLog(t, logger)

	if !strings.HasPrefix(content, "2024-03-02 14:30:15,042 - INFO - Application started on port 6001\n") {
		t.Errorf("Unexpected first line: %q", content)
	}
	wantSecond := "2024-03-02 14:30:15,042 - WARNING - Received GET request at /hook | Data: {\n  \"body\": \"<b>\",\n  \"endpoint\": \"/hook\"\n}\n"
	if !strings.HasSuffix(content, wantSecond) {
		t.Errorf("Unexpected second entry:\n%s", content)
	}
}

func TestDualLogger_UnknownLevelIsInfo(t *testing.T) {
	logger := newTestLogger(t, nil)

	logger.LogDetailed(types.Level("debug"), "odd level", nil)

	if !strings.Contains(readDetailedLog(t, logger), " - INFO - odd level") {
		t.Error("Expected unknown level to be written as INFO")
	}
}

func TestDualLogger_UnencodableDataStillLogs(t *testing.T) {
	logger := newTestLogger(t, nil)

	logger.LogDetailed(types.LevelError, "channel payload", map[string]interface{}{"ch": make(chan int)})

	content := readDetailedLog(t, logger)
	if !strings.Contains(content, "ERROR - channel payload | Data: map[ch:") {
		t.Errorf("Expected fallback rendering, got %q", content)
	}
}

func TestDualLogger_AppendsAfterStopAreCounted(t *testing.T) {
	logger := newTestLogger(t, nil)

	if err := logger.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	logger.LogDetailed(types.LevelInfo, "late", nil)

	stats := logger.GetStats()
	if stats.DetailedErrors != 1 {
		t.Errorf("Expected 1 detailed error, got %d", stats.DetailedErrors)
	}
	if strings.Contains(readDetailedLog(t, logger), "late") {
		t.Error("Did not expect writes after Stop")
	}
}

func TestDualLogger_ConcurrentDetailedWrites(t *testing.T) {
	logger := newTestLogger(t, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				logger.LogDetailed(types.LevelInfo, fmt.Sprintf("writer %d line %d", g, i), nil)
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(readDetailedLog(t, logger)), "\n")
	if len(lines) != 200 {
		t.Fatalf("Expected 200 lines, got %d", len(lines))
	}
	linePattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} - INFO - writer \d line \d+$`)
	for _, line := range lines {
		if !linePattern.MatchString(line) {
			t.Errorf("Corrupted line: %q", line)
		}
	}
}

func TestDualLogger_IndexesDetailedEntries(t *testing.T) {
	store := &MockStore{}
	logger := newTestLogger(t, store)
	logger.SetBatchSize(10)
	logger.SetBatchTimeout(20 * time.Millisecond)

	if err := logger.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := logger.Start(); err == nil {
		t.Error("Expected error starting twice")
	}

	for i := 0; i < 25; i++ {
		logger.LogDetailed(types.LevelInfo, fmt.Sprintf("event %d", i), nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 25 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.count() != 25 {
		t.Fatalf("Expected 25 indexed entries, got %d", store.count())
	}

	stats := logger.GetStats()
	if stats.IndexedEntries != 25 || stats.DetailedEntries != 25 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if store.entries[0].ID == "" || store.entries[0].ID == store.entries[1].ID {
		t.Error("Expected unique entry IDs")
	}
}

func TestDualLogger_StopFlushesPendingEntries(t *testing.T) {
	store := &MockStore{}
	logger := newTestLogger(t, store)
	logger.SetBatchSize(1000)
	logger.SetBatchTimeout(time.Hour)

	if err := logger.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		logger.LogDetailed(types.LevelInfo, "pending", nil)
	}

	if err := logger.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if store.count() != 5 {
		t.Errorf("Expected 5 entries flushed on stop, got %d", store.count())
	}
}

func TestDualLogger_QueueOverflowDropsEntries(t *testing.T) {
	release := make(chan struct{})
	store := &MockStore{storeBatchFunc: func([]*types.DetailedEntry) error {
		<-release
		return nil
	}}
	logger := newTestLogger(t, store)
	logger.SetQueueSize(2)
	logger.SetBatchSize(1)
	logger.SetBatchTimeout(time.Hour)

	if err := logger.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		logger.LogDetailed(types.LevelInfo, fmt.Sprintf("overflow %d", i), nil)
	}

	// The worker holds at most one entry while the store blocks, so at most
	// three of the ten fit.
	stats := logger.GetStats()
	if stats.DroppedEntries < 7 {
		t.Errorf("Expected at least 7 dropped entries, got %d", stats.DroppedEntries)
	}
	if stats.DetailedEntries != 10 {
		t.Errorf("Expected 10 detailed entries, got %d", stats.DetailedEntries)
	}

	close(release)
	if err := logger.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats = logger.GetStats()
	if stats.IndexedEntries+stats.DroppedEntries != 10 {
		t.Errorf("Expected indexed + dropped = 10, got %d + %d", stats.IndexedEntries, stats.DroppedEntries)
	}
	if got := strings.Count(readDetailedLog(t, logger), "INFO - overflow "); got != 10 {
		t.Errorf("Expected all 10 entries in file log, got %d", got)
	}
}

func TestDualLogger_IndexFailureDoesNotAffectFileLog(t *testing.T) {
	store := &MockStore{storeBatchFunc: func([]*types.DetailedEntry) error {
		return errors.New("disk full")
	}}
	logger := newTestLogger(t, store)

	if err := logger.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	logger.LogDetailed(types.LevelError, "Error sending request: boom", nil)
	logger.Flush()

	if !strings.Contains(readDetailedLog(t, logger), "ERROR - Error sending request: boom") {
		t.Error("Expected entry in file log despite index failure")
	}
	if stats := logger.GetStats(); stats.IndexErrors != 1 {
		t.Errorf("Expected 1 index error, got %d", stats.IndexErrors)
	}
}

func TestDualLogger_SearchWithSQLite(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	logger, err := NewDualLogger(t.TempDir(), 100, store)
	if err != nil {
		t.Fatalf("Failed to create dual logger: %v", err)
	}
	defer logger.Stop()
	logger.SetBatchTimeout(time.Hour)

	if err := logger.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	logger.LogDetailed(types.LevelInfo, "Received POST request at /hook/a", map[string]interface{}{"body": map[string]interface{}{"x": 1}})
	logger.LogDetailed(types.LevelError, "Error sending request: connection refused", nil)

	results, err := logger.Search(types.EventQuery{Level: types.LevelError})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Message, "connection refused") {
		t.Errorf("Unexpected search results: %+v", results)
	}
}

func TestDualLogger_SearchWithoutStore(t *testing.T) {
	logger := newTestLogger(t, nil)

	if _, err := logger.Search(types.EventQuery{}); !errors.Is(err, ErrIndexDisabled) {
		t.Errorf("Expected ErrIndexDisabled, got %v", err)
	}
}
