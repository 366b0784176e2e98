package interfaces

import "apiremote/internal/types"

// EventLogger is the write side of the dual logger. Every dispatched or
// received request produces exactly one call to each method.
type EventLogger interface {
	// LogDashboard appends a timestamped line to the bounded dashboard log
	LogDashboard(message string)

	// LogDetailed appends an entry to the durable detailed log
	LogDetailed(level types.Level, message string, data interface{})
}

// EventLog is the full dual logger as seen by the presentation surface
type EventLog interface {
	EventLogger

	// Dashboard returns the current dashboard lines in chronological order
	Dashboard() []string

	// Search queries the detailed-entry index
	Search(query types.EventQuery) ([]*types.DetailedEntry, error)

	// DetailedLogPath returns the file the detailed log is written to
	DetailedLogPath() string

	// Start starts the index worker
	Start() error

	// Stop flushes pending entries and closes the detailed log
	Stop() error

	// GetStats returns logger statistics
	GetStats() LoggerStats
}

// LoggerStats represents statistics about the dual logger
type LoggerStats struct {
	DashboardEntries int   `json:"dashboard_entries"`
	DashboardTotal   int64 `json:"dashboard_total"`
	DetailedEntries  int64 `json:"detailed_entries"`
	DetailedErrors   int64 `json:"detailed_errors"`
	IndexedEntries   int64 `json:"indexed_entries"`
	IndexErrors      int64 `json:"index_errors"`
	DroppedEntries   int64 `json:"dropped_entries"`
	QueueSize        int   `json:"queue_size"`
	IsRunning        bool  `json:"is_running"`
}
