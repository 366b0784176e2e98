package types

import (
	"strings"
	"time"
)

// Level is the severity of a detailed log entry
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel accepts info, warning (or warn) and error in any case
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	}
	return "", false
}

// Label returns the upper-case name written to the detailed log file
func (l Level) Label() string {
	return strings.ToUpper(string(l))
}

// DashboardEntry is one human-readable line of the in-memory dashboard log
type DashboardEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// String renders the entry the way the dashboard displays it
func (e DashboardEntry) String() string {
	return "[" + e.Timestamp + "] " + e.Message
}

// DetailedEntry is one record of the append-only detailed log
type DetailedEntry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Level     Level       `json:"level"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// EventQuery represents parameters for searching indexed detailed entries
type EventQuery struct {
	Text      string     `json:"text,omitempty"`
	Level     Level      `json:"level,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}
