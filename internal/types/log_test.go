package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
		ok    bool
	}{
		{"info", LevelInfo, true},
		{"INFO", LevelInfo, true},
		{" warning ", LevelWarning, true},
		{"warn", LevelWarning, true},
		{"Error", LevelError, true},
		{"debug", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = (%q, %t), want (%q, %t)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLevel_Label(t *testing.T) {
	if LevelWarning.Label() != "WARNING" {
		t.Errorf("Expected WARNING, got %s", LevelWarning.Label())
	}
	if LevelError.Label() != "ERROR" {
		t.Errorf("Expected ERROR, got %s", LevelError.Label())
	}
}

func TestDashboardEntry_String(t *testing.T) {
	entry := DashboardEntry{Timestamp: "12:34:56", Message: "RECEIVED POST at /hook/a"}

	if got := entry.String(); got != "[12:34:56] RECEIVED POST at /hook/a" {
		t.Errorf("Unexpected dashboard rendering: %s", got)
	}
}

func TestDetailedEntry_OmitsEmptyData(t *testing.T) {
	entry := DetailedEntry{
		ID:        "abc",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelInfo,
		Message:   "Application started on port 6001",
	}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Failed to marshal DetailedEntry: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal DetailedEntry: %v", err)
	}
	if _, ok := fields["data"]; ok {
		t.Errorf("Expected data to be omitted, got %s", data)
	}
	if fields["level"] != "info" {
		t.Errorf("Expected level info, got %v", fields["level"])
	}
}
