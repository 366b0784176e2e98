package types

import "time"

// Config holds all process-level configuration options for the application
type Config struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	SettingsPath    string        `json:"settings_path"`
	LogDir          string        `json:"log_dir"`
	DatabasePath    string        `json:"database_path"`
	DispatchTimeout time.Duration `json:"dispatch_timeout"`
	DashboardSize   int           `json:"dashboard_size"`
}

// Settings describes the known endpoints, loaded once from the settings file.
// SendEndpoints are informational for the UI; every ReceiveEndpoints entry
// becomes a live route.
type Settings struct {
	SendEndpoints    []string          `json:"send_endpoints" yaml:"send_endpoints"`
	ReceiveEndpoints []string          `json:"receive_endpoints" yaml:"receive_endpoints"`
	DefaultHeaders   map[string]string `json:"default_headers" yaml:"default_headers"`
}
