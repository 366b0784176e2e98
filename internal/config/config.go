package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"apiremote/internal/types"
)

const (
	// DefaultPort is the HTTP port used when neither flag nor env sets one
	DefaultPort = 6001
	// DefaultSettingsPath is the fixed relative location of the settings file
	DefaultSettingsPath = "data/settings.json"
	// DefaultLogDir is where the per-run detailed log is written
	DefaultLogDir = "logs"
	// DefaultDashboardSize is the dashboard ring capacity
	DefaultDashboardSize = 100
)

// LoadConfig loads configuration from a .env file, command-line flags and
// environment variables with sensible defaults
func LoadConfig() (*types.Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	return LoadConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// LoadConfigWithFlagSet loads configuration using a specific flag set and
// argument list. This allows for better testing by avoiding global flag conflicts
func LoadConfigWithFlagSet(fs *flag.FlagSet, args []string) (*types.Config, error) {
	config := &types.Config{}

	host := fs.String("host", "0.0.0.0", "Host address to listen on")
	port := fs.Int("port", DefaultPort, "Port to run the server on")
	settingsPath := fs.String("settings", DefaultSettingsPath, "Path to the settings file (JSON or YAML)")
	logDir := fs.String("log-dir", DefaultLogDir, "Directory for detailed log files")
	databasePath := fs.String("database-path", ":memory:", "SQLite database for the per-run event index")
	dispatchTimeout := fs.Duration("dispatch-timeout", 0, "Deadline for outbound requests (0 waits indefinitely)")
	dashboardSize := fs.Int("dashboard-size", DefaultDashboardSize, "Number of entries kept in the dashboard log")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	// Environment variables override flags
	config.Host = getStringFromEnv("APIREMOTE_HOST", *host)
	config.Port = getIntFromEnv("APIREMOTE_PORT", *port)
	config.SettingsPath = getStringFromEnv("APIREMOTE_SETTINGS", *settingsPath)
	config.LogDir = getStringFromEnv("APIREMOTE_LOG_DIR", *logDir)
	config.DatabasePath = getStringFromEnv("APIREMOTE_DATABASE_PATH", *databasePath)
	config.DispatchTimeout = getDurationFromEnv("APIREMOTE_DISPATCH_TIMEOUT", *dispatchTimeout)
	config.DashboardSize = getIntFromEnv("APIREMOTE_DASHBOARD_SIZE", *dashboardSize)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// validateConfig performs presence and range checks only
func validateConfig(config *types.Config) error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if strings.TrimSpace(config.SettingsPath) == "" {
		return fmt.Errorf("settings path cannot be empty")
	}

	if strings.TrimSpace(config.LogDir) == "" {
		return fmt.Errorf("log-dir cannot be empty")
	}

	if strings.TrimSpace(config.DatabasePath) == "" {
		return fmt.Errorf("database-path cannot be empty")
	}

	if config.DispatchTimeout < 0 {
		return fmt.Errorf("dispatch-timeout cannot be negative, got %s", config.DispatchTimeout)
	}

	if config.DashboardSize < 1 {
		return fmt.Errorf("dashboard-size must be at least 1, got %d", config.DashboardSize)
	}

	return nil
}

// Helper functions for environment variable parsing

func getStringFromEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
