package config

import (
	"flag"
	"fmt"
	"os"
)

// ExampleLoadConfigWithFlagSet demonstrates how flags and environment combine
func ExampleLoadConfigWithFlagSet() {
	os.Setenv("APIREMOTE_LOG_DIR", "/var/log/apiremote")
	defer os.Unsetenv("APIREMOTE_LOG_DIR")

	fs := flag.NewFlagSet("apiremote", flag.ContinueOnError)
	config, err := LoadConfigWithFlagSet(fs, []string{"--port", "7001"})
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	fmt.Printf("Port: %d\n", config.Port)
	fmt.Printf("Settings: %s\n", config.SettingsPath)
	fmt.Printf("Log Dir: %s\n", config.LogDir)
	fmt.Printf("Dashboard Size: %d\n", config.DashboardSize)

	// Output:
	// Port: 7001
	// Settings: data/settings.json
	// Log Dir: /var/log/apiremote
	// Dashboard Size: 100
}
