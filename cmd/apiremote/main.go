package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"apiremote/internal/config"
	"apiremote/internal/dispatcher"
	"apiremote/internal/receiver"
	"apiremote/internal/server"
	"apiremote/internal/service"
	"apiremote/internal/storage"
	"apiremote/internal/types"
	"apiremote/web"
)

// Build information (set by build script)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Application wires the dual logger, dispatcher, receivers and HTTP server
type Application struct {
	config     *types.Config
	settings   *types.Settings
	storage    *storage.SQLiteStorage
	logger     *service.DualLogger
	dispatcher *dispatcher.Dispatcher
	receivers  *receiver.Registry
	httpServer *server.HTTPServer
}

func main() {
	// Set up logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[APIRemote] ")

	log.Printf("API Remote v%s (built %s, commit %s)", Version, BuildTime, GitCommit)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	fmt.Printf("API Remote running on http://localhost:%d\n", app.config.Port)
	fmt.Printf("Logs being written to: %s\n", app.logger.DetailedLogPath())

	<-sigChan
	log.Printf("Shutdown signal received, stopping application...")

	if err := app.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}

	log.Printf("API Remote stopped successfully")
}

// NewApplication loads settings and builds every component. A malformed
// settings file is an error; a missing one yields an empty configuration.
func NewApplication(cfg *types.Config) (*Application, error) {
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	app := &Application{
		config:   cfg,
		settings: settings,
	}

	if err := app.initializeComponents(); err != nil {
		app.closeResources()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	sqliteStorage, err := storage.NewSQLiteStorage(app.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize event index: %w", err)
	}
	app.storage = sqliteStorage

	logger, err := service.NewDualLogger(app.config.LogDir, app.config.DashboardSize, sqliteStorage)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger = logger

	app.dispatcher = dispatcher.New(logger, app.settings.DefaultHeaders, app.config.DispatchTimeout)
	app.receivers = receiver.NewRegistry(logger, app.settings.ReceiveEndpoints)

	httpServer, err := server.NewHTTPServer(app.config, app.settings, logger, app.dispatcher, app.receivers, web.GetAssets())
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	app.httpServer = httpServer

	return nil
}

// Start starts the logger, then the HTTP server, and records the startup event
func (app *Application) Start() error {
	if err := app.logger.Start(); err != nil {
		return fmt.Errorf("failed to start logger: %w", err)
	}

	if err := app.httpServer.Start(); err != nil {
		app.logger.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.LogDashboard(fmt.Sprintf("API Remote started on port %d", app.config.Port))
	app.logger.LogDetailed(types.LevelInfo, fmt.Sprintf("Application started on port %d", app.config.Port), nil)

	return nil
}

// Stop gracefully stops all application components in reverse order
func (app *Application) Stop() error {
	var errs []error

	if app.httpServer != nil {
		if err := app.httpServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server stop error: %w", err))
		}
	}

	if err := app.closeResources(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// closeResources flushes the logger and closes the event index
func (app *Application) closeResources() error {
	var errs []error

	if app.logger != nil {
		if err := app.logger.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("logger stop error: %w", err))
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event index close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

