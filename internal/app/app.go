// Package app provides the application initialization and lifecycle management
package app

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/engine"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/notify"
	"github.com/tildaslashalef/fieldsync/internal/session"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Sessions  *session.Service
	Conflicts *conflict.Service
	Engine    *engine.Service
	Sink      notify.Sink
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	// Initialize configuration
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set the global configuration
	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()

	sink := initSink(cfg, logger)

	conflictRepo := conflict.NewSQLRepository(db, logger)
	conflictService := conflict.NewService(conflictRepo, sink, logger)

	sessionRepo := session.NewSQLRepository(db, logger)
	sessionService := session.NewService(sessionRepo, conflictService, sink, logger)

	versionResolver := engine.NewSQLVersionResolver(db, logger)
	engineService := engine.NewService(
		sessionService,
		conflictService,
		versionResolver,
		conflict.Strategy(cfg.Sync.DefaultStrategy),
		logger,
	)

	return &App{
		Config:    cfg,
		Sessions:  sessionService,
		Conflicts: conflictService,
		Engine:    engineService,
		Sink:      sink,
	}, nil
}

// initSink builds the event sink. The log sink is always present; the
// webhook sink joins it when configured.
func initSink(cfg *config.Config, logger *loggy.Logger) notify.Sink {
	logSink := notify.NewLogSink(logger)

	if !cfg.Webhook.Enabled {
		return logSink
	}

	webhookSink := notify.NewWebhookSink(cfg.Webhook, logger)
	loggy.Info("Webhook event delivery enabled", "url", cfg.Webhook.URL)

	return notify.NewMultiSink(logSink, webhookSink)
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
