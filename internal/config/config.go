// Package config provides configuration management for Fieldsync
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Sync      SyncConfig
	Webhook   WebhookConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	configDir string // Internal: Directory where config was loaded from
}

// SyncConfig represents synchronization engine configuration
type SyncConfig struct {
	DefaultStrategy string        // Strategy recorded on detected conflicts when the client requests none
	HistoryPageSize int           // Default page size for history queries
	StaleSessionAge time.Duration // Age after which a session stuck in "started" may be force-failed
}

// WebhookConfig represents the notification webhook configuration
type WebhookConfig struct {
	Enabled    bool          // Whether sync events are delivered to a webhook
	URL        string        // Webhook endpoint URL
	Token      string        // Bearer token for the webhook endpoint
	Timeout    time.Duration // Request timeout
	MaxRetries int           // Maximum number of retries on delivery failure
	RatePerSec float64       // Maximum event deliveries per second
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// New creates an empty configuration
func New() *Config {
	return &Config{
		Sync:     SyncConfig{},
		Webhook:  WebhookConfig{},
		Database: DatabaseConfig{},
		Logging:  LoggingConfig{},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateWebhook(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	return nil
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateSync() error {
	switch c.Sync.DefaultStrategy {
	case "server_wins", "client_wins", "admin_decides", "merge":
	default:
		return fmt.Errorf("unknown default strategy %q", c.Sync.DefaultStrategy)
	}

	if c.Sync.HistoryPageSize <= 0 {
		return fmt.Errorf("history page size must be positive")
	}

	if c.Sync.StaleSessionAge <= 0 {
		return fmt.Errorf("stale session age must be positive")
	}

	return nil
}

func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}

	if c.Webhook.URL == "" {
		return fmt.Errorf("URL cannot be empty when webhook is enabled")
	}

	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout cannot be negative")
	}

	return nil
}
