package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	// If configDir is empty, use the default
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".fieldsync")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	// Default database path is in the config directory
	cfg.Database.Path = filepath.Join(configDir, "fieldsync.db")

	// Default log path is in the config directory
	defaultLogPath := filepath.Join(configDir, "fieldsync.log")

	// Use provided config file path or default
	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// Check if ENV_FILE_PATH is set to load from a custom .env file
	envFilePath := getEnvString("ENV_FILE_PATH", "")
	if envFilePath != "" {
		// User specified a custom env file path
		err := godotenv.Load(envFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else {
		// Try to load from config directory first
		err := godotenv.Load(configFilePath)
		if err != nil {
			// Then try current directory as fallback
			_ = godotenv.Load() // Ignore errors if file doesn't exist
		}
	}

	// Sync engine configuration
	cfg.Sync = SyncConfig{
		DefaultStrategy: getEnvString("FIELDSYNC_DEFAULT_STRATEGY", "server_wins"),
		HistoryPageSize: getEnvInt("FIELDSYNC_HISTORY_PAGE_SIZE", 20),
		StaleSessionAge: getEnvDuration("FIELDSYNC_STALE_SESSION_AGE", 24*time.Hour),
	}

	// Webhook configuration
	cfg.Webhook = WebhookConfig{
		Enabled:    getEnvBool("FIELDSYNC_WEBHOOK_ENABLED", false),
		URL:        getEnvString("FIELDSYNC_WEBHOOK_URL", ""),
		Token:      getEnvString("FIELDSYNC_WEBHOOK_TOKEN", ""),
		Timeout:    getEnvDuration("FIELDSYNC_WEBHOOK_TIMEOUT", 10*time.Second),
		MaxRetries: getEnvInt("FIELDSYNC_WEBHOOK_MAX_RETRIES", 3),
		RatePerSec: getEnvFloat("FIELDSYNC_WEBHOOK_RATE_PER_SEC", 10),
	}

	// Database configuration
	cfg.Database = DatabaseConfig{
		Path:            getEnvString("FIELDSYNC_DB_PATH", cfg.Database.Path),
		BusyTimeout:     getEnvInt("FIELDSYNC_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("FIELDSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("FIELDSYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("FIELDSYNC_DB_CACHE_SIZE", -64000), // ~64MB
		ForeignKeys:     getEnvBool("FIELDSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("FIELDSYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("FIELDSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	// Logging configuration
	cfg.Logging = LoggingConfig{
		Level:      getEnvString("FIELDSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("FIELDSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("FIELDSYNC_LOG_OUTPUT", defaultLogPath),
		AddSource:  getEnvBool("FIELDSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("FIELDSYNC_LOG_TIME_FORMAT", time.RFC3339),
	}

	// Validate the configuration
	return cfg, cfg.Validate()
}

// getEnvString retrieves a string value from the environment or returns the default
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer value from the environment or returns the default
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float value from the environment or returns the default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean value from the environment or returns the default
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration value from the environment or returns the default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
