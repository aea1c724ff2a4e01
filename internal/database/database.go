// Package database provides SQLite database management for Fieldsync
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/migrations"
)

var (
	// ErrNotInitialized is returned when the database has not been initialized
	ErrNotInitialized = errors.New("database not initialized")

	db     *sql.DB
	dbLock sync.Mutex
)

// DB returns the database connection
func DB() (*sql.DB, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db, nil
}

// InitDB initializes the database connection
func InitDB(cfg *config.Config) error {
	dbLock.Lock()
	defer dbLock.Unlock()

	if db != nil {
		// Database already initialized
		return nil
	}

	loggy.Info("Initializing database", "path", cfg.Database.Path)

	connStr := buildSQLiteDSN(&cfg.Database)

	var err error
	db, err = sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// SQLite supports only one writer at a time
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLife)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		db = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	loggy.Info("Database initialized successfully")
	return nil
}

// buildSQLiteDSN builds a SQLite DSN with additional parameters
func buildSQLiteDSN(cfg *config.DatabaseConfig) string {
	if cfg.Path == ":memory:" || strings.HasPrefix(cfg.Path, "file::memory:") {
		return cfg.Path
	}

	params := url.Values{}
	params.Add("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	params.Add("_journal_mode", cfg.JournalMode)
	params.Add("_synchronous", cfg.SynchronousMode)
	if cfg.CacheSize != 0 {
		params.Add("_cache_size", strconv.Itoa(cfg.CacheSize))
	}
	params.Add("_foreign_keys", strconv.FormatBool(cfg.ForeignKeys))
	params.Add("cache", "shared")

	return fmt.Sprintf("%s?%s", cfg.Path, params.Encode())
}

// CloseDB closes the database connection
func CloseDB() error {
	dbLock.Lock()
	defer dbLock.Unlock()

	if db == nil {
		return nil
	}

	err := db.Close()
	db = nil
	return err
}

// WithTransaction executes a function within a database transaction
func WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if db == nil {
		return ErrNotInitialized
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			// Rollback on panic and re-panic
			_ = tx.Rollback()
			panic(p)
		}
	}()

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			// If rollback fails, log the error but return the original error
			loggy.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	return tx.Commit()
}

// newMigrator creates a migrate instance backed by the embedded migrations
func newMigrator() (*migrate.Migrate, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	source, err := migrations.GetSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		loggy.Error("Failed to create migration instance", "error", err)
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return m, nil
}

// RunMigrations applies all pending migrations
func RunMigrations() error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		loggy.Error("Failed to apply migrations", "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	loggy.Info("Database migration complete",
		"version", version,
		"dirty", dirty,
	)

	return nil
}

// RevertMigrations reverts migrations back by the specified number of steps
func RevertMigrations(steps int) error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && err != migrate.ErrNoChange {
		loggy.Error("Failed to revert migrations", "error", err)
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	loggy.Info("Database migration reversion complete",
		"version", version,
		"dirty", dirty,
	)

	return nil
}
