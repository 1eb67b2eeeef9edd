package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/qass/buffercache/internal/cache"
	"github.com/qass/buffercache/internal/daemon"
	"github.com/qass/buffercache/internal/db"
	"github.com/qass/buffercache/internal/fingerprint"
	"github.com/qass/buffercache/internal/logging"
	"github.com/qass/buffercache/internal/sync"
)

// Validate checks values that would otherwise fail late, deep inside a
// command.
func (c *Config) Validate() error {
	if c.Store.Dialect != cache.MemoryDialect {
		if _, err := db.ParseDialect(c.Store.Dialect); err != nil {
			return fmt.Errorf("store.dialect: %w", err)
		}
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for dialect %q", c.Store.Dialect)
		}
	}
	if _, err := fingerprint.ParseMode(c.Sync.Fingerprint); err != nil {
		return fmt.Errorf("sync.fingerprint: %w", err)
	}
	if _, err := (sync.Scope{Roots: []string{"."}, Pattern: c.Scope.Pattern}).Matcher(); err != nil {
		return fmt.Errorf("scope.pattern: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for name, d := range map[string]int64{
		"sync.file_timeout":   int64(c.Sync.FileTimeout),
		"sync.backoff":        int64(c.Sync.Backoff),
		"daemon.debounce":     int64(c.Daemon.Debounce),
		"daemon.resync":       int64(c.Daemon.Resync),
		"daemon.min_interval": int64(c.Daemon.MinInterval),
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// ScopeFor returns the configured scope, with roots replaced by args when
// any are given.
func (c *Config) ScopeFor(args []string) sync.Scope {
	roots := c.Scope.Roots
	if len(args) > 0 {
		roots = args
	}
	return sync.Scope{Roots: roots, Recursive: c.Scope.Recursive, Pattern: c.Scope.Pattern}
}

// SyncOptions returns the synchronizer settings.
func (c *Config) SyncOptions(logger *slog.Logger) sync.Options {
	mode, _ := fingerprint.ParseMode(c.Sync.Fingerprint)
	return sync.Options{
		Workers:     c.Sync.Workers,
		FileTimeout: c.Sync.FileTimeout,
		Attempts:    c.Sync.Attempts,
		Backoff:     c.Sync.Backoff,
		Fingerprint: mode,
		FailFast:    c.Sync.FailFast,
		Logger:      logger,
	}
}

// CacheConfig returns the settings for cache.Open.
func (c *Config) CacheConfig(logger *slog.Logger) cache.Config {
	return cache.Config{
		Dialect: c.Store.Dialect,
		DSN:     c.Store.DSN,
		Sync:    c.SyncOptions(logger),
		Logger:  logger,
	}
}

// DaemonConfig returns the watcher settings.
func (c *Config) DaemonConfig(logger *slog.Logger) *daemon.Config {
	return &daemon.Config{
		DebounceInterval: c.Daemon.Debounce,
		ResyncInterval:   c.Daemon.Resync,
		MinSyncInterval:  c.Daemon.MinInterval,
		Logger:           logger,
	}
}

// LockPath returns the daemon lock file.
func (c *Config) LockPath() string {
	if c.Daemon.Lock != "" {
		return c.Daemon.Lock
	}
	if d, err := db.ParseDialect(c.Store.Dialect); err == nil && d == db.SQLite {
		return filepath.Join(filepath.Dir(c.Store.DSN), "daemon.lock")
	}
	return filepath.Join(".bufcache", "daemon.lock")
}

// LoggingOptions returns the logger settings.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, File: c.Log.File, JSON: c.Log.JSON}
}
