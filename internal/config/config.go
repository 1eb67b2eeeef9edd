// Package config loads bufcache settings from a config file, BUFCACHE_*
// environment variables and command-line flags, in increasing precedence.
//
// A config file is looked up as bufcache.toml (or .yaml) in the working
// directory, then in the user config directory:
//
//	[store]
//	dialect = "sqlite"
//	dsn = ".bufcache/index.db"
//
//	[scope]
//	roots = ["/data/measurements"]
//	recursive = true
//
// Every key maps to an environment variable, e.g. store.dsn to
// BUFCACHE_STORE_DSN.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file base name, without extension.
const FileName = "bufcache"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BUFCACHE"

// Config is the complete bufcache configuration.
type Config struct {
	Store     Store     `mapstructure:"store"`
	Scope     Scope     `mapstructure:"scope"`
	Sync      Sync      `mapstructure:"sync"`
	Daemon    Daemon    `mapstructure:"daemon"`
	Dashboard Dashboard `mapstructure:"dashboard"`
	Log       Log       `mapstructure:"log"`
}

// Store selects the index database.
type Store struct {
	// Dialect is sqlite, postgres, mysql or memory.
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
}

// Scope is the default set of directories commands work on.
type Scope struct {
	Roots     []string `mapstructure:"roots"`
	Recursive bool     `mapstructure:"recursive"`
	Pattern   string   `mapstructure:"pattern"`
}

type Sync struct {
	Workers     int           `mapstructure:"workers"`
	FileTimeout time.Duration `mapstructure:"file_timeout"`
	Attempts    int           `mapstructure:"attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Fingerprint string        `mapstructure:"fingerprint"`
	FailFast    bool          `mapstructure:"fail_fast"`
}

type Daemon struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	Resync      time.Duration `mapstructure:"resync"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	// Lock is the daemon lock file. Empty means daemon.lock next to a
	// SQLite index, or in .bufcache otherwise.
	Lock string `mapstructure:"lock"`
}

type Dashboard struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store: Store{Dialect: "sqlite", DSN: filepath.Join(".bufcache", "index.db")},
		Scope: Scope{Roots: []string{}, Recursive: true},
		Sync: Sync{
			FileTimeout: 30 * time.Second,
			Attempts:    3,
			Backoff:     100 * time.Millisecond,
			Fingerprint: "stat",
		},
		Daemon: Daemon{
			Debounce:    500 * time.Millisecond,
			Resync:      10 * time.Minute,
			MinInterval: time.Second,
		},
		Dashboard: Dashboard{Addr: ":8080"},
		Log:       Log{Level: "info"},
	}
}

// tree returns c as nested maps keyed like the config file. Durations are
// rendered as strings ("500ms") so the file stays readable.
func (c Config) tree() map[string]map[string]any {
	return map[string]map[string]any{
		"store": {"dialect": c.Store.Dialect, "dsn": c.Store.DSN},
		"scope": {"roots": c.Scope.Roots, "recursive": c.Scope.Recursive, "pattern": c.Scope.Pattern},
		"sync": {
			"workers":      c.Sync.Workers,
			"file_timeout": c.Sync.FileTimeout.String(),
			"attempts":     c.Sync.Attempts,
			"backoff":      c.Sync.Backoff.String(),
			"fingerprint":  c.Sync.Fingerprint,
			"fail_fast":    c.Sync.FailFast,
		},
		"daemon": {
			"debounce":     c.Daemon.Debounce.String(),
			"resync":       c.Daemon.Resync.String(),
			"min_interval": c.Daemon.MinInterval.String(),
			"lock":         c.Daemon.Lock,
		},
		"dashboard": {"addr": c.Dashboard.Addr},
		"log":       {"level": c.Log.Level, "file": c.Log.File, "json": c.Log.JSON},
	}
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind command flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for section, keys := range Defaults().tree() {
		for key, value := range keys {
			v.SetDefault(section+"."+key, value)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and returns the merged configuration.
// An explicit file must exist; without one, a missing bufcache.* file is
// not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Used returns the config file Load read, or "" when none was found.
func Used(v *viper.Viper) string { return v.ConfigFileUsed() }
