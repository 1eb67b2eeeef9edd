// Command bufcache indexes buffer files and answers metadata queries
// without decoding them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/qass/buffercache/internal/cache"
	"github.com/qass/buffercache/internal/config"
	"github.com/qass/buffercache/internal/lockfile"
	"github.com/qass/buffercache/internal/logging"
	"github.com/qass/buffercache/internal/ui"
)

var (
	v          = config.New()
	cfg        *config.Config
	logger     = slog.New(slog.DiscardHandler)
	logCloser  io.Closer
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "bufcache",
	Short: "Metadata cache for buffer files",
	Long: `bufcache keeps a queryable index of buffer file headers.

Files are decoded once when they appear or change; queries run against the
index and never touch the files. The index lives in SQLite by default
(.bufcache/index.db) and can be moved to PostgreSQL or MySQL.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
		// only the running command's flags are bound, so commands sharing a
		// flag name do not overwrite each other's binding
		for _, bound := range []*cobra.Command{cmd.Root(), cmd} {
			for key, f := range flagKeys[bound] {
				if err := v.BindPFlag(key, f); err != nil {
					fatal("%v", err)
				}
			}
		}
		c, err := config.Load(v, configFile)
		if err != nil {
			fatal("%v", err)
		}
		cfg = c

		l, closer, err := logging.New(cfg.LoggingOptions())
		if err != nil {
			fatal("%v", err)
		}
		logger, logCloser = l, closer
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "index", Title: "Indexing:"},
		&cobra.Group{ID: "query", Title: "Querying:"},
		&cobra.Group{ID: "advanced", Title: "Services and tools:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./bufcache.toml)")
	flags.String("db", "", "index DSN (SQLite path or server connection string)")
	flags.String("dialect", "", "index database: sqlite, postgres, mysql or memory")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-file", "", "also write logs to this file, rotated by size")
	flags.BoolVar(&noColor, "no-color", false, "disable styled output")

	bindFlags(rootCmd, map[string]string{
		"store.dsn":     "db",
		"store.dialect": "dialect",
		"log.level":     "log-level",
		"log.file":      "log-file",
	})
}

// flagKeys maps config keys to the flags overriding them, per command.
var flagKeys = map[*cobra.Command]map[string]*pflag.Flag{}

// bindFlags registers flags of cmd, persistent or local, as overrides for
// config keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	if flagKeys[cmd] == nil {
		flagKeys[cmd] = make(map[string]*pflag.Flag)
	}
	for key, name := range keys {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			f = cmd.Flags().Lookup(name)
		}
		if f == nil {
			panic("unknown flag " + name)
		}
		flagKeys[cmd][key] = f
	}
}

// openCache opens the configured index.
func openCache(ctx context.Context) *cache.Cache {
	c, err := cache.Open(ctx, cfg.CacheConfig(logger))
	if err != nil {
		fatal("%v", err)
	}
	return c
}

// signalContext is cancelled on SIGINT or SIGTERM.
// lockIndex takes the index lock for a command that writes the index. Only
// one such process may run per index.
func lockIndex(path, what string) (*lockfile.Lock, error) {
	lock, err := lockfile.Acquire(path)
	if errors.Is(err, lockfile.ErrLocked) {
		return nil, fmt.Errorf("cannot %s, another bufcache process is writing this index: %w", what, err)
	}
	return lock, err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
