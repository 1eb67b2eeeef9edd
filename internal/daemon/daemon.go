package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	bufsync "github.com/qass/buffercache/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a directory must stay quiet before it is
	// synchronized. Acquisition writes a buffer in several chunks; this
	// batches them into one pass.
	DebounceInterval time.Duration

	// ResyncInterval is how often the whole scope is synchronized, catching
	// changes the watcher missed. Zero disables periodic resyncs.
	ResyncInterval time.Duration

	// MinSyncInterval is the minimum spacing between two passes.
	MinSyncInterval time.Duration

	// Logger for daemon activity. Nil discards it.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		ResyncInterval:   10 * time.Minute,
		MinSyncInterval:  time.Second,
	}
}

// Listener is notified about every pass the daemon runs.
type Listener interface {
	OnSyncReport(report *bufsync.Report)
	OnSyncError(scope bufsync.Scope, err error)
}

// change is a queued directory.
type change struct {
	at time.Time
	// recursive is set when the directory itself appeared or went away, so
	// its whole subtree needs a pass.
	recursive bool
}

// Daemon keeps a scope synchronized while buffer files are written.
type Daemon struct {
	syncer  bufsync.Syncer
	scope   bufsync.Scope
	config  *Config
	logger  *slog.Logger
	limiter *rate.Limiter

	watcher       *FileWatcher
	changeQueue   map[string]change // directory -> last event
	changeQueueMu sync.Mutex

	listeners   []Listener
	listenersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(syncer bufsync.Syncer, scope bufsync.Scope) (*Daemon, error) {
	return NewWithConfig(syncer, scope, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer bufsync.Syncer, scope bufsync.Scope, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	scope, err := scope.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Inf
	if config.MinSyncInterval > 0 {
		limit = rate.Every(config.MinSyncInterval)
	}

	re, err := scope.Matcher()
	if err != nil {
		return nil, err
	}
	watcher, err := NewFileWatcher(re, scope.Recursive)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		scope:       scope,
		config:      config,
		logger:      logger.With("component", "daemon"),
		limiter:     rate.NewLimiter(limit, 1),
		watcher:     watcher,
		changeQueue: make(map[string]change),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Subscribe registers l for pass notifications.
func (d *Daemon) Subscribe(l Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Scope returns the normalized scope the daemon maintains.
func (d *Daemon) Scope() bufsync.Scope { return d.scope }

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Start watching the scope roots
// 2. Perform a full synchronize
// 3. Synchronize changed directories once they are quiet
// 4. Periodically resynchronize the whole scope
//
// Watching starts before the first pass so no write is lost between the two.
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon", "roots", d.scope.Roots, "recursive", d.scope.Recursive)

	if err := d.watcher.Start(d.scope.Roots...); err != nil {
		return err
	}

	if _, err := d.PerformFullSync(ctx); err != nil {
		_ = d.Stop()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicResync()

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A pass in progress is cancelled
// and leaves the store unchanged.
func (d *Daemon) Stop() error {
	d.logger.Info("stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.logger.Warn("error closing watcher", "error", err)
	}

	d.wg.Wait()

	d.logger.Info("daemon stopped")
	return nil
}

// PerformFullSync synchronizes the whole scope. It is called on startup and
// by the periodic resync.
func (d *Daemon) PerformFullSync(ctx context.Context) (*bufsync.Report, error) {
	d.logger.Info("performing full sync")
	return d.run(ctx, d.scope)
}

// run synchronizes scope, respecting the rate limit, and notifies listeners.
func (d *Daemon) run(ctx context.Context, scope bufsync.Scope) (*bufsync.Report, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	report, err := d.syncer.Synchronize(ctx, scope)

	d.listenersMu.RLock()
	listeners := d.listeners
	d.listenersMu.RUnlock()

	if err != nil {
		for _, l := range listeners {
			l.OnSyncError(scope, err)
		}
		return nil, err
	}

	d.logger.Info("sync complete",
		"run", report.RunID,
		"added", report.Added,
		"updated", report.Updated,
		"removed", report.Removed,
		"failed", report.Failed,
		"duration", report.Duration)
	for _, l := range listeners {
		l.OnSyncReport(report)
	}
	return report, nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.logger.Debug("file event", "op", event.Op.String(), "path", event.Path)
			d.queueEvent(event)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueEvent maps a file event to the directory that needs a pass.
func (d *Daemon) queueEvent(event FileEvent) {
	if event.Dir {
		if d.scope.Recursive {
			d.queueChange(event.Path, true, time.Now())
		}
		return
	}
	d.queueChange(filepath.Dir(event.Path), false, time.Now())
}

// queueChange records a change to dir. A recursive mark sticks until the
// directory is processed.
func (d *Daemon) queueChange(dir string, recursive bool, at time.Time) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	c := d.changeQueue[dir]
	d.changeQueue[dir] = change{at: at, recursive: c.recursive || recursive}
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges(time.Now())
		}
	}
}

// processPendingChanges synchronizes the directories that have been quiet
// for long enough.
func (d *Daemon) processPendingChanges(now time.Time) {
	ready := d.takeReady(now)
	for _, scope := range ready {
		d.logger.Debug("processing change", "roots", scope.Roots, "recursive", scope.Recursive)
		if _, err := d.run(d.ctx, scope); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Warn("sync failed", "roots", scope.Roots, "error", err)
			if errors.Is(err, bufsync.ErrScopeBusy) {
				// another pass owns these directories; try again later
				for _, dir := range scope.Roots {
					d.queueChange(dir, scope.Recursive, now)
				}
			}
		}
	}
}

// takeReady removes the quiet directories from the queue and groups them
// into at most two scopes: recursive subtrees and single directories not
// already covered by one of the subtrees.
func (d *Daemon) takeReady(now time.Time) []bufsync.Scope {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var trees, dirs []string
	for dir, c := range d.changeQueue {
		if now.Sub(c.at) < d.config.DebounceInterval {
			continue
		}
		if c.recursive {
			trees = append(trees, dir)
		} else {
			dirs = append(dirs, dir)
		}
		delete(d.changeQueue, dir)
	}
	return batch(d.scope.Pattern, trees, dirs)
}

func batch(pattern string, trees, dirs []string) []bufsync.Scope {
	sort.Strings(trees)
	sort.Strings(dirs)

	var out []bufsync.Scope
	if len(trees) > 0 {
		out = append(out, bufsync.Scope{Roots: trees, Recursive: true, Pattern: pattern})
	}
	var rest []string
	for _, dir := range dirs {
		if !coveredBy(dir, trees) {
			rest = append(rest, dir)
		}
	}
	if len(rest) > 0 {
		out = append(out, bufsync.Scope{Roots: rest, Pattern: pattern})
	}
	return out
}

// coveredBy reports whether dir equals or lies below one of trees.
func coveredBy(dir string, trees []string) bool {
	for _, t := range trees {
		if dir == t || strings.HasPrefix(dir, t+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// periodicResync synchronizes the whole scope on a fixed interval.
func (d *Daemon) periodicResync() {
	defer d.wg.Done()

	if d.config.ResyncInterval <= 0 {
		return
	}

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if _, err := d.PerformFullSync(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("periodic resync failed", "error", err)
			}
		}
	}
}
