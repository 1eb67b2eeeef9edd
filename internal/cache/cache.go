// Package cache is the query façade over an indexed set of buffer files.
//
// A Cache owns a record store and the synchronizer that fills it. Queries
// run against the store only; nothing is decoded until a Handle is opened.
//
//	c, err := cache.Open(ctx, cache.Config{DSN: ".bufcache/index.db"})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if _, err := c.Synchronize(ctx, sync.Scope{Roots: []string{"/data"}, Recursive: true}); err != nil {
//	    return err
//	}
//	handles, err := c.Query(ctx, query.Eq("compression_frq", 8), cache.OrderBy("timestamp", false))
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qass/buffercache/internal/db"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
	"github.com/qass/buffercache/internal/store/memory"
	"github.com/qass/buffercache/internal/sync"
)

// MemoryDialect keeps records in process instead of a database.
const MemoryDialect = "memory"

// Config describes the store a Cache opens.
type Config struct {
	// Dialect selects the database; "memory" keeps records in process.
	// Empty means SQLite.
	Dialect string

	// DSN is the SQLite file path or the server connection string.
	DSN string

	Sync   sync.Options
	Logger *slog.Logger
}

// Cache answers metadata queries over buffer files.
type Cache struct {
	store  store.Store
	syncer sync.Syncer
	logger *slog.Logger
}

// New returns a Cache over st. A nil syncer gets a default Synchronizer
// writing to st.
func New(st store.Store, syncer sync.Syncer) *Cache {
	if syncer == nil {
		syncer = sync.New(st, sync.Options{})
	}
	return &Cache{store: st, syncer: syncer, logger: slog.New(slog.DiscardHandler)}
}

// Open opens the store described by cfg, creating its schema if needed.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var st store.Store
	if cfg.Dialect == MemoryDialect {
		st = memory.New()
	} else {
		dialect, err := db.ParseDialect(cfg.Dialect)
		if err != nil {
			return nil, err
		}
		database, err := db.Connect(ctx, db.Config{Dialect: dialect, DSN: cfg.DSN, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		if err := database.InitSchemaContext(ctx); err != nil {
			_ = database.Close()
			return nil, err
		}
		st = database
	}

	opts := cfg.Sync
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Cache{
		store:  st,
		syncer: sync.New(st, opts),
		logger: logger.With("component", "cache"),
	}, nil
}

// Store returns the underlying record store.
func (c *Cache) Store() store.Store { return c.store }

// Close closes the store.
func (c *Cache) Close() error { return c.store.Close() }

// Synchronize brings the index in line with the files under scope.
func (c *Cache) Synchronize(ctx context.Context, scope sync.Scope) (*sync.Report, error) {
	return c.syncer.Synchronize(ctx, scope)
}

// Pending lists files under scope that are not indexed or changed since,
// without decoding them.
func (c *Cache) Pending(ctx context.Context, scope sync.Scope) ([]sync.PendingFile, error) {
	return c.syncer.Pending(ctx, scope)
}

// Query returns handles for the indexed records matching p. Failed records
// never match. An empty result is not an error.
func (c *Cache) Query(ctx context.Context, p query.Predicate, opts ...Option) ([]*Handle, error) {
	records, err := c.Records(ctx, p, opts...)
	if err != nil {
		return nil, err
	}
	handles := make([]*Handle, len(records))
	for i, r := range records {
		handles[i] = &Handle{Path: r.Path, Record: r}
	}
	return handles, nil
}

// Files returns the paths of the indexed records matching p.
func (c *Cache) Files(ctx context.Context, p query.Predicate, opts ...Option) ([]string, error) {
	records, err := c.Records(ctx, p, opts...)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}
	return paths, nil
}

// Records returns the indexed records matching p.
func (c *Cache) Records(ctx context.Context, p query.Predicate, opts ...Option) ([]*schema.Record, error) {
	return c.find(ctx, query.And(stateIs(schema.StateIndexed), p), opts)
}

// Failed returns the parked records matching p with their last error.
func (c *Cache) Failed(ctx context.Context, p query.Predicate, opts ...Option) ([]*schema.Record, error) {
	return c.find(ctx, query.And(stateIs(schema.StateFailed), p), opts)
}

func stateIs(s schema.State) query.Predicate { return query.Eq("state", string(s)) }

func (c *Cache) find(ctx context.Context, p query.Predicate, opts []Option) ([]*schema.Record, error) {
	o := collect(opts)
	q := query.Query{Where: p, OrderBy: o.order}
	if o.filter == nil {
		q.Limit, q.Offset = o.limit, o.offset
		return c.store.Query(ctx, q)
	}

	// the filter runs in Go, so paging has to follow it
	records, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	kept := records[:0]
	for _, r := range records {
		if o.filter(r) {
			kept = append(kept, r)
		}
	}
	return query.Page(kept, o.limit, o.offset), nil
}

// Remove deletes the records for paths, whatever their state. Files on disk
// are not touched; a later synchronize pass indexes them again.
func (c *Cache) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	err := store.WithTx(ctx, c.store, func(tx store.Tx) error {
		for _, p := range paths {
			if err := tx.Delete(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove records: %w", err)
	}
	c.logger.Debug("Removed records", "count", len(paths))
	return nil
}

// Stats counts records by state.
type Stats struct {
	Records int `json:"records" yaml:"records"`
	Indexed int `json:"indexed" yaml:"indexed"`
	Failed  int `json:"failed" yaml:"failed"`
}

// Stats returns record counts from one committed state, so the numbers
// always add up even while a sync is running.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	counts, err := c.store.CountStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	s := &Stats{
		Indexed: counts[schema.StateIndexed],
		Failed:  counts[schema.StateFailed],
	}
	s.Records = s.Indexed + s.Failed
	return s, nil
}
