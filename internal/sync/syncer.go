package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/fingerprint"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
)

// Options configures a Synchronizer. Zero values select the defaults.
type Options struct {
	// Workers bounds concurrent decodes. Default: runtime.NumCPU().
	Workers int

	// FileTimeout bounds the content hash and each decode attempt of one
	// file. Default: 30s.
	FileTimeout time.Duration

	// Attempts is the number of tries for a file failing with a transient
	// I/O error. Default: 3.
	Attempts int

	// Backoff is the wait before the first retry; it doubles per retry.
	// Default: 100ms.
	Backoff time.Duration

	// Fingerprint selects change detection. Default: fingerprint.ModeStat.
	Fingerprint fingerprint.Mode

	// FailFast makes a pass over a scope that overlaps a running pass fail
	// with ErrScopeBusy instead of waiting.
	FailFast bool

	// Logger receives progress and per-file warnings. Nil discards them.
	Logger *slog.Logger

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// readHeader replaces buffer.ReadHeader in tests.
	readHeader func(ctx context.Context, path string) (*buffer.Header, error)
	// hashFile replaces fingerprint.OfContext in tests.
	hashFile func(ctx context.Context, path string, mode fingerprint.Mode) (fingerprint.Fingerprint, error)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = 30 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	if o.Fingerprint == "" {
		o.Fingerprint = fingerprint.ModeStat
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.readHeader == nil {
		o.readHeader = buffer.ReadHeader
	}
	if o.hashFile == nil {
		o.hashFile = fingerprint.OfContext
	}
	return o
}

// Synchronizer implements Syncer on top of a store.Store.
type Synchronizer struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
	locks  scopeLocks
}

var _ Syncer = (*Synchronizer)(nil)

// New creates a Synchronizer writing to st. The store's schema must already
// exist.
//
// Example:
//
//	database, err := db.Open(".bufcache/index.db")
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	syncer := sync.New(database, sync.Options{Workers: 8})
func New(st store.Store, opts Options) *Synchronizer {
	opts = opts.withDefaults()
	return &Synchronizer{
		store:  st,
		opts:   opts,
		logger: opts.Logger.With("component", "sync"),
	}
}

// outcome is what a worker learned about one candidate.
type outcome int

const (
	outUnchanged outcome = iota
	outIndexed
	outFailed
	outVanished
)

type result struct {
	outcome outcome
	record  *schema.Record
	err     error
}

// Synchronize implements Syncer.
func (s *Synchronizer) Synchronize(ctx context.Context, scope Scope) (*Report, error) {
	scope, err := scope.Normalize()
	if err != nil {
		return nil, err
	}
	re, _ := scope.Matcher()

	release, err := s.locks.acquire(ctx, scope, s.opts.FailFast)
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.opts.Now()
	report := &Report{RunID: uuid.NewString(), Scope: scope, StartedAt: started}
	logger := s.logger.With("run_id", report.RunID)
	logger.Debug("Starting sync", "roots", scope.Roots, "recursive", scope.Recursive)

	existing, err := s.existing(ctx, scope)
	if err != nil {
		return nil, err
	}

	l, err := enumerate(ctx, scope, re)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate scope: %w", err)
	}
	report.Skipped = l.unreadable
	for _, dir := range l.unreadable {
		logger.Warn("Skipping unreadable path", "path", dir)
	}

	results := make([]result, len(l.files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, c := range l.files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.examine(gctx, c, existing[c.path])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		upserts []*schema.Record
		deletes []string
		present = make(map[string]bool, len(l.files))
	)
	for i, res := range results {
		path := l.files[i].path
		switch res.outcome {
		case outUnchanged:
			present[path] = true
			report.Unchanged++
		case outIndexed:
			present[path] = true
			upserts = append(upserts, res.record)
			if existing[path] == nil {
				report.Added++
			} else {
				report.Updated++
			}
		case outFailed:
			present[path] = true
			upserts = append(upserts, res.record)
			report.Failed++
			report.Failures = append(report.Failures, Failure{Path: path, Error: res.err.Error()})
			logger.Warn("Failed to decode buffer", "path", path, "error", res.err)
		case outVanished:
		}
	}
	for path := range existing {
		if present[path] || underAny(path, l.unreadable) {
			continue
		}
		deletes = append(deletes, path)
	}
	report.Removed = len(deletes)

	if len(upserts) > 0 || len(deletes) > 0 {
		if err := s.commit(ctx, upserts, deletes); err != nil {
			logger.Error("Sync rolled back", "error", err)
			return nil, err
		}
	}

	report.Duration = s.opts.Now().Sub(started)
	logger.Info("Sync complete",
		"added", report.Added, "updated", report.Updated, "removed", report.Removed,
		"failed", report.Failed, "unchanged", report.Unchanged, "duration", report.Duration)
	return report, nil
}

// existing loads the records a pass over scope owns, keyed by path.
func (s *Synchronizer) existing(ctx context.Context, scope Scope) (map[string]*schema.Record, error) {
	records, err := s.store.Query(ctx, query.Query{Where: scope.Predicate()})
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	m := make(map[string]*schema.Record, len(records))
	for _, r := range records {
		m[r.Path] = r
	}
	return m, nil
}

// examine fingerprints c and decodes it when it differs from prev.
func (s *Synchronizer) examine(ctx context.Context, c candidate, prev *schema.Record) result {
	fp, err := s.fingerprint(ctx, c)
	if err != nil {
		if fingerprint.IsNotExist(err) {
			return result{outcome: outVanished}
		}
		// park with the stat fingerprint; a later pass retries once it changes
		fp = fingerprint.FromInfo(c.info)
		if parked(prev, fp) {
			return result{outcome: outUnchanged}
		}
		return result{outcome: outFailed, err: err,
			record: schema.Failed(c.path, c.info, fp, err, prev, s.opts.Now())}
	}
	if prev != nil && prev.Fingerprint == fp.String() {
		return result{outcome: outUnchanged}
	}

	h, err := s.decode(ctx, c.path)
	switch {
	case err == nil:
		return result{outcome: outIndexed, record: schema.FromHeader(c.path, c.info, fp, h, s.opts.Now())}
	case errors.Is(err, buffer.ErrNotFound):
		return result{outcome: outVanished}
	default:
		return result{outcome: outFailed, err: err,
			record: schema.Failed(c.path, c.info, fp, err, prev, s.opts.Now())}
	}
}

func (s *Synchronizer) fingerprint(ctx context.Context, c candidate) (fingerprint.Fingerprint, error) {
	if s.opts.Fingerprint != fingerprint.ModeContent {
		return fingerprint.FromInfo(c.info), nil
	}
	fctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()
	return s.opts.hashFile(fctx, c.path, s.opts.Fingerprint)
}

// parked reports whether prev is a failed record for the file version
// described by the stat fingerprint fp.
func parked(prev *schema.Record, fp fingerprint.Fingerprint) bool {
	return prev != nil && prev.State == schema.StateFailed && prev.Fingerprint == fp.String()
}

// decode reads the header of path, retrying transient I/O errors with
// exponential backoff.
func (s *Synchronizer) decode(ctx context.Context, path string) (*buffer.Header, error) {
	wait := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
		h, err := s.opts.readHeader(fctx, path)
		cancel()
		if err == nil || !buffer.IsRetryable(err) || attempt >= s.opts.Attempts {
			return h, err
		}

		s.logger.Debug("Retrying buffer", "path", path, "attempt", attempt, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
		wait *= 2
	}
}

// commit applies a pass's changes in one transaction.
func (s *Synchronizer) commit(ctx context.Context, upserts []*schema.Record, deletes []string) error {
	err := store.WithTx(ctx, s.store, func(tx store.Tx) error {
		for _, r := range upserts {
			if err := tx.Upsert(ctx, r); err != nil {
				return err
			}
		}
		for _, path := range deletes {
			if err := tx.Delete(ctx, path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}
	return nil
}

// Pending implements Syncer.
func (s *Synchronizer) Pending(ctx context.Context, scope Scope) ([]PendingFile, error) {
	scope, err := scope.Normalize()
	if err != nil {
		return nil, err
	}
	re, _ := scope.Matcher()

	existing, err := s.existing(ctx, scope)
	if err != nil {
		return nil, err
	}
	l, err := enumerate(ctx, scope, re)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate scope: %w", err)
	}

	var out []PendingFile
	for _, c := range l.files {
		prev := existing[c.path]
		if prev == nil {
			out = append(out, PendingFile{Path: c.path, Reason: PendingNew})
			continue
		}
		fp, err := s.fingerprint(ctx, c)
		if err != nil {
			if fingerprint.IsNotExist(err) || parked(prev, fingerprint.FromInfo(c.info)) {
				continue
			}
			return nil, fmt.Errorf("failed to fingerprint %s: %w", c.path, err)
		}
		if prev.Fingerprint != fp.String() {
			out = append(out, PendingFile{Path: c.path, Reason: PendingStale})
		}
	}
	return out, nil
}
