// Package memory is an in-process Store backed by a copy-on-write B-tree.
//
// A transaction works on an O(1) copy of the committed tree and swaps it in
// on Commit, so readers keep iterating the snapshot they started with.
// Write transactions are serialized.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
)

// Store holds records keyed by path.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.Map[string, *schema.Record]
	closed bool

	// writer is held for the lifetime of a write transaction.
	writer sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{tree: btree.NewMap[string, *schema.Record](0)}
}

// Begin starts a write transaction, waiting for any other writer to finish.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	acquired := make(chan struct{})
	go func() {
		s.writer.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		// release the lock once the pending acquisition completes
		go func() {
			<-acquired
			s.writer.Unlock()
		}()
		return nil, store.Wrap("begin", ctx.Err())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writer.Unlock()
		return nil, store.Wrap("begin", store.ErrClosed)
	}
	work := s.tree.Copy()
	s.mu.Unlock()

	return &tx{s: s, work: work}, nil
}

// Query returns clones of the matching committed records.
func (s *Store) Query(ctx context.Context, q query.Query) ([]*schema.Record, error) {
	n, err := store.Normalize(q)
	if err != nil {
		return nil, err
	}
	matches, err := s.scan(ctx, n.Where)
	if err != nil {
		return nil, err
	}
	out := query.Apply(matches, n)
	for i, r := range out {
		out[i] = r.Clone()
	}
	return out, nil
}

// Count returns the number of committed records matching p.
func (s *Store) Count(ctx context.Context, p query.Predicate) (int, error) {
	n, err := p.Normalize()
	if err != nil {
		return 0, err
	}
	matches, err := s.scan(ctx, n)
	return len(matches), err
}

// CountStates counts committed records per state under one read lock.
func (s *Store) CountStates(ctx context.Context) (map[schema.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.Wrap("count", store.ErrClosed)
	}
	counts := make(map[schema.State]int)
	s.tree.Scan(func(_ string, r *schema.Record) bool {
		counts[r.State]++
		return true
	})
	return counts, ctx.Err()
}

func (s *Store) scan(ctx context.Context, p query.Predicate) ([]*schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.Wrap("query", store.ErrClosed)
	}

	var out []*schema.Record
	visit := func(_ string, r *schema.Record) bool {
		if p.Match(r) {
			out = append(out, r)
		}
		return true
	}
	// path prefixes narrow the scan to one key range
	if prefix, ok := pathPrefix(p); ok {
		s.tree.Ascend(prefix, func(k string, r *schema.Record) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			return visit(k, r)
		})
	} else {
		s.tree.Scan(visit)
	}
	return out, ctx.Err()
}

// pathPrefix finds a path prefix every match of p must have.
func pathPrefix(p query.Predicate) (string, bool) {
	switch p.Op {
	case query.OpPrefix:
		if p.Field == schema.PathField {
			return p.Value.(string), true
		}
	case query.OpAnd:
		for _, c := range p.Children {
			if prefix, ok := pathPrefix(c); ok {
				return prefix, true
			}
		}
	}
	return "", false
}

// Len returns the number of committed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Close drops all records. Later calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree = btree.NewMap[string, *schema.Record](0)
	return nil
}

type tx struct {
	s    *Store
	work *btree.Map[string, *schema.Record]
	done bool
}

func (t *tx) Upsert(ctx context.Context, r *schema.Record) error {
	if t.done {
		return store.Wrap("upsert", store.ErrTxDone)
	}
	if err := ctx.Err(); err != nil {
		return store.Wrap("upsert", err)
	}
	if err := r.Validate(); err != nil {
		return store.Wrap("upsert", err)
	}
	t.work.Set(r.Path, r.Clone())
	return nil
}

func (t *tx) Delete(ctx context.Context, path string) error {
	if t.done {
		return store.Wrap("delete", store.ErrTxDone)
	}
	if err := ctx.Err(); err != nil {
		return store.Wrap("delete", err)
	}
	t.work.Delete(path)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return store.Wrap("commit", store.ErrTxDone)
	}
	t.done = true
	defer t.s.writer.Unlock()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return store.Wrap("commit", store.ErrClosed)
	}
	t.s.tree = t.work
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.work = nil
	t.s.writer.Unlock()
	return nil
}
