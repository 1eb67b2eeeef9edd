// Package store defines the persistence port the synchronizer and the query
// façade depend on.
//
// A Store keeps at most one Record per path. Writes happen inside a Tx and
// become visible atomically on Commit; readers running concurrently always
// see the last committed state, never a partially applied batch.
//
// Implementations:
//   - memory: copy-on-write B-tree, for tests and short-lived processes
//   - db: SQL databases (SQLite, PostgreSQL, MySQL)
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
)

// Store is the transactional record store.
type Store interface {
	// Begin starts a write transaction. The caller must finish it with
	// Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Query returns records matching q from the last committed state.
	// An empty result is not an error.
	Query(ctx context.Context, q query.Query) ([]*schema.Record, error)

	// Count returns the number of records matching p.
	Count(ctx context.Context, p query.Predicate) (int, error)

	// CountStates returns the number of records per state, read from one
	// committed state.
	CountStates(ctx context.Context) (map[schema.State]int, error)

	// Close releases the store.
	Close() error
}

// Tx is a write transaction.
type Tx interface {
	// Upsert inserts r or replaces the record with the same path.
	Upsert(ctx context.Context, r *schema.Record) error

	// Delete removes the record for path. Deleting an absent path is not
	// an error.
	Delete(ctx context.Context, path string) error

	Commit() error
	Rollback() error
}

var (
	// ErrStore matches every StoreError.
	ErrStore = errors.New("store error")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already committed or rolled back")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// Wrap returns err as a StoreError for op, or nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Normalize validates q for a store. All implementations call it first.
func Normalize(q query.Query) (query.Query, error) {
	n, err := q.Normalize()
	if err != nil {
		return q, fmt.Errorf("invalid query: %w", err)
	}
	return n, nil
}
