package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
)

var _ store.Store = (*DB)(nil)

// Begin starts a write transaction. On SQLite it takes the write lock
// immediately, waiting up to the busy timeout for another writer.
func (db *DB) Begin(ctx context.Context) (store.Tx, error) {
	if db.conn == nil {
		return nil, store.Wrap("begin", store.ErrClosed)
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &dbTx{db: db, tx: tx}, nil
}

// Query returns the records matching q.
func (db *DB) Query(ctx context.Context, q query.Query) ([]*schema.Record, error) {
	if db.conn == nil {
		return nil, store.Wrap("query", store.ErrClosed)
	}
	n, err := store.Normalize(q)
	if err != nil {
		return nil, err
	}
	stmt, args, err := selectSQL(db.dialect, db.stmts.columns, n)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, store.Wrap("query", fmt.Errorf("failed to query records: %w", err))
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, store.Wrap("query", err)
	}
	return records, nil
}

// Count returns the number of records matching p.
func (db *DB) Count(ctx context.Context, p query.Predicate) (int, error) {
	if db.conn == nil {
		return 0, store.Wrap("count", store.ErrClosed)
	}
	n, err := p.Normalize()
	if err != nil {
		return 0, fmt.Errorf("invalid query: %w", err)
	}
	stmt, args, err := countSQL(db.dialect, n)
	if err != nil {
		return 0, err
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, store.Wrap("count", fmt.Errorf("failed to count records: %w", err))
	}
	return count, nil
}

// CountStates counts records per state with one grouped SELECT.
func (db *DB) CountStates(ctx context.Context) (map[schema.State]int, error) {
	if db.conn == nil {
		return nil, store.Wrap("count", store.ErrClosed)
	}
	rows, err := db.conn.QueryContext(ctx, countStatesSQL(db.dialect))
	if err != nil {
		return nil, store.Wrap("count", fmt.Errorf("failed to count records: %w", err))
	}
	defer rows.Close()

	counts := make(map[schema.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, store.Wrap("count", fmt.Errorf("failed to scan count: %w", err))
		}
		counts[schema.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("count", fmt.Errorf("error iterating counts: %w", err))
	}
	return counts, nil
}

// scanRecords reads rows selected with statements.columns.
func scanRecords(rows *sql.Rows) ([]*schema.Record, error) {
	fields := schema.Fields()
	var records []*schema.Record
	for rows.Next() {
		r := &schema.Record{}
		dest := make([]any, len(fields))
		for i, f := range fields {
			dest[i] = f.Ptr(r)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

type dbTx struct {
	db   *DB
	tx   *sql.Tx
	done bool
}

func (t *dbTx) Upsert(ctx context.Context, r *schema.Record) error {
	if t.done {
		return store.Wrap("upsert", store.ErrTxDone)
	}
	if err := r.Validate(); err != nil {
		return store.Wrap("upsert", fmt.Errorf("invalid record: %w", err))
	}
	fields := schema.Fields()
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f.Value(r)
	}
	if _, err := t.tx.ExecContext(ctx, t.db.stmts.upsert, args...); err != nil {
		return store.Wrap("upsert", fmt.Errorf("failed to upsert record %s: %w", r.Path, err))
	}
	return nil
}

func (t *dbTx) Delete(ctx context.Context, path string) error {
	if t.done {
		return store.Wrap("delete", store.ErrTxDone)
	}
	if _, err := t.tx.ExecContext(ctx, t.db.stmts.delete, path); err != nil {
		return store.Wrap("delete", fmt.Errorf("failed to delete record %s: %w", path, err))
	}
	return nil
}

func (t *dbTx) Commit() error {
	if t.done {
		return store.Wrap("commit", store.ErrTxDone)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return store.Wrap("commit", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (t *dbTx) Rollback() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return store.Wrap("rollback", fmt.Errorf("failed to roll back transaction: %w", err))
	}
	return nil
}
