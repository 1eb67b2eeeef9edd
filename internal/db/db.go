// Package db stores buffer records in a SQL database.
//
// SQLite (embedded, via ncruces/go-sqlite3) is the default and needs no
// server. PostgreSQL (pgx) and MySQL (go-sql-driver) share the same table
// layout, generated from the record field table in package schema.
//
// Architecture:
//   - Database file: .bufcache/index.db (SQLite)
//   - WAL mode: concurrent readers during a sync commit
//   - Schema: one records table keyed by absolute path
//   - Indexes: one per indexed field (directory, state, process, ...)
//
// DB implements store.Store. Every synchronize pass is a single SQL
// transaction; readers see either the state before it or after it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Config selects and configures a database.
type Config struct {
	Dialect Dialect

	// DSN is a file path for SQLite, a connection URL or keyword string for
	// PostgreSQL, and a go-sql-driver DSN for MySQL.
	DSN string

	// Logger receives warnings from Close. Nil discards them.
	Logger *slog.Logger
}

// DB wraps a SQL connection pool holding the records table.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	path    string
	logger  *slog.Logger
	stmts   statements
}

// Open opens (creating if needed) the SQLite database at path.
//
// The caller MUST call Close() when done to ensure the WAL is checkpointed.
//
// Example:
//
//	db, err := db.Open(".bufcache/index.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	return Connect(context.Background(), Config{Dialect: SQLite, DSN: path})
}

// Connect opens the database described by cfg and verifies the connection.
// It does not create the schema; call InitSchema for that.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = SQLite
	}
	if !cfg.Dialect.Valid() {
		return nil, fmt.Errorf("unknown database dialect %q", cfg.Dialect)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := openConn(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:    conn,
		dialect: cfg.Dialect,
		logger:  logger.With("component", "db", "dialect", string(cfg.Dialect)),
		stmts:   buildStatements(cfg.Dialect),
	}
	if cfg.Dialect == SQLite {
		db.path = cfg.DSN
		// journal mode is persistent, so setting it once covers every connection
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	return db, nil
}

// sqliteURI percent-encodes path for a file: URI, so names containing
// '?', '#' or '%' are not taken for the query, fragment or an escape.
func sqliteURI(path string) string {
	return "file:" + (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath()
}

func openConn(d Dialect, dsn string) (*sql.DB, error) {
	switch d {
	case SQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// per-connection pragmas go in the DSN so every pooled connection gets them
		connStr := sqliteURI(dsn) + "?_pragma=busy_timeout(5000)&_txlock=immediate"
		conn, err := sql.Open("sqlite3", connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return conn, nil

	case Postgres:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres connection string: %w", err)
		}
		return stdlib.OpenDB(*cfg), nil

	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// binary collation keeps path ordering and prefix matching bytewise
		cfg.Collation = "utf8mb4_bin"
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sql.OpenDB(connector), nil
	}
	return nil, fmt.Errorf("unknown database dialect %q", d)
}

// Dialect returns the SQL dialect of the database.
func (db *DB) Dialect() Dialect { return db.dialect }

// Path returns the SQLite file path, or "" for server databases.
func (db *DB) Path() string { return db.path }

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection. On SQLite it checkpoints the WAL
// first so the database file is complete on its own.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.dialect == SQLite {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			db.logger.Warn("failed to checkpoint WAL", "error", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the records table and its indexes if they don't exist.
// It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	// one statement per Exec: neither pgx nor go-sql-driver accept batches
	for _, stmt := range db.stmts.schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			if db.dialect == MySQL && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// isDuplicateIndex reports MySQL error 1061, returned by CREATE INDEX for an
// index that already exists. MySQL has no CREATE INDEX IF NOT EXISTS.
func isDuplicateIndex(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1061
}
