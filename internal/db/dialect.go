package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qass/buffercache/internal/schema"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	return d == SQLite || d == Postgres || d == MySQL
}

// ParseDialect parses a dialect name. "sqlite3", "postgresql", "pgx" and
// "mariadb" are accepted as aliases.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return "", fmt.Errorf("unknown database dialect %q", s)
}

const recordsTable = "records"

// quote quotes an identifier.
func (d Dialect) quote(name string) string {
	if d == MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// columnType returns the column definition for f.
func (d Dialect) columnType(f schema.Field) string {
	keyed := f.Name == schema.PathField || f.Indexed
	switch d {
	case Postgres:
		switch f.Kind {
		case schema.KindInt:
			return "BIGINT NOT NULL DEFAULT 0"
		case schema.KindFloat:
			return "DOUBLE PRECISION NOT NULL DEFAULT 0"
		}
		return `TEXT COLLATE "C" NOT NULL DEFAULT ''`
	case MySQL:
		switch f.Kind {
		case schema.KindInt:
			return "BIGINT NOT NULL DEFAULT 0"
		case schema.KindFloat:
			return "DOUBLE NOT NULL DEFAULT 0"
		}
		// 768 utf8mb4 characters is the InnoDB index key limit
		if keyed {
			return "VARCHAR(768) NOT NULL DEFAULT ''"
		}
		return "TEXT NOT NULL"
	}
	switch f.Kind {
	case schema.KindInt:
		return "INTEGER NOT NULL DEFAULT 0"
	case schema.KindFloat:
		return "REAL NOT NULL DEFAULT 0"
	}
	return "TEXT NOT NULL DEFAULT ''"
}

// statements holds the SQL generated once per dialect.
type statements struct {
	schema  []string
	columns string // select list in schema.Fields order
	upsert  string
	delete  string
}

func buildStatements(d Dialect) statements {
	fields := schema.Fields()
	table := d.quote(recordsTable)

	var defs, cols, marks, sets []string
	for i, f := range fields {
		col := d.quote(f.Name)
		def := col + " " + d.columnType(f)
		if f.Name == schema.PathField {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
		cols = append(cols, col)
		marks = append(marks, d.placeholder(i+1))
		if f.Name == schema.PathField {
			continue
		}
		switch d {
		case MySQL:
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
	if d == MySQL {
		create += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"
	}
	stmts := statements{
		schema:  []string{create},
		columns: strings.Join(cols, ", "),
		delete:  fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, d.quote(schema.PathField), d.placeholder(1)),
	}

	for _, f := range fields {
		if !f.Indexed {
			continue
		}
		name := d.quote("idx_" + recordsTable + "_" + f.Name)
		if d == MySQL {
			stmts.schema = append(stmts.schema, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, d.quote(f.Name)))
		} else {
			stmts.schema = append(stmts.schema, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, d.quote(f.Name)))
		}
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, stmts.columns, strings.Join(marks, ", "))
	if d == MySQL {
		stmts.upsert = insert + "\nON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	} else {
		stmts.upsert = insert + fmt.Sprintf("\nON CONFLICT(%s) DO UPDATE SET ", d.quote(schema.PathField)) + strings.Join(sets, ", ")
	}
	return stmts
}
