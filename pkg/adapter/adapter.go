// Package adapter provides database adapter interfaces and shared
// implementations for flowctl's control framework.
//
// This package contains the public contract that all database adapters must
// implement. Concrete adapter implementations are in pkg/adapters/
// subdirectories and register themselves via init().
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Config holds connection settings for a database adapter.
type Config struct {
	Type string `koanf:"type"` // postgres, sqlite, duckdb

	// File-based databases (SQLite, DuckDB)
	Path string `koanf:"path"` // file path, empty or ":memory:" for in-memory

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`

	// Common
	Schema string `koanf:"schema"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`
}

// Adapter defines the interface that all database adapters must implement.
type Adapter interface {
	// Connect establishes a connection using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows and reports the
	// number of rows affected. Placeholders use '?' regardless of dialect;
	// adapters rebind as needed.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Query executes a statement that returns rows.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// QueryRow executes a statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// TableExists reports whether a table is present in the current schema.
	TableExists(ctx context.Context, table string) (bool, error)

	// DB exposes the underlying pool for tooling (migrations).
	DB() *sql.DB

	// DialectName returns the SQL dialect identifier for this adapter.
	DialectName() string
}

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, Query and QueryRow implementations.
type BaseSQLAdapter struct {
	Conn   *sql.DB
	Cfg    Config
	Logger *slog.Logger

	// BindDollar rewrites '?' placeholders to '$1..$n' before execution.
	BindDollar bool
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.Conn != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.Conn.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if b.Conn == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	res, err := b.Conn.ExecContext(ctx, b.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		return 0, nil
	}
	return affected, nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if b.Conn == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration
	return b.Conn.QueryContext(ctx, b.rebind(query), args...)
}

// QueryRow executes a SQL statement expected to return at most one row.
func (b *BaseSQLAdapter) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.Conn.QueryRowContext(ctx, b.rebind(query), args...)
}

// DB exposes the underlying connection pool.
func (b *BaseSQLAdapter) DB() *sql.DB {
	return b.Conn
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.Conn != nil
}

// rebind converts '?' placeholders to '$n' form when the dialect needs it.
// Quoted string literals are left untouched.
func (b *BaseSQLAdapter) rebind(query string) string {
	if !b.BindDollar || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			sb.WriteByte(c)
		case c == '?' && !inString:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// ParseQualifiedName splits a table reference into schema and name.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, table
}
