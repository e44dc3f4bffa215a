// Package duckdb provides a DuckDB database adapter for flowctl.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb database/sql driver

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect opens the DuckDB database file (or an in-memory database when the
// path is empty).
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("opening duckdb database", slog.String("path", cfg.Path))

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb database: %w", err)
	}

	a.Conn = db
	a.Cfg = cfg
	return nil
}

// TableExists reports whether the table is present in the configured schema.
func (a *Adapter) TableExists(ctx context.Context, table string) (bool, error) {
	if a.Conn == nil {
		return false, fmt.Errorf("database connection not established")
	}

	schema, name := adapter.ParseQualifiedName(table, a.defaultSchema())
	var count int
	err := a.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

func (a *Adapter) defaultSchema() string {
	if a.Cfg.Schema != "" {
		return a.Cfg.Schema
	}
	return "main"
}

var _ adapter.Adapter = (*Adapter)(nil)
