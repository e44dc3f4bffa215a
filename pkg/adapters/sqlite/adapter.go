// Package sqlite provides a SQLite database adapter for flowctl.
// It is the default adapter for local development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
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
	return "sqlite"
}

// Connect opens the SQLite database file (or an in-memory database when the
// path is empty or ":memory:").
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("opening sqlite database", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// The modernc driver misbehaves with concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	a.Conn = db
	a.Cfg = cfg
	return nil
}

// TableExists reports whether the table is present.
func (a *Adapter) TableExists(ctx context.Context, table string) (bool, error) {
	if a.Conn == nil {
		return false, fmt.Errorf("database connection not established")
	}

	_, name := adapter.ParseQualifiedName(table, "main")
	var count int
	err := a.Conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

var _ adapter.Adapter = (*Adapter)(nil)
