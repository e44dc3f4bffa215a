package control

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs all pending control-table migrations through goose.
func Migrate(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect %q: %w", dialect, err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run control-table migrations: %w", err)
	}
	return nil
}

// Bootstrap creates the control tables by executing the embedded Up
// statements directly. Used for dialects goose has no driver support for
// (duckdb); the statements are plain DDL with if-not-exists guards, so
// repeated runs are safe.
func Bootstrap(ctx context.Context, ad adapter.Adapter) error {
	stmts, err := upStatements()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := ad.Exec(ctx, stmt); err != nil {
			return &ProcessError{Stmt: stmt, Err: err}
		}
	}
	return nil
}

// upStatements extracts the Up-section statements from the embedded
// migration files, in file order.
func upStatements() ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var stmts []string
	for _, name := range names {
		data, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		body := string(data)
		if i := strings.Index(body, "-- +goose Up"); i >= 0 {
			body = body[i+len("-- +goose Up"):]
		}
		if i := strings.Index(body, "-- +goose Down"); i >= 0 {
			body = body[:i]
		}
		for _, stmt := range strings.Split(body, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts, nil
}
