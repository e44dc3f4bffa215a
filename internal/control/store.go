// Package control persists the framework's runtime state in four control
// tables living next to the data: the per-table watermark, the per-run
// data log, the task log, and the pipeline schedule/tracking table. The
// tables are the single cross-process coordination point; concurrent
// writers are serialized by the upsert guards, not by in-process locks.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

// Store runs control-table reads and writes through a connected adapter.
type Store struct {
	ad     adapter.Adapter
	schema string
	logger *slog.Logger
}

// NewStore wraps an adapter. schema may be empty for databases without
// schema qualification (sqlite).
func NewStore(ad adapter.Adapter, schema string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{ad: ad, schema: schema, logger: logger}
}

// Adapter exposes the underlying adapter for callers that run generated
// data statements through the same connection.
func (s *Store) Adapter() adapter.Adapter { return s.ad }

// Schema returns the schema the control tables live in.
func (s *Store) Schema() string { return s.schema }

func (s *Store) qualify(table string) string {
	if s.schema == "" {
		return table
	}
	return s.schema + "." + table
}

// Filter restricts Pull/Update to matching primary-key values. Keys is
// the validated form: each named column must belong to the table's
// primary key. List is the shorthand form for single-column keys.
type Filter struct {
	List []any
	Keys map[string][]any
}

// PullOpts tunes a Pull.
type PullOpts struct {
	Columns    []string // selected columns, all when empty
	Condition  string   // free-form SQL appended to the WHERE clause
	ActiveOnly bool     // require active_flag
	All        bool     // return every match instead of exactly one
}

// Row is one control-table row keyed by column name.
type Row map[string]any

// Pull reads control rows. Without opts.All exactly one row is expected:
// zero rows is a StateError so a missing watermark or schedule row is
// always distinguishable from a driver failure.
func (s *Store) Pull(ctx context.Context, table string, filter Filter, opts PullOpts) ([]Row, error) {
	spec, ok := tableSpecs[table]
	if !ok {
		return nil, stateErrf(table, "pull", "not a control table")
	}

	cols := opts.Columns
	if len(cols) == 0 {
		cols = spec.columns
	} else {
		for _, c := range cols {
			if !spec.hasColumn(c) {
				return nil, stateErrf(table, "pull", "column %q does not exist", c)
			}
		}
	}

	where, args, err := s.buildFilter(spec, "pull", filter)
	if err != nil {
		return nil, err
	}
	if opts.ActiveOnly && spec.active {
		where = append(where, "active_flag = ?")
		args = append(args, true)
	}
	if opts.Condition != "" {
		where = append(where, "("+opts.Condition+")")
	}

	query := fmt.Sprintf("select %s from %s", strings.Join(cols, ", "), s.qualify(table))
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}

	rows, err := s.ad.Query(ctx, query, args...)
	if err != nil {
		return nil, &ProcessError{Stmt: query, Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &ProcessError{Stmt: query, Err: err}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProcessError{Stmt: query, Err: err}
	}

	if !opts.All {
		switch len(out) {
		case 1:
		case 0:
			return nil, stateErrf(table, "pull", "no row matches %v", filter)
		default:
			return nil, stateErrf(table, "pull", "%d rows match %v, expected one", len(out), filter)
		}
	}
	return out, nil
}

// PushOpts selects the optional upsert guards.
type PushOpts struct {
	// StatusGuard lets the update through only when the incoming status
	// is failure or in-progress, so a late-arriving success cannot
	// clobber a retry that already started.
	StatusGuard bool
	// RowRecordGuard keeps row_record monotone: the stored count is only
	// replaced by a greater-or-equal one.
	RowRecordGuard bool
}

// Push upserts one control row: insert, or on primary-key conflict update
// every supplied non-key column, subject to the selected guards.
func (s *Store) Push(ctx context.Context, table string, values Row, opts PushOpts) error {
	spec, ok := tableSpecs[table]
	if !ok {
		return stateErrf(table, "push", "not a control table")
	}

	cols := sortedColumns(spec, values)
	if cols == nil {
		return stateErrf(table, "push", "row has unknown or no columns")
	}
	for _, c := range spec.pk {
		if _, ok := values[c]; !ok {
			return stateErrf(table, "push", "missing key column %q", c)
		}
	}

	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		args[i] = values[c]
		marks[i] = "?"
	}

	var set []string
	for _, c := range cols {
		if spec.isPK(c) {
			continue
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	stmt := fmt.Sprintf("insert into %s as tgt (%s) values (%s)",
		s.qualify(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(set) == 0 {
		stmt += fmt.Sprintf(" on conflict (%s) do nothing", strings.Join(spec.pk, ", "))
	} else {
		stmt += fmt.Sprintf(" on conflict (%s) do update set %s",
			strings.Join(spec.pk, ", "), strings.Join(set, ", "))
		var guards []string
		if opts.StatusGuard && spec.hasColumn("status") {
			guards = append(guards, fmt.Sprintf("excluded.status in (%d, %d)", StatusFailed, StatusProcessing))
		}
		if opts.RowRecordGuard && spec.hasColumn("row_record") {
			guards = append(guards, "excluded.row_record >= tgt.row_record")
		}
		if len(guards) > 0 {
			stmt += " where " + strings.Join(guards, " and ")
		}
	}

	if _, err := s.ad.Exec(ctx, stmt, args...); err != nil {
		return &ProcessError{Stmt: stmt, Err: err}
	}
	return nil
}

// Update sets the supplied non-key columns on the rows the filter matches.
func (s *Store) Update(ctx context.Context, table string, values Row, filter Filter, condition string) error {
	spec, ok := tableSpecs[table]
	if !ok {
		return stateErrf(table, "update", "not a control table")
	}

	cols := sortedColumns(spec, values)
	if len(cols) == 0 {
		return stateErrf(table, "update", "nothing to set")
	}

	var set []string
	var args []any
	for _, c := range cols {
		if spec.isPK(c) {
			return stateErrf(table, "update", "key column %q cannot be updated", c)
		}
		set = append(set, c+" = ?")
		args = append(args, values[c])
	}

	where, whereArgs, err := s.buildFilter(spec, "update", filter)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)
	if condition != "" {
		where = append(where, "("+condition+")")
	}

	stmt := fmt.Sprintf("update %s set %s", s.qualify(table), strings.Join(set, ", "))
	if len(where) > 0 {
		stmt += " where " + strings.Join(where, " and ")
	}

	if _, err := s.ad.Exec(ctx, stmt, args...); err != nil {
		return &ProcessError{Stmt: stmt, Err: err}
	}
	return nil
}

// buildFilter renders a Filter into WHERE fragments. The list form is
// only valid on single-column keys; the keyed form is validated against
// the actual key columns.
func (s *Store) buildFilter(spec tableSpec, op string, filter Filter) ([]string, []any, error) {
	var where []string
	var args []any

	if len(filter.List) > 0 {
		if len(spec.pk) != 1 {
			return nil, nil, stateErrf(spec.name, op,
				"list filter needs a single-column key, %s has %d", spec.name, len(spec.pk))
		}
		marks := make([]string, len(filter.List))
		for i, v := range filter.List {
			marks[i] = "?"
			args = append(args, v)
		}
		where = append(where, fmt.Sprintf("%s in (%s)", spec.pk[0], strings.Join(marks, ", ")))
	}

	if len(filter.Keys) > 0 {
		keys := make([]string, 0, len(filter.Keys))
		for k := range filter.Keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !spec.isPK(k) {
				return nil, nil, stateErrf(spec.name, op, "filter column %q is not part of the key", k)
			}
			vals := filter.Keys[k]
			if len(vals) == 0 {
				continue
			}
			marks := make([]string, len(vals))
			for i, v := range vals {
				marks[i] = "?"
				args = append(args, v)
			}
			where = append(where, fmt.Sprintf("%s in (%s)", k, strings.Join(marks, ", ")))
		}
	}
	return where, args, nil
}

// sortedColumns returns the known columns of a value map in spec order,
// or nil when an unknown column is present.
func sortedColumns(spec tableSpec, values Row) []string {
	for c := range values {
		if !spec.hasColumn(c) {
			return nil
		}
	}
	var cols []string
	for _, c := range spec.columns {
		if _, ok := values[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// normalize folds driver-specific scan types into comparable Go values.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return v
	}
}
