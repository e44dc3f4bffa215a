// Package node runs one catalog table through its refresh lifecycle:
// ensure the table exists, ensure its watermark row exists, execute its
// processes in priority order, and advance the watermark. Retention and
// backup are separate passes over the same node.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/statement"
)

// Run modes.
const (
	ModeCommon = "common"
	ModeRerun  = "rerun"
)

// Options tune a node run.
type Options struct {
	Schema     string // schema the data tables live in
	Database   string // bound into {database_name}
	SystemType string // recorded on auto-registered watermarks
	Mode       string // common|rerun, default common
	SLA        int    // lookback periods included in the run window

	DropBefore         bool // rerun: delete the run window's rows first
	SkipMockups        bool // suppress mockup processes
	RetentionByRunDate bool // retention cutoff from run_date instead of data_date

	Params statement.Vars // caller-supplied placeholder values
}

// Outcome is the result of one node action.
type Outcome struct {
	Status  int
	Rows    int64
	Warned  bool // quota exhausted, skipped without failure
	Message string
	Counts  map[int]int64 // process priority -> affected rows
	Elapsed float64
}

// Node is one table bound to a run date, with its watermark loaded.
type Node struct {
	store   *control.Store
	table   *catalog.Table
	wm      *control.Watermark
	runDate string
	opts    Options
	logger  *slog.Logger

	now func() time.Time
}

// New builds a node for a table and run date. Construction walks the
// auto-create path: a missing table is created (and seeded), a missing
// watermark row is registered with the catalog defaults. In common mode
// a run date behind the watermark is rejected; rerun is the escape hatch
// for reprocessing the past.
func New(ctx context.Context, store *control.Store, tbl *catalog.Table, runDate string, opts Options, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Mode == "" {
		opts.Mode = ModeCommon
	}

	n := &Node{
		store:   store,
		table:   tbl,
		runDate: runDate,
		opts:    opts,
		logger:  logger.With("table", tbl.Name, "run_date", runDate),
		now:     time.Now,
	}

	if _, err := time.Parse(control.DateLayout, runDate); err != nil {
		return nil, fmt.Errorf("bad run date %q: %w", runDate, err)
	}

	if err := n.ensureTable(ctx); err != nil {
		return nil, err
	}
	if err := n.ensureWatermark(ctx); err != nil {
		return nil, err
	}

	if opts.Mode == ModeCommon && runDate < n.wm.RunDate {
		return nil, fmt.Errorf("run date %s is behind watermark %s for %s; use rerun mode to reprocess the past",
			runDate, n.wm.RunDate, tbl.Name)
	}
	return n, nil
}

// Table returns the node's catalog table.
func (n *Node) Table() *catalog.Table { return n.table }

// Watermark returns the loaded watermark row.
func (n *Node) Watermark() *control.Watermark { return n.wm }

func (n *Node) ensureTable(ctx context.Context) error {
	ad := n.store.Adapter()
	name, err := n.bind(statement.Qualified(n.table.Name), nil)
	if err != nil {
		return err
	}
	exists, err := ad.TableExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", n.table.Name, err)
	}
	if exists {
		return nil
	}

	n.logger.Info("creating table")
	create, err := n.bind(statement.Create(n.table), nil)
	if err != nil {
		return err
	}
	if _, err := ad.Exec(ctx, create); err != nil {
		return &control.ProcessError{Stmt: create, Err: err}
	}

	if seed, ok := statement.Seed(n.table); ok {
		bound, err := n.bind(seed, nil)
		if err != nil {
			return err
		}
		rows, err := ad.Exec(ctx, bound)
		if err != nil {
			return &control.ProcessError{Stmt: bound, Err: err}
		}
		n.logger.Info("seeded initial data", "rows", rows)
	}
	return nil
}

func (n *Node) ensureWatermark(ctx context.Context) error {
	ok, err := n.store.HasWatermark(ctx, n.table.Name)
	if err != nil {
		return err
	}
	if !ok {
		n.logger.Info("registering watermark")
		wm := control.WatermarkDefaults(n.table, n.opts.SystemType, n.runDate, n.now())
		if err := n.store.RegisterWatermark(ctx, wm); err != nil {
			return err
		}
	}
	wm, err := n.store.Watermark(ctx, n.table.Name)
	if err != nil {
		return err
	}
	n.wm = wm
	return nil
}

// bind substitutes placeholders into a statement: the node's standard
// vars (schema, database, table, dates, watermark) under the caller's
// extra vars. An empty schema drops the qualification entirely.
func (n *Node) bind(stmt string, extra statement.Vars) (string, error) {
	if n.opts.Schema == "" {
		stmt = strings.ReplaceAll(stmt, "{"+statement.PlaceholderSchema+"}.", "")
	}
	vars := statement.Vars{
		statement.PlaceholderSchema:   n.opts.Schema,
		statement.PlaceholderDatabase: n.opts.Database,
		"table_name":                  n.table.Name,
		"run_date":                    n.runDate,
	}
	if n.wm != nil {
		vars["data_date"] = n.wm.DataDate
		vars["watermark"] = n.wm.DataDate
	}
	for k, v := range n.opts.Params {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}
	return statement.Bind(stmt, vars)
}
