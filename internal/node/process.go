package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/funcreg"
	"github.com/datakit-labs/flowctl/internal/statement"
)

// mockupMarker flags a process as producing mockup data; such processes
// are suppressed unless explicitly chosen.
const mockupMarker = "mockup"

func isMockup(name string) bool {
	return strings.Contains(strings.ToLower(name), mockupMarker)
}

// Run executes the node's processes in priority order, filtered by the
// pipeline's choose-list, and advances the watermark on success. The
// quota check happens first: an exhausted quota skips the run with a
// warning outcome and leaves the watermark untouched.
func (n *Node) Run(ctx context.Context, ref *catalog.NodeRef) (Outcome, error) {
	start := n.now()

	if n.opts.Mode == ModeCommon && !n.wm.HasQuota() {
		msg := fmt.Sprintf("%s: run quota exhausted (%d/%d), skipping",
			n.table.Name, n.wm.RunCountNow, n.wm.RunCountMax)
		n.logger.Warn("run quota exhausted",
			"run_count_now", n.wm.RunCountNow, "run_count_max", n.wm.RunCountMax)
		return Outcome{Status: control.StatusSuccess, Warned: true, Message: msg}, nil
	}

	runDate, dataDate := n.window()

	if n.opts.Mode == ModeRerun && n.opts.DropBefore {
		if err := n.dropWindow(ctx, dataDate); err != nil {
			return Outcome{Status: control.StatusFailed}, err
		}
	}

	if err := n.pushLog(ctx, control.ActionProcess, runDate, dataDate, 0, control.StatusProcessing, 0); err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	counts := make(map[int]int64)
	var total int64
	for i := range n.table.Processes {
		proc := &n.table.Processes[i]
		if !n.enabled(proc.Name, ref) {
			n.logger.Debug("process skipped", "process", proc.Name)
			continue
		}

		rows, err := n.runProcess(ctx, proc, runDate, dataDate)
		if err != nil {
			elapsed := n.now().Sub(start).Seconds()
			_ = n.pushLog(ctx, control.ActionProcess, runDate, dataDate, total, control.StatusFailed, elapsed)
			return Outcome{Status: control.StatusFailed, Counts: counts, Elapsed: elapsed},
				fmt.Errorf("process %s.%s failed: %w", n.table.Name, proc.Name, err)
		}
		counts[proc.Priority] = rows
		total += rows
		n.logger.Info("process complete", "process", proc.Name, "rows", rows)
	}

	if err := n.advance(ctx, runDate, total); err != nil {
		return Outcome{Status: control.StatusFailed, Counts: counts}, err
	}

	elapsed := n.now().Sub(start).Seconds()
	if err := n.pushLog(ctx, control.ActionProcess, runDate, dataDate, total, control.StatusSuccess, elapsed); err != nil {
		return Outcome{Status: control.StatusFailed, Counts: counts}, err
	}

	return Outcome{
		Status:  control.StatusSuccess,
		Rows:    total,
		Counts:  counts,
		Elapsed: elapsed,
		Message: fmt.Sprintf("%s: %d rows across %d processes", n.table.Name, total, len(counts)),
	}, nil
}

// window resolves the effective (run_date, data_date) pair. Common mode
// reads forward from the watermark's data date, widened by the SLA
// lookback; rerun anchors on the run date and rolls back 1+sla periods
// to rebuild history.
func (n *Node) window() (runDate, dataDate string) {
	runDate = n.runDate

	if n.opts.Mode == ModeRerun {
		date, _ := time.Parse(control.DateLayout, n.runDate)
		dataDate = control.ShiftPeriods(date, n.wm.RunType, -(1 + n.opts.SLA)).Format(control.DateLayout)
		return runDate, dataDate
	}

	dataDate = n.wm.DataDate
	if n.opts.SLA > 0 {
		date, err := time.Parse(control.DateLayout, dataDate)
		if err != nil {
			date, _ = time.Parse(control.DateLayout, n.runDate)
		}
		dataDate = control.ShiftPeriods(date, n.wm.RunType, -n.opts.SLA).Format(control.DateLayout)
	}
	return runDate, dataDate
}

// enabled applies the choose-list and the mockup suppression flag.
func (n *Node) enabled(process string, ref *catalog.NodeRef) bool {
	if ref != nil && !ref.Selected(process) {
		return false
	}
	if n.opts.SkipMockups && isMockup(process) {
		// an explicit choose entry overrides the suppression
		if ref == nil || !chosenExplicitly(ref, process) {
			return false
		}
	}
	return true
}

func chosenExplicitly(ref *catalog.NodeRef, process string) bool {
	for _, c := range ref.Choose {
		if c == process {
			return true
		}
	}
	return false
}

// runProcess executes one process: a bound SQL statement, or the
// load/transform/save cycle for function-backed processes.
func (n *Node) runProcess(ctx context.Context, proc *catalog.Process, runDate, dataDate string) (int64, error) {
	vars := statement.Vars{"run_date": runDate, "data_date": dataDate}

	if !proc.IsFunction() {
		stmt, err := n.bind(proc.Statement, vars)
		if err != nil {
			return 0, err
		}
		rows, err := n.store.Adapter().Exec(ctx, stmt)
		if err != nil {
			return 0, &control.ProcessError{Stmt: stmt, Err: err}
		}
		return rows, nil
	}

	fn, err := funcreg.MustGet(proc.Function)
	if err != nil {
		return 0, err
	}

	load, err := n.bind(proc.Load, vars)
	if err != nil {
		return 0, err
	}
	frame, err := n.loadFrame(ctx, load)
	if err != nil {
		return 0, err
	}

	result, err := fn(ctx, frame)
	if err != nil {
		return 0, fmt.Errorf("function %s failed: %w", proc.Function, err)
	}

	vars["result"] = result
	save, err := n.bind(proc.Save, vars)
	if err != nil {
		return 0, err
	}
	rows, err := n.store.Adapter().Exec(ctx, save)
	if err != nil {
		return 0, &control.ProcessError{Stmt: save, Err: err}
	}
	return rows, nil
}

// loadFrame materializes a load statement into the function calling
// convention's frame shape.
func (n *Node) loadFrame(ctx context.Context, query string) (funcreg.Frame, error) {
	rows, err := n.store.Adapter().Query(ctx, query)
	if err != nil {
		return funcreg.Frame{}, &control.ProcessError{Stmt: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return funcreg.Frame{}, &control.ProcessError{Stmt: query, Err: err}
	}

	frame := funcreg.Frame{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return funcreg.Frame{}, &control.ProcessError{Stmt: query, Err: err}
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		frame.Rows = append(frame.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return funcreg.Frame{}, &control.ProcessError{Stmt: query, Err: err}
	}
	return frame, nil
}

// advance updates the watermark after a successful batch. The data date
// only moves forward; run_count_now increments on a repeat of the
// current run date with rows changed, restarts on a new run date, and
// drops to 0 whenever a batch affects nothing.
func (n *Node) advance(ctx context.Context, runDate string, total int64) error {
	if n.opts.Mode == ModeRerun {
		// rerun rebuilds the past without touching the forward cursor
		n.wm.UpdateDate = n.now().Format(control.TimeLayout)
		return n.store.AdvanceWatermark(ctx, n.wm)
	}

	switch {
	case runDate == n.wm.RunDate:
		if total > 0 {
			n.wm.RunCountNow++
		} else {
			n.wm.RunCountNow = 0
		}
	default:
		n.wm.RunDate = runDate
		if total > 0 {
			n.wm.RunCountNow = 1
		} else {
			n.wm.RunCountNow = 0
		}
	}
	if runDate > n.wm.DataDate {
		n.wm.DataDate = runDate
	}
	n.wm.UpdateDate = n.now().Format(control.TimeLayout)
	return n.store.AdvanceWatermark(ctx, n.wm)
}

// dropWindow deletes the rerun window's rows ahead of reprocessing. The
// delete is bounded by the table's retention columns; without any the
// drop is skipped with a warning since there is no date column to bound
// it safely.
func (n *Node) dropWindow(ctx context.Context, dataDate string) error {
	if len(n.wm.RttColumn) == 0 {
		n.logger.Warn("rerun drop skipped, table has no retention columns")
		return nil
	}
	col := n.wm.RttColumn[0]
	stmt, err := n.bind(fmt.Sprintf("delete from %s where %s >= '%s'",
		statement.Qualified(n.table.Name), col, dataDate), nil)
	if err != nil {
		return err
	}
	rows, err := n.store.Adapter().Exec(ctx, stmt)
	if err != nil {
		return &control.ProcessError{Stmt: stmt, Err: err}
	}
	n.logger.Info("rerun window cleared", "rows", rows, "since", dataDate)
	return nil
}

func (n *Node) pushLog(ctx context.Context, action, runDate, dataDate string, rows int64, status int, elapsed float64) error {
	return n.store.PushLog(ctx, &control.LogEntry{
		TableName:   n.table.Name,
		RunDate:     runDate,
		ActionType:  action,
		DataDate:    dataDate,
		UpdateDate:  n.now().Format(control.TimeLayout),
		RowRecord:   rows,
		ProcessTime: elapsed,
		Status:      status,
	})
}
