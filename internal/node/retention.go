package node

import (
	"context"
	"fmt"
	"time"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/statement"
)

// Retention ages out rows past the table's retention window. A zero
// rtt_value keeps everything and the call is a no-op. Master tables are
// aged directly by their retention columns; transaction tables only lose
// rows already superseded by a newer version of the same key.
func (n *Node) Retention(ctx context.Context) (Outcome, error) {
	start := n.now()

	if n.wm.RttValue == 0 {
		return Outcome{Status: control.StatusSuccess, Message: n.table.Name + ": retention disabled"}, nil
	}

	cutoff, err := n.retentionCutoff()
	if err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	var stmt string
	switch n.wm.TableType {
	case catalog.TableMaster:
		stmt, err = statement.RetentionMaster(n.table, n.wm.RttColumn)
	default:
		stmt, err = statement.RetentionTransaction(n.table)
	}
	if err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	bound, err := n.bind(stmt, statement.Vars{statement.PlaceholderCutoff: cutoff})
	if err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	rows, err := n.store.Adapter().Exec(ctx, bound)
	if err != nil {
		perr := &control.ProcessError{Stmt: bound, Err: err}
		elapsed := n.now().Sub(start).Seconds()
		_ = n.pushLog(ctx, control.ActionRetention, n.runDate, cutoff, 0, control.StatusFailed, elapsed)
		return Outcome{Status: control.StatusFailed}, perr
	}

	elapsed := n.now().Sub(start).Seconds()
	n.logger.Info("retention complete", "cutoff", cutoff, "rows", rows, "elapsed", elapsed)
	if err := n.pushLog(ctx, control.ActionRetention, n.runDate, cutoff, rows, control.StatusSuccess, elapsed); err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	return Outcome{
		Status:  control.StatusSuccess,
		Rows:    rows,
		Elapsed: elapsed,
		Message: fmt.Sprintf("%s: retention removed %d rows before %s", n.table.Name, rows, cutoff),
	}, nil
}

// retentionCutoff subtracts rtt_value run periods from the anchor date:
// the watermark's data date by default, the run date when configured.
func (n *Node) retentionCutoff() (string, error) {
	anchor := n.wm.DataDate
	if n.opts.RetentionByRunDate {
		anchor = n.wm.RunDate
	}
	date, err := time.Parse(control.DateLayout, anchor)
	if err != nil {
		return "", fmt.Errorf("bad retention anchor date %q for %s: %w", anchor, n.table.Name, err)
	}
	return control.ShiftPeriods(date, n.wm.RunType, -n.wm.RttValue).Format(control.DateLayout), nil
}
