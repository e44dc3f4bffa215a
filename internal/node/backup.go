package node

import (
	"context"
	"fmt"

	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/statement"
)

// Backup copies the table into its backup twin. exists reports whether a
// name is already taken in the catalog; a collision with the default
// backup name fails before anything is created, so a real table can
// never be silently overwritten.
func (n *Node) Backup(ctx context.Context, exists func(name string) bool) (Outcome, error) {
	start := n.now()

	backup := statement.BackupName(n.table.Name)
	if exists != nil && exists(backup) {
		return Outcome{Status: control.StatusFailed},
			&control.StateError{Table: n.table.Name, Op: "backup",
				Reason: fmt.Sprintf("backup name %s collides with an existing catalog table", backup)}
	}

	ad := n.store.Adapter()

	create, err := n.bind(statement.CreateBackup(n.table, backup), nil)
	if err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}
	if _, err := ad.Exec(ctx, create); err != nil {
		return Outcome{Status: control.StatusFailed}, &control.ProcessError{Stmt: create, Err: err}
	}

	copyStmt, err := n.bind(statement.CopyInto(n.table.Name, backup), nil)
	if err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}
	rows, err := ad.Exec(ctx, copyStmt)
	if err != nil {
		elapsed := n.now().Sub(start).Seconds()
		_ = n.pushLog(ctx, control.ActionBackup, n.runDate, n.wm.DataDate, 0, control.StatusFailed, elapsed)
		return Outcome{Status: control.StatusFailed}, &control.ProcessError{Stmt: copyStmt, Err: err}
	}

	elapsed := n.now().Sub(start).Seconds()
	n.logger.Info("backup complete", "backup", backup, "rows", rows, "elapsed", elapsed)
	if err := n.pushLog(ctx, control.ActionBackup, n.runDate, n.wm.DataDate, rows, control.StatusSuccess, elapsed); err != nil {
		return Outcome{Status: control.StatusFailed}, err
	}

	return Outcome{
		Status:  control.StatusSuccess,
		Rows:    rows,
		Elapsed: elapsed,
		Message: fmt.Sprintf("%s: backed up %d rows to %s", n.table.Name, rows, backup),
	}, nil
}
