package control

import "fmt"

// StateError reports a control-table precondition failure: a required
// watermark or schedule row is missing, or a filter references columns the
// table's key does not have. It surfaces as a failed task, never a crash.
type StateError struct {
	Table  string
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("control state error on %s (%s): %s", e.Table, e.Op, e.Reason)
}

func stateErrf(table, op, format string, args ...any) error {
	return &StateError{Table: table, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ProcessError wraps a driver error together with the statement that
// failed, so the offending SQL is always visible in logs and task rows.
type ProcessError struct {
	Stmt string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("statement failed: %v [%s]", e.Err, e.Stmt)
}

func (e *ProcessError) Unwrap() error { return e.Err }
