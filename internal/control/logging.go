package control

import "context"

// Action types recorded in the run log.
const (
	ActionProcess   = "process"
	ActionRetention = "retention"
	ActionBackup    = "backup"
	ActionSetup     = "setup"
	ActionIngest    = "ingest"
)

// LogEntry is one row of the per-run data log: one (table, run date,
// action) outcome with its affected row count and elapsed seconds.
type LogEntry struct {
	TableName   string
	RunDate     string
	ActionType  string
	DataDate    string
	UpdateDate  string
	RowRecord   int64
	ProcessTime float64
	Status      int
}

func (e *LogEntry) row() Row {
	return Row{
		"table_name":   e.TableName,
		"run_date":     e.RunDate,
		"action_type":  e.ActionType,
		"data_date":    e.DataDate,
		"update_date":  e.UpdateDate,
		"row_record":   e.RowRecord,
		"process_time": e.ProcessTime,
		"status":       e.Status,
	}
}

func logEntryFromRow(r Row) *LogEntry {
	return &LogEntry{
		TableName:   asString(r["table_name"]),
		RunDate:     asString(r["run_date"]),
		ActionType:  asString(r["action_type"]),
		DataDate:    asString(r["data_date"]),
		UpdateDate:  asString(r["update_date"]),
		RowRecord:   int64(asInt(r["row_record"])),
		ProcessTime: asFloat(r["process_time"]),
		Status:      asInt(r["status"]),
	}
}

// PushLog upserts a run-log row with the row-record monotonicity guard,
// so a stale writer can never shrink a recorded count.
func (s *Store) PushLog(ctx context.Context, e *LogEntry) error {
	return s.Push(ctx, TableLogging, e.row(), PushOpts{RowRecordGuard: true})
}

// Logs reads every run-log row for a table, newest run dates included.
func (s *Store) Logs(ctx context.Context, tableName string) ([]*LogEntry, error) {
	rows, err := s.Pull(ctx, TableLogging,
		Filter{Keys: map[string][]any{"table_name": {tableName}}}, PullOpts{All: true})
	if err != nil {
		return nil, err
	}
	out := make([]*LogEntry, len(rows))
	for i, r := range rows {
		out[i] = logEntryFromRow(r)
	}
	return out, nil
}
