package control

import "context"

// TaskRecord is one row of the task log: the put side is written before
// node execution starts, the get side when results come back. Task rows
// are the unit of external progress polling, so failures stay queryable
// after the triggering request has returned.
type TaskRecord struct {
	ProcessID        string
	ProcessNamePut   string
	ProcessNameGet   string
	RunDatePut       []string // full requested date list
	RunDateGet       string   // date currently being processed
	ProcessMessage   string
	ProcessNumberPut int
	ProcessNumberGet int
	ProcessModule    string // component|module
	ProcessType      string // mode|type
	Status           int
	UpdateDate       string
	ProcessTime      float64
}

func (t *TaskRecord) row() Row {
	return Row{
		"process_id":         t.ProcessID,
		"process_name_put":   t.ProcessNamePut,
		"process_name_get":   t.ProcessNameGet,
		"run_date_put":       joinList(t.RunDatePut),
		"run_date_get":       t.RunDateGet,
		"process_message":    t.ProcessMessage,
		"process_number_put": t.ProcessNumberPut,
		"process_number_get": t.ProcessNumberGet,
		"process_module":     t.ProcessModule,
		"process_type":       t.ProcessType,
		"status":             t.Status,
		"update_date":        t.UpdateDate,
		"process_time":       t.ProcessTime,
	}
}

func taskFromRow(r Row) *TaskRecord {
	return &TaskRecord{
		ProcessID:        asString(r["process_id"]),
		ProcessNamePut:   asString(r["process_name_put"]),
		ProcessNameGet:   asString(r["process_name_get"]),
		RunDatePut:       splitList(asString(r["run_date_put"])),
		RunDateGet:       asString(r["run_date_get"]),
		ProcessMessage:   asString(r["process_message"]),
		ProcessNumberPut: asInt(r["process_number_put"]),
		ProcessNumberGet: asInt(r["process_number_get"]),
		ProcessModule:    asString(r["process_module"]),
		ProcessType:      asString(r["process_type"]),
		Status:           asInt(r["status"]),
		UpdateDate:       asString(r["update_date"]),
		ProcessTime:      asFloat(r["process_time"]),
	}
}

// PushTask writes the put side of a task row before execution begins.
func (s *Store) PushTask(ctx context.Context, t *TaskRecord) error {
	return s.Push(ctx, TableTask, t.row(), PushOpts{})
}

// FetchTask updates the get side of a task row after execution.
func (s *Store) FetchTask(ctx context.Context, t *TaskRecord) error {
	return s.Update(ctx, TableTask, Row{
		"process_name_get":   t.ProcessNameGet,
		"run_date_get":       t.RunDateGet,
		"process_message":    t.ProcessMessage,
		"process_number_get": t.ProcessNumberGet,
		"status":             t.Status,
		"update_date":        t.UpdateDate,
		"process_time":       t.ProcessTime,
	}, Filter{List: []any{t.ProcessID}}, "")
}

// Task reads one task row by process id.
func (s *Store) Task(ctx context.Context, processID string) (*TaskRecord, error) {
	rows, err := s.Pull(ctx, TableTask, Filter{List: []any{processID}}, PullOpts{})
	if err != nil {
		return nil, err
	}
	return taskFromRow(rows[0]), nil
}

// ProcessingTasks lists every task row still marked in-progress. The
// stuck-process sweep compares consecutive snapshots of this list.
func (s *Store) ProcessingTasks(ctx context.Context) ([]*TaskRecord, error) {
	rows, err := s.Pull(ctx, TableTask, Filter{}, PullOpts{
		Condition: "status = 2",
		All:       true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*TaskRecord, len(rows))
	for i, r := range rows {
		out[i] = taskFromRow(r)
	}
	return out, nil
}
