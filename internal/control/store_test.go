package control

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakit-labs/flowctl/pkg/adapter"
	"github.com/datakit-labs/flowctl/pkg/adapters/sqlite"
)

// newSQLiteStore opens an in-memory database with the control tables
// bootstrapped.
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ad := sqlite.New(nil)
	require.NoError(t, ad.Connect(context.Background(), adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = ad.Close() })
	require.NoError(t, Bootstrap(context.Background(), ad))
	return NewStore(ad, "", nil)
}

func testWatermark(name string) *Watermark {
	return &Watermark{
		SystemType:  "framework",
		TableName:   name,
		TableType:   "transaction",
		DataDate:    "2024-06-01",
		UpdateDate:  "2024-06-01 08:00:00",
		RunDate:     "2024-06-01",
		RunType:     "daily",
		RunCountMax: 3,
		RttValue:    90,
		RttColumn:   []string{"summary_date"},
		ActiveFlag:  true,
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	ok, err := s.HasWatermark(ctx, "ai_sales_summary")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RegisterWatermark(ctx, testWatermark("ai_sales_summary")))

	got, err := s.Watermark(ctx, "ai_sales_summary")
	require.NoError(t, err)
	assert.Equal(t, "transaction", got.TableType)
	assert.Equal(t, []string{"summary_date"}, got.RttColumn)
	assert.Equal(t, 0, got.RunCountNow)
	assert.True(t, got.ActiveFlag)
	assert.True(t, got.HasQuota())

	got.DataDate = "2024-06-02"
	got.RunDate = "2024-06-02"
	got.RunCountNow = 1
	got.UpdateDate = "2024-06-02 08:00:00"
	require.NoError(t, s.AdvanceWatermark(ctx, got))

	got, err = s.Watermark(ctx, "ai_sales_summary")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", got.DataDate)
	assert.Equal(t, 1, got.RunCountNow)
	// non-cursor fields are untouched by the advance
	assert.Equal(t, 90, got.RttValue)
}

func TestWatermarkQuota(t *testing.T) {
	w := &Watermark{RunCountMax: 0, RunCountNow: 100}
	assert.True(t, w.HasQuota())

	w = &Watermark{RunCountMax: 2, RunCountNow: 1}
	assert.True(t, w.HasQuota())

	w.RunCountNow = 2
	assert.False(t, w.HasQuota())
}

func TestPushRowRecordMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	entry := &LogEntry{
		TableName:  "ai_sales_summary",
		RunDate:    "2024-06-01",
		ActionType: ActionProcess,
		RowRecord:  10,
		Status:     StatusSuccess,
	}
	require.NoError(t, s.PushLog(ctx, entry))

	// a stale writer with a smaller count loses
	entry.RowRecord = 5
	require.NoError(t, s.PushLog(ctx, entry))

	logs, err := s.Logs(ctx, "ai_sales_summary")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(10), logs[0].RowRecord)

	// a larger count wins
	entry.RowRecord = 12
	require.NoError(t, s.PushLog(ctx, entry))
	logs, err = s.Logs(ctx, "ai_sales_summary")
	require.NoError(t, err)
	assert.Equal(t, int64(12), logs[0].RowRecord)
}

func TestPushStatusGuard(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	row := Row{
		"table_name":  "src_orders",
		"run_date":    "2024-06-01",
		"action_type": ActionProcess,
		"row_record":  int64(0),
		"status":      StatusProcessing,
	}
	require.NoError(t, s.Push(ctx, TableLogging, row, PushOpts{}))

	// a late-arriving success may not clobber the in-flight retry
	row["status"] = StatusSuccess
	require.NoError(t, s.Push(ctx, TableLogging, row, PushOpts{StatusGuard: true}))

	logs, err := s.Logs(ctx, "src_orders")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, StatusProcessing, logs[0].Status)

	// a failure does get through the guard
	row["status"] = StatusFailed
	require.NoError(t, s.Push(ctx, TableLogging, row, PushOpts{StatusGuard: true}))
	logs, err = s.Logs(ctx, "src_orders")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, logs[0].Status)
}

func TestPullFilters(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.RegisterWatermark(ctx, testWatermark("src_orders")))
	inactive := testWatermark("src_legacy")
	inactive.ActiveFlag = false
	require.NoError(t, s.RegisterWatermark(ctx, inactive))

	// list filter on a multi-column key is rejected
	_, err := s.Pull(ctx, TableLogging, Filter{List: []any{"x"}}, PullOpts{})
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "single-column key")

	// keyed filter validates column membership
	_, err = s.Pull(ctx, TableWatermark, Filter{Keys: map[string][]any{"run_type": {"daily"}}}, PullOpts{})
	require.ErrorAs(t, err, &serr)

	// missing row without All is a state error, not an empty result
	_, err = s.Pull(ctx, TableWatermark, Filter{List: []any{"nope"}}, PullOpts{})
	require.ErrorAs(t, err, &serr)

	// active-only scan skips the inactive row
	wms, err := s.Watermarks(ctx)
	require.NoError(t, err)
	require.Len(t, wms, 1)
	assert.Equal(t, "src_orders", wms[0].TableName)

	// column projection
	rows, err := s.Pull(ctx, TableWatermark, Filter{List: []any{"src_orders"}},
		PullOpts{Columns: []string{"table_name", "run_count_max"}})
	require.NoError(t, err)
	assert.Len(t, rows[0], 2)
}

func TestUpdateRejectsKeyColumns(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	err := s.Update(ctx, TableWatermark, Row{"table_name": "x"}, Filter{List: []any{"y"}}, "")
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "cannot be updated")
}

func TestScheduleTracking(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.RegisterSchedule(ctx, &ScheduleRow{
		PipelineID:   "PL-0042",
		PipelineName: "daily_sales",
		PipelineType: "analytic",
		Tracking:     TrackingSuccess,
		ActiveFlag:   true,
		UpdateDate:   "2024-06-01 08:00:00",
	}))

	row, err := s.Schedule(ctx, "PL-0042")
	require.NoError(t, err)
	assert.Equal(t, TrackingSuccess, row.Tracking)

	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetTracking(ctx, "PL-0042", TrackingProcessing, now))

	row, err = s.Schedule(ctx, "PL-0042")
	require.NoError(t, err)
	assert.Equal(t, TrackingProcessing, row.Tracking)
	assert.Equal(t, "2024-06-02 09:00:00", row.UpdateDate)

	// missing schedule row surfaces as a state error
	_, err = s.Schedule(ctx, "PL-9999")
	var serr *StateError
	require.ErrorAs(t, err, &serr)
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	rec := &TaskRecord{
		ProcessID:        "abc123",
		ProcessNamePut:   "ai_sales_summary",
		RunDatePut:       []string{"2024-06-01", "2024-06-02"},
		ProcessModule:    "framework",
		ProcessType:      "common",
		Status:           StatusProcessing,
		UpdateDate:       "2024-06-01 08:00:00",
		ProcessNumberPut: 2,
	}
	require.NoError(t, s.PushTask(ctx, rec))

	stuck, err := s.ProcessingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "abc123", stuck[0].ProcessID)

	rec.ProcessNameGet = "ai_sales_summary"
	rec.RunDateGet = "2024-06-02"
	rec.ProcessMessage = "ok"
	rec.ProcessNumberGet = 2
	rec.Status = StatusSuccess
	rec.ProcessTime = 1.5
	require.NoError(t, s.FetchTask(ctx, rec))

	got, err := s.Task(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01", "2024-06-02"}, got.RunDatePut)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, 1.5, got.ProcessTime)

	stuck, err = s.ProcessingTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestPushGuardSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ad := sqlite.New(nil)
	ad.Conn = db
	s := NewStore(ad, "ops", nil)

	mock.ExpectExec(`insert into ops\.ctr_data_logging as tgt .* on conflict \(table_name, run_date, action_type\) do update set .* where excluded\.status in \(1, 2\) and excluded\.row_record >= tgt\.row_record`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.Push(context.Background(), TableLogging, Row{
		"table_name":  "t",
		"run_date":    "2024-06-01",
		"action_type": ActionProcess,
		"row_record":  int64(1),
		"status":      StatusProcessing,
	}, PushOpts{StatusGuard: true, RowRecordGuard: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
