package control

import (
	"context"
	"errors"
	"time"

	"github.com/datakit-labs/flowctl/internal/catalog"
)

// Watermark is one row of the watermark table: the per-table refresh
// cursor plus its quota and retention settings. Rows are created on first
// node construction and mutated after every successful process batch;
// the core never deletes them.
type Watermark struct {
	SystemType  string
	TableName   string
	TableType   string
	DataDate    string
	UpdateDate  string
	RunDate     string
	RunType     string
	RunCountNow int
	RunCountMax int
	RttValue    int
	RttColumn   []string
	ActiveFlag  bool
}

// HasQuota reports whether the table may still run in the current period.
// A zero run_count_max means unlimited.
func (w *Watermark) HasQuota() bool {
	return w.RunCountMax == 0 || w.RunCountNow < w.RunCountMax
}

// NextRunDate advances a date by one run period.
func NextRunDate(date time.Time, runType string) time.Time {
	switch runType {
	case catalog.RunWeekly:
		return date.AddDate(0, 0, 7)
	case catalog.RunMonthly:
		return date.AddDate(0, 1, 0)
	case catalog.RunYearly:
		return date.AddDate(1, 0, 0)
	default:
		return date.AddDate(0, 0, 1)
	}
}

// ShiftPeriods moves a date by n run periods (negative shifts backwards).
func ShiftPeriods(date time.Time, runType string, n int) time.Time {
	switch runType {
	case catalog.RunWeekly:
		return date.AddDate(0, 0, 7*n)
	case catalog.RunMonthly:
		return date.AddDate(0, n, 0)
	case catalog.RunYearly:
		return date.AddDate(n, 0, 0)
	default:
		return date.AddDate(0, 0, n)
	}
}

func (w *Watermark) row() Row {
	return Row{
		"system_type":   w.SystemType,
		"table_name":    w.TableName,
		"table_type":    w.TableType,
		"data_date":     w.DataDate,
		"update_date":   w.UpdateDate,
		"run_date":      w.RunDate,
		"run_type":      w.RunType,
		"run_count_now": w.RunCountNow,
		"run_count_max": w.RunCountMax,
		"rtt_value":     w.RttValue,
		"rtt_column":    joinList(w.RttColumn),
		"active_flag":   w.ActiveFlag,
	}
}

func watermarkFromRow(r Row) *Watermark {
	return &Watermark{
		SystemType:  asString(r["system_type"]),
		TableName:   asString(r["table_name"]),
		TableType:   asString(r["table_type"]),
		DataDate:    asString(r["data_date"]),
		UpdateDate:  asString(r["update_date"]),
		RunDate:     asString(r["run_date"]),
		RunType:     asString(r["run_type"]),
		RunCountNow: asInt(r["run_count_now"]),
		RunCountMax: asInt(r["run_count_max"]),
		RttValue:    asInt(r["rtt_value"]),
		RttColumn:   splitList(asString(r["rtt_column"])),
		ActiveFlag:  asBool(r["active_flag"]),
	}
}

// Watermark reads one table's watermark row. A missing row is a
// StateError, which callers use to take the auto-register path.
func (s *Store) Watermark(ctx context.Context, tableName string) (*Watermark, error) {
	rows, err := s.Pull(ctx, TableWatermark, Filter{List: []any{tableName}}, PullOpts{})
	if err != nil {
		return nil, err
	}
	return watermarkFromRow(rows[0]), nil
}

// Watermarks reads every active watermark row.
func (s *Store) Watermarks(ctx context.Context) ([]*Watermark, error) {
	rows, err := s.Pull(ctx, TableWatermark, Filter{}, PullOpts{ActiveOnly: true, All: true})
	if err != nil {
		return nil, err
	}
	out := make([]*Watermark, len(rows))
	for i, r := range rows {
		out[i] = watermarkFromRow(r)
	}
	return out, nil
}

// HasWatermark reports whether a watermark row exists, folding the
// missing-row StateError into false.
func (s *Store) HasWatermark(ctx context.Context, tableName string) (bool, error) {
	_, err := s.Watermark(ctx, tableName)
	if err == nil {
		return true, nil
	}
	var serr *StateError
	if errors.As(err, &serr) {
		return false, nil
	}
	return false, err
}

// RegisterWatermark upserts a watermark row. Used on the auto-register
// path and by setup.
func (s *Store) RegisterWatermark(ctx context.Context, w *Watermark) error {
	return s.Push(ctx, TableWatermark, w.row(), PushOpts{})
}

// AdvanceWatermark persists the post-run cursor fields of a watermark.
func (s *Store) AdvanceWatermark(ctx context.Context, w *Watermark) error {
	return s.Update(ctx, TableWatermark, Row{
		"data_date":     w.DataDate,
		"update_date":   w.UpdateDate,
		"run_date":      w.RunDate,
		"run_count_now": w.RunCountNow,
	}, Filter{List: []any{w.TableName}}, "")
}

// WatermarkDefaults builds the initial watermark row a table registers
// with, from its catalog control block.
func WatermarkDefaults(t *catalog.Table, systemType, runDate string, now time.Time) *Watermark {
	return &Watermark{
		SystemType:  systemType,
		TableName:   t.Name,
		TableType:   t.Control.TableType,
		DataDate:    runDate,
		UpdateDate:  now.Format(TimeLayout),
		RunDate:     runDate,
		RunType:     t.Control.RunType,
		RunCountNow: 0,
		RunCountMax: t.Control.RunCountMax,
		RttValue:    t.Control.RttValue,
		RttColumn:   t.Control.RttColumn,
		ActiveFlag:  true,
	}
}
