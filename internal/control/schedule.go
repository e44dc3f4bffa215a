package control

import (
	"context"
	"time"
)

// ScheduleRow is one row of the pipeline schedule/tracking table.
type ScheduleRow struct {
	PipelineID   string
	PipelineName string
	PipelineType string
	Tracking     string
	ActiveFlag   bool
	UpdateDate   string
	PrimaryID    string
}

func (p *ScheduleRow) row() Row {
	return Row{
		"pipeline_id":   p.PipelineID,
		"pipeline_name": p.PipelineName,
		"pipeline_type": p.PipelineType,
		"tracking":      p.Tracking,
		"active_flag":   p.ActiveFlag,
		"update_date":   p.UpdateDate,
		"primary_id":    p.PrimaryID,
	}
}

func scheduleFromRow(r Row) *ScheduleRow {
	return &ScheduleRow{
		PipelineID:   asString(r["pipeline_id"]),
		PipelineName: asString(r["pipeline_name"]),
		PipelineType: asString(r["pipeline_type"]),
		Tracking:     asString(r["tracking"]),
		ActiveFlag:   asBool(r["active_flag"]),
		UpdateDate:   asString(r["update_date"]),
		PrimaryID:    asString(r["primary_id"]),
	}
}

// Schedule reads one pipeline's schedule row. A missing row is a
// StateError; trigger evaluation treats that as a hard failure because a
// referenced pipeline that never registered cannot fire.
func (s *Store) Schedule(ctx context.Context, pipelineID string) (*ScheduleRow, error) {
	rows, err := s.Pull(ctx, TableSchedule, Filter{List: []any{pipelineID}}, PullOpts{})
	if err != nil {
		return nil, err
	}
	return scheduleFromRow(rows[0]), nil
}

// Schedules reads every active schedule row.
func (s *Store) Schedules(ctx context.Context) ([]*ScheduleRow, error) {
	rows, err := s.Pull(ctx, TableSchedule, Filter{}, PullOpts{ActiveOnly: true, All: true})
	if err != nil {
		return nil, err
	}
	out := make([]*ScheduleRow, len(rows))
	for i, r := range rows {
		out[i] = scheduleFromRow(r)
	}
	return out, nil
}

// RegisterSchedule upserts a pipeline's schedule row. Used by setup.
func (s *Store) RegisterSchedule(ctx context.Context, p *ScheduleRow) error {
	return s.Push(ctx, TableSchedule, p.row(), PushOpts{})
}

// SetTracking transitions a pipeline's tracking state and stamps the
// update time.
func (s *Store) SetTracking(ctx context.Context, pipelineID, tracking string, now time.Time) error {
	return s.Update(ctx, TableSchedule, Row{
		"tracking":    tracking,
		"update_date": now.Format(TimeLayout),
	}, Filter{List: []any{pipelineID}}, "")
}
