package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/node"
	"github.com/datakit-labs/flowctl/internal/pipeline"
	"github.com/datakit-labs/flowctl/pkg/adapter"
	"github.com/datakit-labs/flowctl/pkg/adapters/sqlite"
)

func newTestScheduler(t *testing.T) (*Scheduler, *control.Store) {
	t.Helper()

	root := t.TempDir()
	write := func(kind catalog.Kind, file, content string) {
		dir := filepath.Join(root, kind.Folder)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	}
	write(catalog.KindTable, "catalog_src_clicks.yaml", `
src_clicks:
  create:
    features:
      click_date: text
  process:
    append:
      statement: insert into src_clicks (click_date) values ('{run_date}')
`)
	write(catalog.KindPipeline, "pipeline_morning_load.yaml", `
morning_load:
  id: PL-10
  schedule: [morning]
  nodes:
    - src_clicks
`)
	write(catalog.KindPipeline, "pipeline_evening_load.yaml", `
evening_load:
  id: PL-11
  schedule: [evening]
  nodes:
    - src_clicks
`)

	reg, err := catalog.NewRegistry(catalog.NewLoader(root, nil), nil)
	require.NoError(t, err)

	ad := sqlite.New(nil)
	require.NoError(t, ad.Connect(context.Background(), adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = ad.Close() })
	require.NoError(t, control.Bootstrap(context.Background(), ad))
	store := control.NewStore(ad, "", nil)

	pipe := pipeline.NewRuntime(store, reg, node.Options{}, nil)
	return New(pipe, reg, map[string]string{"morning": "0 6 * * *"}, nil), store
}

func registerPipeline(t *testing.T, store *control.Store, id, name string) {
	t.Helper()
	require.NoError(t, store.RegisterSchedule(context.Background(), &control.ScheduleRow{
		PipelineID:   id,
		PipelineName: name,
		PipelineType: "data",
		Tracking:     control.TrackingSuccess,
		ActiveFlag:   true,
		UpdateDate:   "2024-06-01 00:00:00",
	}))
}

func TestScheduleGroupRunsMembers(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)
	registerPipeline(t, store, "PL-10", "morning_load")
	registerPipeline(t, store, "PL-11", "evening_load")

	require.NoError(t, s.ScheduleGroup(ctx, "morning", "2024-06-02"))

	// the morning member ran and completed
	row, err := store.Schedule(ctx, "PL-10")
	require.NoError(t, err)
	assert.Equal(t, control.TrackingSuccess, row.Tracking)
	wm, err := store.Watermark(ctx, "src_clicks")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", wm.DataDate)

	// the evening member was not touched
	row, err = store.Schedule(ctx, "PL-11")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01 00:00:00", row.UpdateDate)
}

func TestScheduleGroupSkipsFailed(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)
	registerPipeline(t, store, "PL-10", "morning_load")
	require.NoError(t, store.SetTracking(ctx, "PL-10", control.TrackingFailed,
		mustTime(t, "2024-06-01 12:00:00")))

	require.NoError(t, s.ScheduleGroup(ctx, "morning", "2024-06-02"))

	// still failed, nothing ran
	row, err := store.Schedule(ctx, "PL-10")
	require.NoError(t, err)
	assert.Equal(t, control.TrackingFailed, row.Tracking)
	_, err = store.Watermark(ctx, "src_clicks")
	require.Error(t, err)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(control.TimeLayout, s)
	require.NoError(t, err)
	return ts
}

func TestStartRejectsBadCron(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.groups = map[string]string{"broken": "not a cron line"}
	require.Error(t, s.Start(context.Background()))
}
