package runtime

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
	"github.com/datakit-labs/flowctl/internal/task"
	"github.com/datakit-labs/flowctl/pkg/adapter"
	"github.com/datakit-labs/flowctl/pkg/adapters/sqlite"
)

func newTestStore(t *testing.T) *control.Store {
	t.Helper()
	ad := sqlite.New(nil)
	require.NoError(t, ad.Connect(context.Background(), adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = ad.Close() })
	require.NoError(t, control.Bootstrap(context.Background(), ad))
	return control.NewStore(ad, "", nil)
}

func newTestRuntime(t *testing.T) (*Runtime, *control.Store) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, catalog.KindTable.Folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog_src_events.yaml"), []byte(`
src_events:
  create:
    features:
      event_date: text
      payload: text
  process:
    append:
      statement: insert into src_events (event_date, payload) values ('{run_date}', 'x')
    mockup_fill:
      statement: insert into src_events (event_date, payload) values ('{run_date}', 'mock')
`), 0o644))

	reg, err := catalog.NewRegistry(catalog.NewLoader(root, nil), nil)
	require.NoError(t, err)

	store := newTestStore(t)
	return New(store, reg, node.Options{}, 2, nil), store
}

func TestForegroundTable(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	tk, err := rt.Foreground(ctx, "framework", task.Params{
		Type:  task.TypeTable,
		Name:  "src_events",
		Dates: []string{"2024-06-01", "2024-06-02"},
	})
	require.NoError(t, err)
	assert.Equal(t, control.StatusSuccess, tk.Status)
	assert.Equal(t, 2, tk.Release.Index)

	rec, err := store.Task(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, control.StatusSuccess, rec.Status)
	assert.Equal(t, "2024-06-02", rec.RunDateGet)
	assert.Equal(t, 2, rec.ProcessNumberGet)

	wm, err := store.Watermark(ctx, "src_events")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", wm.DataDate)
}

func TestForegroundUnknownTable(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	tk, err := rt.Foreground(ctx, "framework", task.Params{
		Type:  task.TypeTable,
		Name:  "src_nowhere",
		Dates: []string{"2024-06-01"},
	})
	require.Error(t, err)
	assert.Equal(t, control.StatusFailed, tk.Status)

	// failure is still queryable after the fact
	rec, err := store.Task(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, control.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.ProcessMessage)
}

func TestBackgroundQueueHandoff(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	queue := make(chan string, 2)
	tk, err := rt.Background(ctx, "framework", queue, task.Params{
		Type:  task.TypeTable,
		Name:  "src_events",
		Dates: []string{"2024-06-01"},
	})
	require.NoError(t, err)

	// process id first, then the target name
	assert.Equal(t, tk.ID, <-queue)
	assert.Equal(t, "src_events", <-queue)

	rt.Wait()

	rec, err := store.Task(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, control.StatusSuccess, rec.Status)
	assert.Empty(t, rt.Live())
}

func TestIngestFirstDateOnly(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	tk, err := rt.IngestForeground(ctx, "ingestion", task.Params{
		Type:  task.TypeTable,
		Name:  "src_events",
		Dates: []string{"2024-06-01", "2024-06-02", "2024-06-03"},
	})
	require.NoError(t, err)
	assert.Equal(t, task.ComponentIngestion, tk.Component)
	assert.Len(t, tk.Params.Dates, 1)

	wm, err := store.Watermark(ctx, "src_events")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", wm.DataDate)
}

func TestMockupOnlyChoosesMockups(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	_, err := rt.Foreground(ctx, "framework", task.Params{
		Type:       task.TypeTable,
		Name:       "src_events",
		Dates:      []string{"2024-06-01"},
		MockupOnly: true,
	})
	require.NoError(t, err)

	rows, err := store.Adapter().Query(ctx, "select payload from src_events")
	require.NoError(t, err)
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var p string
		require.NoError(t, rows.Scan(&p))
		payloads = append(payloads, p)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"mock"}, payloads)
}

func TestSweepStuck(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	require.NoError(t, store.PushTask(ctx, &control.TaskRecord{
		ProcessID:      "stuck-1",
		ProcessNamePut: "src_events",
		ProcessNameGet: "src_events",
		Status:         control.StatusProcessing,
		UpdateDate:     "2024-06-01 00:00:00",
	}))

	stuck, err := rt.SweepStuck(ctx, 3, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "stuck-1", stuck[0].ProcessID)
}

func TestSweepIgnoresMovingTasks(t *testing.T) {
	ctx := context.Background()
	rt, store := newTestRuntime(t)

	require.NoError(t, store.PushTask(ctx, &control.TaskRecord{
		ProcessID:      "busy-1",
		ProcessNamePut: "src_events",
		Status:         control.StatusProcessing,
		UpdateDate:     "2024-06-01 00:00:00",
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(5 * time.Millisecond)
		_ = store.FetchTask(ctx, &control.TaskRecord{
			ProcessID:  "busy-1",
			Status:     control.StatusProcessing,
			UpdateDate: "2024-06-01 00:00:05",
		})
	}()

	stuck, err := rt.SweepStuck(ctx, 2, 20*time.Millisecond)
	<-done
	require.NoError(t, err)
	assert.Empty(t, stuck)
}
