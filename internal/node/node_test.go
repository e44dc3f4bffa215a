package node

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/funcreg"
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

func parseTestTable(t *testing.T, name, src string) *catalog.Table {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	tbl, err := catalog.ParseTable(name, &doc)
	require.NoError(t, err)
	return tbl
}

func appendTable(t *testing.T) *catalog.Table {
	return parseTestTable(t, "ai_daily", `
create:
  features:
    d: text
    v: text
process:
  append:
    statement: insert into ai_daily (d, v) values ('{run_date}', 'x')
control:
  run_count_max: 2
`)
}

func TestNodeAutoCreateAndRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := appendTable(t)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{SystemType: "framework"}, nil)
	require.NoError(t, err)

	// auto-create made the table, auto-register made the watermark
	exists, err := store.Adapter().TableExists(ctx, "ai_daily")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "2024-06-01", n.Watermark().RunDate)
	assert.Equal(t, 0, n.Watermark().RunCountNow)

	out, err := n.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, control.StatusSuccess, out.Status)
	assert.Equal(t, int64(1), out.Rows)
	assert.Equal(t, map[int]int64{1: 1}, out.Counts)

	wm, err := store.Watermark(ctx, "ai_daily")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", wm.DataDate)
	assert.Equal(t, 1, wm.RunCountNow)

	logs, err := store.Logs(ctx, "ai_daily")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, control.StatusSuccess, logs[0].Status)
	assert.Equal(t, int64(1), logs[0].RowRecord)
}

func TestNodeRunCountRules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := appendTable(t)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, nil)
	require.NoError(t, err)

	// same run date again: increments
	n, err = New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err := n.Run(ctx, nil)
	require.NoError(t, err)
	assert.False(t, out.Warned)

	wm, err := store.Watermark(ctx, "ai_daily")
	require.NoError(t, err)
	assert.Equal(t, 2, wm.RunCountNow)

	// quota (max 2) exhausted: warned skip, watermark untouched
	n, err = New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err = n.Run(ctx, nil)
	require.NoError(t, err)
	assert.True(t, out.Warned)
	assert.Equal(t, control.StatusSuccess, out.Status)

	wm, err = store.Watermark(ctx, "ai_daily")
	require.NoError(t, err)
	assert.Equal(t, 2, wm.RunCountNow)

	// a new run date resets the counter
	n, err = New(ctx, store, tbl, "2024-06-02", Options{}, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, nil)
	require.NoError(t, err)

	wm, err = store.Watermark(ctx, "ai_daily")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", wm.RunDate)
	assert.Equal(t, 1, wm.RunCountNow)
	assert.Equal(t, "2024-06-02", wm.DataDate)
}

func TestNodeEmptyBatchResetsRunCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := parseTestTable(t, "ai_gated", `
create:
  features:
    d: text
    v: text
process:
  fill:
    statement: insert into ai_gated (d, v) select '{run_date}', v from gate_src
`)

	_, err := store.Adapter().Exec(ctx, "create table gate_src (v text)")
	require.NoError(t, err)
	_, err = store.Adapter().Exec(ctx, "insert into gate_src values ('a')")
	require.NoError(t, err)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err := n.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Rows)

	wm, err := store.Watermark(ctx, "ai_gated")
	require.NoError(t, err)
	assert.Equal(t, 1, wm.RunCountNow)

	// empty the source: a zero-row batch on the same run date resets
	// the counter instead of leaving it where it was
	_, err = store.Adapter().Exec(ctx, "delete from gate_src")
	require.NoError(t, err)

	n, err = New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err = n.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Rows)

	wm, err = store.Watermark(ctx, "ai_gated")
	require.NoError(t, err)
	assert.Equal(t, 0, wm.RunCountNow)
}

func TestNodeRejectsPastRunDate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := appendTable(t)

	n, err := New(ctx, store, tbl, "2024-06-05", Options{}, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, nil)
	require.NoError(t, err)

	_, err = New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use rerun mode")

	// rerun is the escape hatch
	_, err = New(ctx, store, tbl, "2024-06-01", Options{Mode: ModeRerun}, nil)
	require.NoError(t, err)
}

func TestNodeChooseAndMockups(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := parseTestTable(t, "ai_picky", `
create:
  features:
    d: text
    src: text
process:
  main:
    priority: 1
    statement: insert into ai_picky (d, src) values ('{run_date}', 'main')
  mockup_fill:
    priority: 2
    statement: insert into ai_picky (d, src) values ('{run_date}', 'mockup')
  extra:
    priority: 3
    statement: insert into ai_picky (d, src) values ('{run_date}', 'extra')
`)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{SkipMockups: true}, nil)
	require.NoError(t, err)

	ref := &catalog.NodeRef{Name: "ai_picky", Choose: []string{"!extra"}}
	out, err := n.Run(ctx, ref)
	require.NoError(t, err)

	// mockup suppressed, extra excluded, only main ran
	assert.Equal(t, int64(1), out.Rows)
	assert.Equal(t, map[int]int64{1: 1}, out.Counts)
}

func TestNodeFunctionProcess(t *testing.T) {
	funcreg.Reset()
	t.Cleanup(funcreg.Reset)
	funcreg.Register("sum_v", func(ctx context.Context, f funcreg.Frame) (string, error) {
		var sum int64
		for _, row := range f.Rows {
			if v, ok := row[0].(int64); ok {
				sum += v
			}
		}
		return fmt.Sprintf("'%d'", sum), nil
	})

	ctx := context.Background()
	store := newTestStore(t)

	// source data outside the node
	_, err := store.Adapter().Exec(ctx, "create table src_vals (v integer)")
	require.NoError(t, err)
	_, err = store.Adapter().Exec(ctx, "insert into src_vals values (2), (3), (5)")
	require.NoError(t, err)

	tbl := parseTestTable(t, "ai_total", `
type: py
create:
  features:
    d: text
    total: text
process:
  total:
    function: sum_v
    load: select v from src_vals
    save: insert into ai_total (d, total) values ('{run_date}', {result})
`)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err := n.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Rows)

	var total string
	require.NoError(t, store.Adapter().QueryRow(ctx, "select total from ai_total").Scan(&total))
	assert.Equal(t, "10", total)
}

func TestNodeFailedProcess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := parseTestTable(t, "ai_broken", `
create:
  features:
    d: text
process:
  boom:
    statement: insert into no_such_table values (1)
`)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err := n.Run(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, control.StatusFailed, out.Status)

	var perr *control.ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Stmt, "no_such_table")

	logs, err := store.Logs(ctx, "ai_broken")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, control.StatusFailed, logs[0].Status)

	// the watermark did not advance
	wm, err := store.Watermark(ctx, "ai_broken")
	require.NoError(t, err)
	assert.Equal(t, 0, wm.RunCountNow)
}

func TestRetentionMasterTable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := parseTestTable(t, "src_hist", `
create:
  features:
    day: text
    v: text
control:
  table_type: master
  rtt_value: 2
  rtt_column: day
`)

	n, err := New(ctx, store, tbl, "2024-06-10", Options{}, nil)
	require.NoError(t, err)

	_, err = store.Adapter().Exec(ctx,
		"insert into src_hist values ('2024-06-01', 'old'), ('2024-06-09', 'keep'), ('2024-06-10', 'keep')")
	require.NoError(t, err)

	out, err := n.Retention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Rows)

	var count int
	require.NoError(t, store.Adapter().QueryRow(ctx, "select count(*) from src_hist").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRetentionDisabled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := appendTable(t)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	out, err := n.Retention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Rows)
	assert.Contains(t, out.Message, "retention disabled")
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tbl := appendTable(t)

	n, err := New(ctx, store, tbl, "2024-06-01", Options{}, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, nil)
	require.NoError(t, err)

	// collision with a cataloged name fails before anything is created
	_, err = n.Backup(ctx, func(name string) bool { return name == "ai_daily_backup" })
	var serr *control.StateError
	require.ErrorAs(t, err, &serr)

	out, err := n.Backup(ctx, func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Rows)

	var count int
	require.NoError(t, store.Adapter().QueryRow(ctx, "select count(*) from ai_daily_backup").Scan(&count))
	assert.Equal(t, 1, count)
}
