// Package runtime exposes the task entrypoints callers invoke: run a
// table or pipeline in the foreground, hand it to a bounded background
// worker, or run the first-date-only ingestion variants. Every
// invocation is wrapped in a task whose control-table row is the unit of
// external progress polling.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/node"
	"github.com/datakit-labs/flowctl/internal/pipeline"
	"github.com/datakit-labs/flowctl/internal/task"
)

// DefaultWorkers bounds concurrent background tasks when the caller
// does not configure a limit.
const DefaultWorkers = 4

// Runtime executes tasks against one control store and catalog.
type Runtime struct {
	store  *control.Store
	reg    *catalog.Registry
	pipe   *pipeline.Runtime
	opts   node.Options
	logger *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu   sync.Mutex
	live map[string]string // process id -> target, operator visibility only

	now func() time.Time
}

// New builds a runtime. workers caps concurrent background tasks;
// zero or negative falls back to DefaultWorkers.
func New(store *control.Store, reg *catalog.Registry, opts node.Options, workers int64, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runtime{
		store:  store,
		reg:    reg,
		pipe:   pipeline.NewRuntime(store, reg, opts, logger),
		opts:   opts,
		logger: logger,
		sem:    semaphore.NewWeighted(workers),
		live:   make(map[string]string),
		now:    time.Now,
	}
}

// Pipeline exposes the underlying pipeline runtime for the scheduler
// and the one-shot CLI actions (retention, backup).
func (r *Runtime) Pipeline() *pipeline.Runtime { return r.pipe }

// Foreground runs a task on the caller's goroutine and returns after the
// last date has been processed. The task row is pushed before execution
// starts and fetched with the terminal status, so a failure is still
// queryable after the caller is gone.
func (r *Runtime) Foreground(ctx context.Context, module string, params task.Params) (*task.Task, error) {
	tk := task.New(module, componentFor(module), task.ModeForeground, params, r.now())
	if err := r.store.PushTask(ctx, tk.Record(r.now())); err != nil {
		return tk, err
	}
	err := r.execute(ctx, tk)
	return tk, err
}

// Background pushes the task's process id and target name onto the
// queue, in that order, before the worker goroutine proceeds, so the
// caller can answer its own client synchronously. The worker is
// admitted by the semaphore; a full worker pool delays the start, not
// the handoff.
func (r *Runtime) Background(ctx context.Context, module string, queue chan<- string, params task.Params) (*task.Task, error) {
	tk := task.New(module, componentFor(module), task.ModeBackground, params, r.now())
	if err := r.store.PushTask(ctx, tk.Record(r.now())); err != nil {
		return tk, err
	}

	queue <- tk.ID
	queue <- params.Name

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.logger.Error("background task not admitted", "task", tk.ID, "error", err)
			return
		}
		defer r.sem.Release(1)

		r.setLive(tk.ID, params.Name)
		defer r.clearLive(tk.ID)

		if err := r.execute(ctx, tk); err != nil {
			r.logger.Error("background task failed", "task", tk.ID, "error", err)
		}
	}()
	return tk, nil
}

// IngestForeground runs only the first requested date. Ingestion feeds
// are cumulative, so one pass covers the whole backlog; the remaining
// dates are deliberately ignored.
func (r *Runtime) IngestForeground(ctx context.Context, module string, params task.Params) (*task.Task, error) {
	return r.Foreground(ctx, module, firstDateOnly(params))
}

// IngestBackground is Background restricted to the first requested date.
func (r *Runtime) IngestBackground(ctx context.Context, module string, queue chan<- string, params task.Params) (*task.Task, error) {
	return r.Background(ctx, module, queue, firstDateOnly(params))
}

// Wait blocks until every background worker has finished.
func (r *Runtime) Wait() { r.wg.Wait() }

// Live snapshots the in-flight background tasks. Best effort, for
// operator visibility only.
func (r *Runtime) Live() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.live))
	for k, v := range r.live {
		out[k] = v
	}
	return out
}

func (r *Runtime) setLive(id, name string) {
	r.mu.Lock()
	r.live[id] = name
	r.mu.Unlock()
}

func (r *Runtime) clearLive(id string) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

// execute drives the task's date cursor. The first date failure stops
// the remaining dates; the terminal status is fetched back into the
// task row either way.
func (r *Runtime) execute(ctx context.Context, tk *task.Task) error {
	r.logger.Info("task started", "task", tk.ID, "target", tk.Describe())

	var runErr error
	next := tk.Runner()
	for {
		_, date, ok := next()
		if !ok {
			break
		}
		if err := r.store.PushTask(ctx, tk.Record(r.now())); err != nil {
			runErr = err
			break
		}

		res := r.runDate(ctx, tk.Params, date)
		tk.Receive(res)
		if res.Status == control.StatusFailed {
			runErr = fmt.Errorf("task %s: %s on %s failed", tk.ID, tk.Params.Name, date)
			break
		}
	}

	if tk.Status == control.StatusProcessing && runErr == nil {
		tk.Receive(task.Result{Status: control.StatusSuccess})
	}
	if runErr != nil {
		tk.Status = control.StatusFailed
	}

	if err := r.store.FetchTask(ctx, tk.Record(r.now())); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			r.logger.Error("task row not updated", "task", tk.ID, "error", err)
		}
	}
	return runErr
}

func (r *Runtime) runDate(ctx context.Context, params task.Params, date string) task.Result {
	switch params.Type {
	case task.TypePipeline:
		return r.runPipelineDate(ctx, params, date)
	default:
		return r.runTableDate(ctx, params, date)
	}
}

func (r *Runtime) runTableDate(ctx context.Context, params task.Params, date string) task.Result {
	tbl, err := r.reg.Table(params.Name)
	if err != nil {
		return task.Result{Status: control.StatusFailed, Message: err.Error()}
	}

	nd, err := node.New(ctx, r.store, tbl, date, r.nodeOptions(params), r.logger)
	if err != nil {
		return task.Result{Status: control.StatusFailed, Message: err.Error()}
	}

	out, err := nd.Run(ctx, r.nodeRef(tbl, params))
	if err != nil {
		return task.Result{Status: control.StatusFailed, Message: err.Error()}
	}
	msg := out.Message
	if msg == "" {
		msg = fmt.Sprintf("%s %s: %d rows", params.Name, date, out.Rows)
	}
	return task.Result{Status: out.Status, Message: msg, Rows: out.Rows}
}

func (r *Runtime) runPipelineDate(ctx context.Context, params task.Params, date string) task.Result {
	p, err := r.pipelineFor(ctx, params.Name)
	if err != nil {
		return task.Result{Status: control.StatusFailed, Message: err.Error()}
	}

	outcomes, err := r.pipe.Run(ctx, p, date)
	var rows int64
	for _, out := range outcomes {
		rows += out.Rows
	}
	if err != nil {
		return task.Result{Status: control.StatusFailed, Message: err.Error(), Rows: rows}
	}
	return task.Result{
		Status:  control.StatusSuccess,
		Message: fmt.Sprintf("%s %s: %d nodes, %d rows", params.Name, date, len(outcomes), rows),
		Rows:    rows,
	}
}

func (r *Runtime) pipelineFor(ctx context.Context, name string) (*catalog.Pipeline, error) {
	switch name {
	case pipeline.SyntheticControlSearch, pipeline.SyntheticRetentionSearch:
		return r.pipe.Synthetic(ctx, name)
	}
	return r.reg.Pipeline(name)
}

func (r *Runtime) nodeOptions(params task.Params) node.Options {
	opts := r.opts
	if params.Mode == task.RunRerun {
		opts.Mode = node.ModeRerun
	}
	opts.DropBefore = params.DropBefore
	opts.SkipMockups = params.SkipMockups || opts.SkipMockups
	return opts
}

// nodeRef builds the process filter for a standalone table run. A
// mockup-only run chooses exactly the mockup processes, which also
// lifts their default suppression.
func (r *Runtime) nodeRef(tbl *catalog.Table, params task.Params) *catalog.NodeRef {
	if !params.MockupOnly {
		return nil
	}
	ref := &catalog.NodeRef{Name: tbl.Name}
	for _, proc := range tbl.Processes {
		if strings.Contains(strings.ToLower(proc.Name), "mockup") {
			ref.Choose = append(ref.Choose, proc.Name)
		}
	}
	return ref
}

func componentFor(module string) string {
	switch module {
	case "ingestion":
		return task.ComponentIngestion
	case "analytic":
		return task.ComponentAnalytic
	default:
		return task.ComponentFramework
	}
}

func firstDateOnly(params task.Params) task.Params {
	if len(params.Dates) > 1 {
		params.Dates = params.Dates[:1]
	}
	return params
}
