// Package pipeline orchestrates multi-node runs: trigger evaluation
// against the schedule table, the schedule gate with its in-flight wait,
// and the fail-fast node loop that transitions the pipeline's tracking
// state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/node"
)

// ErrNodeFailed signals that a node inside a pipeline run failed. It is
// caught exactly once, at the node-loop boundary, to stop the remaining
// nodes; callers see it wrapped in the returned error chain.
var ErrNodeFailed = errors.New("pipeline node failed")

// Built-in synthetic pipelines whose node lists come from the control
// tables instead of YAML.
const (
	SyntheticControlSearch   = "control_search"
	SyntheticRetentionSearch = "retention_search"
)

// defaultWaitInterval is the poll interval while a previous run of the
// same pipeline is still marked PROCESSING.
const defaultWaitInterval = 300 * time.Second

// Runtime runs pipelines against one control store and catalog registry.
type Runtime struct {
	store  *control.Store
	reg    *catalog.Registry
	opts   node.Options
	logger *slog.Logger

	// WaitInterval overrides the PROCESSING re-check interval.
	WaitInterval time.Duration

	now func() time.Time
}

// NewRuntime builds a pipeline runtime. opts carries the node-level
// settings (schema, system type, params) shared by every node run.
func NewRuntime(store *control.Store, reg *catalog.Registry, opts node.Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		store:        store,
		reg:          reg,
		opts:         opts,
		logger:       logger,
		WaitInterval: defaultWaitInterval,
		now:          time.Now,
	}
}

// CheckTrigger evaluates the pipeline's trigger expression against the
// schedule table. A dependency leaf fires when it has succeeded more
// recently than our own last update, or when it has succeeded at all and
// our last run failed (the catch-up rule). A referenced pipeline without
// a schedule row is a StateError.
func (r *Runtime) CheckTrigger(ctx context.Context, p *catalog.Pipeline) (bool, error) {
	if p.Trigger == nil {
		return true, nil
	}

	own, err := r.store.Schedule(ctx, p.ID)
	if err != nil {
		return false, err
	}

	return p.Trigger.Eval(func(depName string) (bool, error) {
		// leaves name pipelines; schedule rows are keyed by pipeline id
		depID := depName
		if dep, err := r.reg.Pipeline(depName); err == nil {
			depID = dep.ID
		}
		dep, err := r.store.Schedule(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep.Tracking != control.TrackingSuccess {
			return false, nil
		}
		if own.Tracking == control.TrackingSuccess {
			return dep.UpdateDate > own.UpdateDate, nil
		}
		return own.Tracking == control.TrackingFailed, nil
	})
}

// CheckSchedule reports whether the pipeline should run for a cron
// group. A FAILED pipeline never auto-runs (an operator must clear it);
// a PROCESSING pipeline blocks until the previous run finishes, re-
// checking every WaitInterval, so a cron tick never overlaps an
// in-flight run. The wait is cancellable through the context.
func (r *Runtime) CheckSchedule(ctx context.Context, p *catalog.Pipeline, group string) (bool, error) {
	if !p.InSchedule(group) {
		return false, nil
	}

	row, err := r.store.Schedule(ctx, p.ID)
	if err != nil {
		return false, err
	}

	for row.Tracking == control.TrackingProcessing {
		r.logger.Info("pipeline still processing, waiting",
			"pipeline", p.Name, "interval", r.WaitInterval)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.WaitInterval):
		}
		row, err = r.store.Schedule(ctx, p.ID)
		if err != nil {
			return false, err
		}
	}

	switch row.Tracking {
	case control.TrackingFailed, control.TrackingAlertFailed:
		r.logger.Warn("pipeline is failed, manual clear required", "pipeline", p.Name)
		return false, nil
	}
	return true, nil
}

// Run executes the pipeline's nodes in ascending priority for one run
// date. Tracking transitions SUCCESS → PROCESSING at the start and to
// SUCCESS or FAILED at the end; the first node failure aborts the
// remaining nodes.
func (r *Runtime) Run(ctx context.Context, p *catalog.Pipeline, runDate string) ([]node.Outcome, error) {
	if err := r.store.SetTracking(ctx, p.ID, control.TrackingProcessing, r.now()); err != nil {
		return nil, err
	}

	outcomes, err := r.runNodes(ctx, p, runDate)
	if err != nil {
		if terr := r.store.SetTracking(ctx, p.ID, control.TrackingFailed, r.now()); terr != nil {
			r.logger.Error("failed to mark pipeline failed", "pipeline", p.Name, "error", terr)
		}
		return outcomes, err
	}

	if err := r.store.SetTracking(ctx, p.ID, control.TrackingSuccess, r.now()); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (r *Runtime) runNodes(ctx context.Context, p *catalog.Pipeline, runDate string) ([]node.Outcome, error) {
	var outcomes []node.Outcome
	for i := range p.Nodes {
		ref := &p.Nodes[i]

		tbl, err := r.reg.Table(ref.Name)
		if err != nil {
			return outcomes, fmt.Errorf("%w: %s: %v", ErrNodeFailed, ref.Name, err)
		}

		nd, err := node.New(ctx, r.store, tbl, runDate, r.opts, r.logger)
		if err != nil {
			return outcomes, fmt.Errorf("%w: %s: %v", ErrNodeFailed, ref.Name, err)
		}

		out, err := nd.Run(ctx, ref)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, fmt.Errorf("%w: %s: %v", ErrNodeFailed, ref.Name, err)
		}
		if out.Warned {
			r.logger.Warn("node skipped", "table", ref.Name, "reason", out.Message)
		}
	}
	return outcomes, nil
}

// Synthetic builds one of the built-in pipelines from the control
// tables: control_search covers every active watermark row,
// retention_search only the tables with a retention window.
func (r *Runtime) Synthetic(ctx context.Context, name string) (*catalog.Pipeline, error) {
	wms, err := r.store.Watermarks(ctx)
	if err != nil {
		return nil, err
	}

	p := &catalog.Pipeline{
		Name:      name,
		Shortname: catalog.Shortname(name),
		ID:        name,
	}
	prio := 0
	for _, wm := range wms {
		if name == SyntheticRetentionSearch && wm.RttValue == 0 {
			continue
		}
		prio++
		p.Nodes = append(p.Nodes, catalog.NodeRef{Priority: float64(prio), Name: wm.TableName})
	}
	if len(p.Nodes) == 0 {
		return nil, &control.StateError{Table: control.TableWatermark, Op: "synthetic",
			Reason: fmt.Sprintf("no active tables for %s", name)}
	}
	return p, nil
}

// RunRetention runs the retention pass over every table the synthetic
// retention pipeline selects. Per-table failures are logged and folded
// into the outcome list, not propagated: retention is best-effort by
// contract and must not abort the scheduler tick.
func (r *Runtime) RunRetention(ctx context.Context, runDate string) ([]node.Outcome, error) {
	p, err := r.Synthetic(ctx, SyntheticRetentionSearch)
	if err != nil {
		return nil, err
	}

	var outcomes []node.Outcome
	for i := range p.Nodes {
		ref := &p.Nodes[i]
		out, err := r.retainOne(ctx, ref.Name, runDate)
		if err != nil {
			r.logger.Error("retention failed", "table", ref.Name, "error", err)
			out.Status = control.StatusFailed
			out.Message = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (r *Runtime) retainOne(ctx context.Context, tableName, runDate string) (node.Outcome, error) {
	tbl, err := r.reg.Table(tableName)
	if err != nil {
		return node.Outcome{}, err
	}
	nd, err := node.New(ctx, r.store, tbl, runDate, r.opts, r.logger)
	if err != nil {
		return node.Outcome{}, err
	}
	return nd.Retention(ctx)
}

// RunBackup backs up one table, guarding against catalog name
// collisions.
func (r *Runtime) RunBackup(ctx context.Context, tableName, runDate string) (node.Outcome, error) {
	tbl, err := r.reg.Table(tableName)
	if err != nil {
		return node.Outcome{}, err
	}
	nd, err := node.New(ctx, r.store, tbl, runDate, r.opts, r.logger)
	if err != nil {
		return node.Outcome{}, err
	}
	return nd.Backup(ctx, func(name string) bool {
		_, err := r.reg.Table(name)
		return err == nil
	})
}
