// Package task wraps one runtime invocation: who asked for what, which
// run dates are covered, and how far the run has progressed. A task's
// control-table row is the unit of external progress polling.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datakit-labs/flowctl/internal/control"
)

// Execution modes.
const (
	ModeForeground = "foreground"
	ModeBackground = "background"
)

// Components a task can belong to.
const (
	ComponentFramework = "framework"
	ComponentIngestion = "ingestion"
	ComponentAnalytic  = "analytic"
)

// Run modes for the date parameters.
const (
	RunCommon = "common"
	RunRerun  = "rerun"
)

// Target kinds.
const (
	TypeTable    = "table"
	TypePipeline = "pipeline"
)

// Params is the caller-supplied half of a task: what to run and when.
type Params struct {
	Type        string // table|pipeline
	Name        string
	Dates       []string
	Mode        string // common|rerun
	DropBefore  bool   // rerun: delete existing rows for the date first
	MockupOnly  bool   // run only mockup-flagged processes
	SkipMockups bool   // suppress mockup-flagged processes
}

// Release is the restartable cursor checkpoint: the date currently being
// processed, its index, and whether the start record has been pushed.
type Release struct {
	Date   string
	Index  int
	Pushed bool
}

// Task is one runtime invocation in flight.
type Task struct {
	ID        string
	Module    string
	Component string
	Mode      string // foreground|background
	Params    Params
	Status    int
	Message   string
	StartTime time.Time
	Release   Release
}

// New builds a task for the given invocation. The ID combines a
// timestamp hash with a content hash of the target, so concurrent tasks
// over different targets never collide and retries of the same target in
// the same second do. Not safe against deliberate clock manipulation,
// which is acceptable here.
func New(module, component, mode string, params Params, now time.Time) *Task {
	if params.Mode == "" {
		params.Mode = RunCommon
	}
	return &Task{
		ID:        newID(now, module, params.Type, params.Name),
		Module:    module,
		Component: component,
		Mode:      mode,
		Params:    params,
		Status:    control.StatusProcessing,
		StartTime: now,
	}
}

func newID(now time.Time, module, typ, name string) string {
	ts := uuid.NewSHA1(uuid.NameSpaceOID, []byte(now.Format(control.TimeLayout)))
	content := uuid.NewSHA1(uuid.NameSpaceOID, []byte(module+"|"+typ+"|"+name))
	return strings.ReplaceAll(ts.String()[:13], "-", "") + content.String()[:8]
}

// Runner returns a cursor over the task's dates, resuming from the
// release checkpoint. Each call yields the next (index, date) and
// advances the checkpoint; Pushed flips after the first yield so a
// resumed run does not log a duplicate start record.
func (t *Task) Runner() func() (int, string, bool) {
	return func() (int, string, bool) {
		i := t.Release.Index
		if i >= len(t.Params.Dates) {
			return 0, "", false
		}
		date := t.Params.Dates[i]
		t.Release = Release{Date: date, Index: i + 1, Pushed: true}
		return i, date, true
	}
}

// Result is the outcome of one unit of work under a task.
type Result struct {
	Status  int
	Message string
	Rows    int64
}

// Receive merges a sub-result into the task: status is overwritten (last
// writer wins), the message is appended.
func (t *Task) Receive(r Result) {
	t.Status = r.Status
	if r.Message == "" {
		return
	}
	if t.Message == "" {
		t.Message = r.Message
		return
	}
	t.Message += "\n" + r.Message
}

// Duration is the wall-clock seconds since the task started, recomputed
// on every call.
func (t *Task) Duration(now time.Time) float64 {
	return now.Sub(t.StartTime).Seconds()
}

// Record renders the task as its control-table row.
func (t *Task) Record(now time.Time) *control.TaskRecord {
	return &control.TaskRecord{
		ProcessID:        t.ID,
		ProcessNamePut:   t.Params.Name,
		ProcessNameGet:   t.Params.Name,
		RunDatePut:       t.Params.Dates,
		RunDateGet:       t.Release.Date,
		ProcessMessage:   t.Message,
		ProcessNumberPut: len(t.Params.Dates),
		ProcessNumberGet: t.Release.Index,
		ProcessModule:    t.Component,
		ProcessType:      t.Params.Mode,
		Status:           t.Status,
		UpdateDate:       now.Format(control.TimeLayout),
		ProcessTime:      t.Duration(now),
	}
}

// Describe is the one-line log form of the task.
func (t *Task) Describe() string {
	return fmt.Sprintf("%s %s %s (%d dates, %s)",
		t.Module, t.Params.Type, t.Params.Name, len(t.Params.Dates), t.Params.Mode)
}
