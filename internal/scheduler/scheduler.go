// Package scheduler fires cron groups against the catalog's pipelines.
// Each configured group maps a cron expression to one tick; every
// pipeline that belongs to the group and passes its schedule and trigger
// gates runs for the tick's date.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/pipeline"
)

// GroupRetention is the reserved group name that runs the synthetic
// retention pass instead of catalog pipelines.
const GroupRetention = "retention"

// Scheduler drives the cron groups.
type Scheduler struct {
	pipe   *pipeline.Runtime
	reg    *catalog.Registry
	groups map[string]string // group name -> cron expression
	logger *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// New builds a scheduler over the given group table.
func New(pipe *pipeline.Runtime, reg *catalog.Registry, groups map[string]string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		pipe:   pipe,
		reg:    reg,
		groups: groups,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers every group with cron and begins ticking. The context
// bounds each tick's work; cancelling it does not stop the cron loop,
// Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := name
		if _, err := s.cron.AddFunc(s.groups[name], func() {
			s.tick(ctx, group)
		}); err != nil {
			return err
		}
		s.logger.Info("schedule group registered", "group", name, "cron", s.groups[name])
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// tick runs one group. Pipeline failures are logged and do not stop the
// rest of the group; other pipelines still get their chance this tick.
func (s *Scheduler) tick(ctx context.Context, group string) {
	runDate := s.now().Format(control.DateLayout)
	s.logger.Info("schedule group fired", "group", group, "run_date", runDate)

	if group == GroupRetention {
		if _, err := s.pipe.RunRetention(ctx, runDate); err != nil {
			s.logger.Error("retention pass failed", "error", err)
		}
		return
	}

	if err := s.ScheduleGroup(ctx, group, runDate); err != nil {
		s.logger.Error("schedule group failed", "group", group, "error", err)
	}
}

// ScheduleGroup runs every member pipeline of a group that passes the
// schedule gate and whose trigger fires, in ascending pipeline priority.
func (s *Scheduler) ScheduleGroup(ctx context.Context, group, runDate string) error {
	var pipes []*catalog.Pipeline
	for _, p := range s.reg.Pipelines() {
		pipes = append(pipes, p)
	}
	sort.SliceStable(pipes, func(i, j int) bool {
		if pipes[i].Priority != pipes[j].Priority {
			return pipes[i].Priority < pipes[j].Priority
		}
		return pipes[i].Name < pipes[j].Name
	})

	for _, p := range pipes {
		ok, err := s.gate(ctx, p, group)
		if err != nil {
			s.logger.Error("pipeline gate failed", "pipeline", p.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if _, err := s.pipe.Run(ctx, p, runDate); err != nil {
			s.logger.Error("pipeline run failed", "pipeline", p.Name, "error", err)
		}
	}
	return ctx.Err()
}

func (s *Scheduler) gate(ctx context.Context, p *catalog.Pipeline, group string) (bool, error) {
	ok, err := s.pipe.CheckSchedule(ctx, p, group)
	if err != nil || !ok {
		return false, err
	}
	return s.pipe.CheckTrigger(ctx, p)
}
