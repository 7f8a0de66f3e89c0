// Package jobs runs the recurring sweeps: nightly recurrence expansion,
// periodic timesheet reconciliation, and a conflict scan. Each sweep is also
// callable directly, which is how the CLI one-shot commands run them.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/config"
	"github.com/hahimniane/alluvial-academy-sub002/internal/conflict"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
	"github.com/hahimniane/alluvial-academy-sub002/internal/expand"
	"github.com/hahimniane/alluvial-academy-sub002/internal/lifecycle"
	"github.com/hahimniane/alluvial-academy-sub002/internal/reconcile"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/internal/timeutil"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

// ExpandSummary aggregates one expansion sweep over all active templates.
type ExpandSummary struct {
	Templates    int
	Created      int
	Skipped      int
	TasksQueued  int
	TasksSkipped int
	ConfigErrors int
	Warnings     []string
}

// Runner owns the cron schedule and the sweep implementations.
type Runner struct {
	cfg       config.JobsConfig
	store     store.Store
	clock     clock.Clock
	expander  *expand.Expander
	engine    *reconcile.Engine
	detector  *conflict.Detector
	scheduler *lifecycle.Scheduler
	log       logx.Logger

	cron *cron.Cron
}

func New(cfg config.JobsConfig, st store.Store, clk clock.Clock, expander *expand.Expander, engine *reconcile.Engine, detector *conflict.Detector, scheduler *lifecycle.Scheduler, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		clock:     clk,
		expander:  expander,
		engine:    engine,
		detector:  detector,
		scheduler: scheduler,
		log:       log,
	}
}

// Start registers the cron entries and begins triggering them in the
// configured timezone.
func (r *Runner) Start(ctx context.Context) error {
	loc, err := timeutil.LoadZone(r.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("jobs timezone: %w", err)
	}
	c := cron.New(cron.WithLocation(loc))

	entries := []struct {
		spec string
		name string
		run  func()
	}{
		{r.cfg.ExpandSpec, "expand", func() {
			if _, err := r.ExpandAll(ctx, domain.Apply); err != nil {
				r.log.Error("expansion sweep failed", logx.Err(err))
			}
		}},
		{r.cfg.ReconcileSpec, "reconcile", func() {
			if _, err := r.engine.Sweep(ctx, domain.Apply, false); err != nil {
				r.log.Error("reconcile sweep failed", logx.Err(err))
			}
		}},
		{r.cfg.ConflictSpec, "conflict", func() {
			if _, err := r.detector.Scan(ctx); err != nil {
				r.log.Error("conflict scan failed", logx.Err(err))
			}
		}},
	}
	for _, e := range entries {
		if _, err := c.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("cron spec for %s job: %w", e.name, err)
		}
		r.log.Info("job registered",
			logx.String("job", e.name),
			logx.String("spec", e.spec),
			logx.String("timezone", loc.String()))
	}

	c.Start()
	r.cron = c
	return nil
}

// Stop halts triggering. Running sweeps finish on their own.
func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// ExpandAll expands every active template over its horizon and, in apply
// mode, queues lifecycle tasks for the created occurrences. One broken
// template never stops the sweep; configuration errors are counted and the
// template is reported.
func (r *Runner) ExpandAll(ctx context.Context, mode domain.Mode) (*ExpandSummary, error) {
	sum := &ExpandSummary{}
	docs, err := r.store.Query(ctx, domain.CollectionTemplates, store.Eq("active", true))
	if err != nil {
		return nil, fmt.Errorf("query active templates: %w", err)
	}
	now := r.clock.Now()
	for _, doc := range docs {
		tpl, err := store.DecodeTemplate(doc)
		if err != nil {
			sum.ConfigErrors++
			r.log.Warn("skipping undecodable template", logx.Err(err))
			continue
		}
		sum.Templates++

		horizon := tpl.HorizonDays
		if horizon <= 0 {
			horizon = r.cfg.HorizonDays
		}
		res, err := r.expander.Expand(ctx, tpl, now, now.AddDate(0, 0, horizon), mode)
		if err != nil {
			sum.ConfigErrors++
			r.log.Warn("template expansion failed",
				logx.String("template", tpl.ID), logx.Err(err))
			continue
		}
		sum.Created += res.Created
		sum.Skipped += res.SkippedExisting + res.SkippedPast + res.SkippedBase +
			res.SkippedEnd + res.SkippedExcluded + res.SkippedNoMatch
		sum.Warnings = append(sum.Warnings, res.Warnings...)

		if mode != domain.Apply {
			continue
		}
		for _, occ := range res.Occurrences {
			start, end, err := r.scheduler.Schedule(ctx, occ)
			if err != nil {
				r.log.Warn("lifecycle scheduling failed",
					logx.String("shift", occ.ID), logx.Err(err))
				continue
			}
			for _, ref := range []lifecycle.Ref{start, end} {
				if ref.Skipped {
					sum.TasksSkipped++
				} else {
					sum.TasksQueued++
				}
			}
		}
	}

	r.log.Info("expansion sweep complete",
		logx.String("mode", mode.String()),
		logx.Int("templates", sum.Templates),
		logx.Int("created", sum.Created),
		logx.Int("skipped", sum.Skipped),
		logx.Int("tasks_queued", sum.TasksQueued),
		logx.Int("tasks_skipped", sum.TasksSkipped),
		logx.Int("config_errors", sum.ConfigErrors))
	return sum, nil
}
