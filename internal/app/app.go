// Package app wires the scheduling core together: config, logging, store,
// task queue, and the services on top of them. The CLI builds one App and
// either runs a one-shot command against its services or starts the cron
// runner and waits.
package app

import (
	"context"
	"fmt"

	"github.com/hahimniane/alluvial-academy-sub002/internal/clock"
	"github.com/hahimniane/alluvial-academy-sub002/internal/config"
	"github.com/hahimniane/alluvial-academy-sub002/internal/conflict"
	"github.com/hahimniane/alluvial-academy-sub002/internal/expand"
	"github.com/hahimniane/alluvial-academy-sub002/internal/jobs"
	"github.com/hahimniane/alluvial-academy-sub002/internal/lifecycle"
	"github.com/hahimniane/alluvial-academy-sub002/internal/queue"
	"github.com/hahimniane/alluvial-academy-sub002/internal/reconcile"
	"github.com/hahimniane/alluvial-academy-sub002/internal/store"
	"github.com/hahimniane/alluvial-academy-sub002/pkg/logx"
)

type App struct {
	manager *config.Manager
	cfg     *config.Config

	logs *logx.Service
	log  logx.Logger

	store     store.Store
	queue     *queue.Memory
	engine    *reconcile.Engine
	expander  *expand.Expander
	detector  *conflict.Detector
	scheduler *lifecycle.Scheduler
	runner    *jobs.Runner
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	manager := config.NewManager(cfgPath, boot)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(cfg.LogxConfig())

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clk := clock.Real{}
	engine := reconcile.New(st, clk, log)

	// The queue dispatches back into the lifecycle scheduler, which needs
	// the queue to create tasks; bind the handler through the variable.
	var scheduler *lifecycle.Scheduler
	q := queue.NewMemory(func(ctx context.Context, task queue.Task) {
		scheduler.HandleTask(ctx, task)
	}, clk, log)
	scheduler = lifecycle.New(q, st, clk, engine, log)

	expander := expand.New(st, clk, log)
	detector := conflict.New(st, clk, log)
	runner := jobs.New(cfg.JobDefaults(), st, clk, expander, engine, detector, scheduler, log)

	return &App{
		manager:   manager,
		cfg:       cfg,
		logs:      logs,
		log:       log,
		store:     st,
		queue:     q,
		engine:    engine,
		expander:  expander,
		detector:  detector,
		scheduler: scheduler,
		runner:    runner,
	}, nil
}

// Start begins the cron sweeps and the config watcher. Config reloads
// re-apply the logging section in place; storage and jobs changes take
// effect on restart.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Jobs.Enabled {
		if err := a.runner.Start(ctx); err != nil {
			return err
		}
	} else {
		a.log.Info("jobs disabled; serving queue only")
	}

	updates := a.manager.Subscribe(1)
	go func() {
		defer a.manager.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.logs.Apply(cfg.LogxConfig())
				a.log.Info("logging config re-applied")
			}
		}
	}()
	go func() { _ = a.manager.Watch(ctx) }()

	a.log.Info("shiftctl started",
		logx.String("store", a.cfg.Storage.Driver),
		logx.Bool("jobs", a.cfg.Jobs.Enabled))
	return nil
}

func (a *App) Stop() {
	a.runner.Stop()
	_ = a.queue.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logs.Close()
}

func (a *App) Log() logx.Logger            { return a.log }
func (a *App) Runner() *jobs.Runner        { return a.runner }
func (a *App) Engine() *reconcile.Engine   { return a.engine }
func (a *App) Detector() *conflict.Detector { return a.detector }
func (a *App) SnapshotDir() string          { return a.cfg.SnapshotDir() }
