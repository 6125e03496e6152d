// Package app wires the measurement engine, scheduler, history store and
// config manager into one process.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"linkpulse/internal/config"
	"linkpulse/internal/engine"
	"linkpulse/internal/history"
	"linkpulse/internal/netio"
	"linkpulse/internal/probe"
	"linkpulse/internal/runtime/supervisor"
	"linkpulse/internal/services/scheduler"
	logx "linkpulse/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	engine *engine.Engine
	sched  *scheduler.Service
	store  *history.Store

	sup *supervisor.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(history.Config{
			Path:        cfg.History.Path,
			MaxAgeDays:  cfg.History.MaxAgeDays,
			MaxRecords:  cfg.History.MaxRecords,
			BusyTimeout: config.Duration(cfg.History.BusyTimeout, 0),
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		log.Info("history enabled", logx.String("path", cfg.History.Path))
	}

	engLog := log.With(logx.String("comp", "engine"))
	eng := engine.New(cfg, engine.Probers{
		Pinger:   probe.NewExecPinger(engLog),
		Resolver: probe.NewTimedResolver(),
		Gateway:  probe.NewExecGatewayFinder(),
		Counters: netio.NewSystemCounterSource(),
	}, engLog, engine.WithHistoryStore(store))

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Schedule: cfg.Scheduler.Schedule,
		Timezone: cfg.Scheduler.Timezone,
	}, func() { eng.StartTest() }, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:   cfgm,
		logs:   logSvc,
		log:    log,
		engine: eng,
		sched:  sched,
		store:  store,
	}, nil
}

// Engine exposes the measurement core for the presentation layer.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.engine.Start(a.sup.Context())
	if err := a.sched.Start(); err != nil {
		return err
	}

	// Hot reload: config file changes fan out to logging, engine, scheduler.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(cfg.Logging)
				a.engine.ApplyConfig(cfg)
				if err := a.sched.Apply(scheduler.Config{
					Enabled:  cfg.Scheduler.Enabled,
					Schedule: cfg.Scheduler.Schedule,
					Timezone: cfg.Scheduler.Timezone,
				}); err != nil {
					a.log.Warn("scheduler reload failed", logx.Err(err))
				}
				a.log.Info("config reloaded")
			}
		}
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	// Best effort; a no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sched.Stop()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.engine.Close(stopCtx)
	cancel()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("engine stop", logx.Err(err))
	}

	if a.sup != nil {
		a.sup.Cancel()
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = a.sup.Wait(waitCtx)
		cancel()
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
