// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"newsbot/internal/config"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/news"
	"newsbot/internal/runtime/supervisor"
	"newsbot/internal/scheduler"
	"newsbot/internal/subscriber"
	kit "newsbot/internal/transport"
	telegram "newsbot/internal/transport/telegram/adapter"
	"newsbot/internal/transport/telegram/router"
	"newsbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter  kit.Adapter
	provider *news.Provider
	registry *subscriber.Registry
	engine   *dispatch.Engine
	sched    *scheduler.Service
	rt       *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
		},
	})
	appLog := log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		MessageLimit: cfg.News.EffectiveMaxMessageLength(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	prov := news.NewProvider(log.With(logx.String("comp", "news")))
	reg := subscriber.NewRegistry(subscriber.Options{
		MaxCategories: cfg.News.EffectiveMaxCategories(),
		ResetOnStart:  cfg.News.EffectiveResetOnStart(),
	}, log.With(logx.String("comp", "registry")), bus)

	eng := dispatch.New(dispatch.Config{
		PageSize:   cfg.News.EffectivePageSize(),
		RatePerSec: cfg.Broadcast.EffectiveRatePerSec(),
		RetryMax:   cfg.Broadcast.EffectiveRetryMax(),
	}, reg, prov, ad, log.With(logx.String("comp", "dispatch")), bus)

	initialDelay, err := config.ParseDurationOrDefault("broadcast.initial_delay", cfg.Broadcast.EffectiveInitialDelay(), 5*time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Enabled:      cfg.Broadcast.Enabled,
		Schedule:     cfg.Broadcast.EffectiveSchedule(),
		InitialDelay: initialDelay,
	}, broadcastJob(prov, eng, appLog), log.With(logx.String("comp", "scheduler")))

	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)
	h := &router.Handlers{Registry: reg, Provider: prov, Engine: eng}
	h.Register(rt)

	return &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		adapter:  ad,
		provider: prov,
		registry: reg,
		engine:   eng,
		sched:    sched,
		rt:       rt,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// broadcastJob generates a fresh story and fans it out.
func broadcastJob(prov *news.Provider, eng *dispatch.Engine, log logx.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		it := prov.GenerateRandom()
		res := eng.Broadcast(ctx, it)
		log.Info("scheduled broadcast done",
			logx.String("item_id", it.ID),
			logx.String("category", it.Category),
			logx.Int("matched", res.Matched),
			logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed))
		return nil
	}
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional hot reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Broadcast.Enabled {
			if _, err := scheduler.ParseSpec(cfg.Broadcast.EffectiveSchedule()); err != nil {
				return fmt.Errorf("broadcast.schedule: %w", err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rt.DispatchLoop(c, a.updates)
	})

	// Debug trace of bus events; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
		},
	})

	a.rt.SetOwners(cfg.Telegram.OwnerUserIDs)

	a.registry.Apply(subscriber.Options{
		MaxCategories: cfg.News.EffectiveMaxCategories(),
		ResetOnStart:  cfg.News.EffectiveResetOnStart(),
	})

	a.engine.Apply(dispatch.Config{
		PageSize:   cfg.News.EffectivePageSize(),
		RatePerSec: cfg.Broadcast.EffectiveRatePerSec(),
		RetryMax:   cfg.Broadcast.EffectiveRetryMax(),
	})

	initialDelay, err := config.ParseDurationOrDefault("broadcast.initial_delay", cfg.Broadcast.EffectiveInitialDelay(), 5*time.Minute)
	if err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(ctx, scheduler.Config{
			Enabled:      cfg.Broadcast.Enabled,
			Schedule:     cfg.Broadcast.EffectiveSchedule(),
			InitialDelay: initialDelay,
		})
		switch {
		case prevEnabled && !cfg.Broadcast.Enabled:
			a.log.Info("broadcast disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && cfg.Broadcast.Enabled:
			a.log.Info("broadcast enabled via config")
			if err := a.sched.Start(ctx); err != nil {
				a.log.Warn("broadcast schedule start failed", logx.Err(err))
			}
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err == nil && sent {
		a.log.Debug("sd_notify stopping sent")
	}

	a.sup.Cancel()

	// Bounded shutdown steps so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
