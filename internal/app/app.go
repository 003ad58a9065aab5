// Package app wires the monitoring engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serverwatch/internal/bot"
	"serverwatch/internal/channels/email"
	"serverwatch/internal/channels/telegram"
	"serverwatch/internal/channels/whatsapp"
	"serverwatch/internal/config"
	"serverwatch/internal/eventbus"
	"serverwatch/internal/httpapi"
	"serverwatch/internal/incident"
	"serverwatch/internal/notifier"
	"serverwatch/internal/probe"
	rtsup "serverwatch/internal/runtime/supervisor"
	"serverwatch/internal/scheduler"
	"serverwatch/internal/settings"
	"serverwatch/internal/storage"
	logx "serverwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	settings *settings.Manager
	telegram *telegram.Client
	email    *email.Sender
	whatsapp *whatsapp.Client
	notif    *notifier.Dispatcher
	timers   *scheduler.Registry
	ledger   *incident.Ledger
	poller   *scheduler.Poller
	bot      *bot.Dispatcher
	http     *httpapi.Server

	seeds   []config.SeedTarget
	updates chan telegram.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Telegram log forwarding needs the chat sink and target in place before
	// it is enabled, so bootstrap without it and Apply the final config after.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	tgCfg, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	tg := telegram.New(tgCfg, root)
	logSvc.SetSink(tg)
	logSvc.SetTelegramTarget(cfg.Logging.Telegram.ChatID)
	logSvc.Apply(logCfg)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; state is kept in memory only")
		store = storage.NewMemory()
	case err != nil:
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		cfgm:     cfgm,
		root:     root,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		store:    store,
		telegram: tg,
		seeds:    cfg.Monitor.Targets,
		updates:  make(chan telegram.Update, 256),
	}
	if err := a.build(cfg, root); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// build constructs every component on top of the store and bus.
func (a *App) build(cfg *config.Config, root logx.Logger) error {
	a.settings = settings.NewManager(a.store, root)
	a.email = email.New(mapEmail(cfg), root)
	a.whatsapp = whatsapp.New(mapWhatsApp(cfg), root)

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.store, a.settings, a.bus, root, a.email, a.telegram, a.whatsapp)

	a.timers = scheduler.NewRegistry(root)

	lopts, err := mapLedger(cfg)
	if err != nil {
		return err
	}
	a.ledger = incident.NewLedger(a.store, a.notif, a.timers, a.bus, lopts, root)

	pcfg, err := mapProbe(cfg)
	if err != nil {
		return err
	}
	a.poller = scheduler.NewPoller(a.store, probe.New(pcfg, root), a.timers, a.bus, a.settings, a.ledger,
		scheduler.Options{ProbeTimeout: pcfg.Timeout}, root)

	a.bot = bot.New(mapBot(cfg), a.store, a.telegram, a.poller, a.ledger, root)

	if cfg.HTTP.Enabled {
		hcfg, err := mapHTTP(cfg)
		if err != nil {
			return err
		}
		a.http = httpapi.New(hcfg, httpapi.Deps{
			Store:    a.store,
			Monitor:  a.poller,
			Resolver: a.ledger,
			Settings: a.settings,
			Channels: a.notif,
			Bus:      a.bus,
		}, root)
	}
	return nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings components up in dependency order: settings, seed targets,
// channels, timers, recovery watchers, polling, then the inbound surfaces.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	runCtx := a.sup.Context()

	if _, err := a.settings.Refresh(runCtx); err != nil {
		a.log.Warn("settings load failed; using defaults", logx.Err(err))
	}
	if err := a.seedTargets(runCtx); err != nil {
		a.log.Warn("seeding targets failed", logx.Err(err))
	}

	a.initChannels(runCtx)

	a.timers.Start(runCtx)
	if err := a.ledger.Start(runCtx); err != nil {
		a.log.Warn("recovery watcher restore failed", logx.Err(err))
	}
	// The first round of checks runs in the background so a slow target
	// does not hold up startup.
	a.sup.Go("poller.start", func(c context.Context) error {
		if err := a.poller.Start(c); err != nil && c.Err() == nil {
			a.log.Error("poller start failed", logx.Err(err))
		}
		return nil
	})

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		if err := a.bot.Run(c, a.updates); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.http != nil {
		a.sup.Go("http.serve", a.http.Run)
	}

	a.logEvents()
	a.watchConfig()

	a.log.Info("app started")
	return nil
}

// initChannels prepares the senders. A channel that fails stays in the failed
// state and is skipped by the dispatcher; it never stops the app.
func (a *App) initChannels(ctx context.Context) {
	if err := a.email.Init(ctx); err != nil {
		a.log.Warn("email channel unavailable", logx.Err(err))
	}
	if err := a.whatsapp.Init(ctx); err != nil {
		a.log.Warn("whatsapp channel unavailable", logx.Err(err))
	}
	if err := a.telegram.Start(ctx, a.updates); err != nil {
		a.log.Warn("telegram channel unavailable", logx.Err(err))
		return
	}
	a.sup.Go0("telegram.commands", func(c context.Context) {
		tick := time.NewTicker(500 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-tick.C:
			}
			switch a.telegram.Status() {
			case notifier.StatusReady:
				if err := a.telegram.SetCommands(a.bot.Commands()); err != nil {
					a.log.Warn("set bot commands failed", logx.Err(err))
				}
				return
			case notifier.StatusFailed, notifier.StatusUninitialized:
				return
			}
		}
	})
}

func (a *App) logEvents() {
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
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Timers first so no new checks or recovery probes start, then the
	// channels, then the store everything else writes to.
	a.step(ctx, "timers", 3*time.Second, func(c context.Context) error { a.timers.Stop(c); return nil })
	a.step(ctx, "telegram", 3*time.Second, a.telegram.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	if n := a.bus.Dropped(); n > 0 {
		a.log.Info("event deliveries dropped during run", logx.Uint64("count", n))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx's own deadline. A step
// that overruns is left behind and reported when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
