// Package app wires the remindd pipeline together: store, preference gate,
// push channels, the two periodic loops, the ops server, and the systemd
// lifecycle hooks.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"remindd/internal/config"
	"remindd/internal/logging"
	"remindd/internal/ops"
	"remindd/internal/prefs"
	"remindd/internal/push"
	"remindd/internal/services/delivery"
	"remindd/internal/services/trigger"
	"remindd/internal/store"
)

type App struct {
	cfgPath string
	log     zerolog.Logger

	st       store.Store
	trigger  *trigger.Service
	delivery *delivery.Service
	ops      *ops.Server
}

// New builds the full object graph from a loaded config. Nothing starts
// running until Run.
func New(cfgPath string, cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var gateway, telegram push.Sender
	if cfg.Push.GatewayURL != "" {
		gateway = push.NewGateway(cfg.Push.GatewayURL, log)
	}
	if cfg.Push.TelegramToken != "" {
		tg, err := push.NewTelegram(cfg.Push.TelegramToken)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		telegram = tg
	}
	if gateway == nil && telegram == nil {
		log.Warn().Msg("no push channel configured; push-capable notifications will log send failures")
	}

	gate := prefs.NewGate(st, log)
	trig := trigger.New(trigger.Config{Interval: cfg.TriggerInterval()}, st, gate, log)
	del := delivery.New(delivery.Config{
		Interval:    cfg.DeliveryInterval(),
		BatchSize:   cfg.Delivery.BatchSize,
		Workers:     cfg.Delivery.Workers,
		RatePerSec:  cfg.Delivery.RatePerSec,
		SendTimeout: cfg.SendTimeout(),
		StaleAfter:  cfg.StaleAfter(),
	}, st, push.NewRouter(gateway, telegram), log)

	a := &App{
		cfgPath:  cfgPath,
		log:      log,
		st:       st,
		trigger:  trig,
		delivery: del,
	}

	addr := cfg.Ops.Addr
	if addr == "" {
		addr = ":8090"
	}
	a.ops = ops.New(addr, log, a.statusSnapshot)
	return a, nil
}

func (a *App) statusSnapshot() any {
	return struct {
		Trigger  trigger.Snapshot  `json:"trigger"`
		Delivery delivery.Snapshot `json:"delivery"`
	}{
		Trigger:  a.trigger.Snapshot(),
		Delivery: a.delivery.Snapshot(),
	}
}

// Run starts the loops and blocks until ctx is cancelled, then shuts
// everything down gracefully: no new ticks start, in-flight items finish.
func (a *App) Run(ctx context.Context) error {
	clog := cronLogger{log: a.log.With().Str("component", "cron").Logger()}
	// SkipIfStillRunning keeps each loop single-flight: an overlapping tick
	// is skipped, never run concurrently against the same entity set.
	// Recover keeps one tick's panic from killing the scheduling process.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(clog), cron.Recover(clog)))

	addJob := func(name, spec string, run func(context.Context)) error {
		_, err := c.AddFunc(spec, func() {
			if ctx.Err() != nil {
				return
			}
			run(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		return nil
	}
	if err := addJob("trigger", "@every "+a.trigger.Interval().String(), a.trigger.Tick); err != nil {
		return err
	}
	if err := addJob("delivery", "@every "+a.delivery.Interval().String(), a.delivery.Tick); err != nil {
		return err
	}
	if err := addJob("stale-sweep", "@every 1h", a.delivery.Sweep); err != nil {
		return err
	}

	// Hot reload: log level and send rate can change without a restart;
	// cadence or store changes need one.
	if err := config.Watch(ctx, a.cfgPath, a.log, func(cfg *config.Config) {
		logging.SetLevel(cfg.Log.Level)
		a.delivery.SetRate(cfg.Delivery.RatePerSec)
	}); err != nil {
		a.log.Warn().Err(err).Msg("config watch unavailable, hot reload disabled")
	}

	a.ops.Start()
	c.Start()
	a.log.Info().
		Dur("trigger_interval", a.trigger.Interval()).
		Dur("delivery_interval", a.delivery.Interval()).
		Msg("remindd started")

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn().Err(err).Msg("sd_notify failed")
	} else if ok {
		a.startWatchdog(ctx)
	}

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// cron.Stop's context completes once in-flight jobs have returned.
	select {
	case <-c.Stop().Done():
	case <-shCtx.Done():
		a.log.Warn().Msg("loops did not drain in time")
	}

	if err := a.ops.Shutdown(shCtx); err != nil {
		a.log.Warn().Err(err).Msg("ops server shutdown error")
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close error")
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

// startWatchdog feeds the systemd watchdog when WatchdogSec is configured.
func (a *App) startWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
