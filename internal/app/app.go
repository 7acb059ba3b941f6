package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feedbot/internal/bot"
	"feedbot/internal/config"
	"feedbot/internal/eventbus"
	"feedbot/internal/feed"
	"feedbot/internal/inbound"
	"feedbot/internal/metrics"
	"feedbot/internal/notifier"
	"feedbot/internal/observability/pprof"
	"feedbot/internal/runtime/supervisor"
	"feedbot/internal/storage"
	telegram "feedbot/internal/transport/telegram/adapter"
	"feedbot/internal/updater"
	logx "feedbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter

	notif     *notifier.Notifier
	metrics   *metrics.Collector
	scheduler *updater.Scheduler
	queue     *inbound.Queue
	consumer  *inbound.Consumer
	receiver  *inbound.Receiver
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:   cfg.Telegram.Token,
		Timeout: cfg.Telegram.Timeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	schedule, parsed, err := updater.NewSchedule(cfg.Updater.Schedule)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("update schedule", logx.String("spec", cfg.Updater.Schedule), logx.String("source", parsed.Source))

	notif := notifier.New(mapNotifierConfig(cfg), ad, store, log, bus)
	fetcher := feed.NewFetcher(mapFeedOptions(cfg, log.With(logx.String("comp", "feed"))))
	formatter := feed.Formatter{SummaryLength: cfg.Feed.SummaryLength}

	sched := updater.New(updater.Options{
		Store:             store,
		Fetcher:           fetcher,
		Notifier:          notif,
		Formatter:         formatter,
		Schedule:          schedule,
		DigestWindow:      cfg.Updater.DigestWindow,
		NotificationsFile: cfg.Updater.NotificationsFile,
		Log:               log.With(logx.String("comp", "updater")),
		Bus:               bus,
	})

	dispatcher := bot.New(bot.Options{
		Store:          store,
		Feeds:          fetcher,
		Notifier:       notif,
		Formatter:      formatter,
		AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
		DigestWindow:   cfg.Updater.DigestWindow,
		Log:            log,
	})

	queue := inbound.NewQueue(store, bus)
	consumer := inbound.NewConsumer(inbound.ConsumerOptions{
		Queue:       queue,
		Dispatcher:  dispatcher,
		Notifier:    notif,
		Subscribers: store,
		Farewell:    mapFarewell(cfg),
		Log:         log.With(logx.String("comp", "consumer")),
		Bus:         bus,
	})

	collector := metrics.New()
	receiver := inbound.NewReceiver(inbound.ReceiverOptions{
		Queue:        queue,
		Bans:         store,
		Path:         cfg.Webhook.Path,
		SecretToken:  cfg.Webhook.SecretToken,
		BanFor:       cfg.Webhook.BanFor(),
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Metrics:      collector.Handler(),
		Profiling:    pprof.Handler(cfg.Webhook.PprofToken),
		Log:          log.With(logx.String("comp", "receiver")),
		Bus:          bus,
	})

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		notif:     notif,
		metrics:   collector,
		scheduler: sched,
		queue:     queue,
		consumer:  consumer,
		receiver:  receiver,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// Rejected credentials stop everything.
	a.notif.OnFatal(func(err error) {
		a.sup.Fail(fmt.Errorf("telegram rejected the bot token: %w", err))
	})

	cfg := a.cfgm.Get()
	if u := strings.TrimSpace(cfg.Webhook.PublicURL); u != "" {
		hookURL := strings.TrimRight(u, "/") + cfg.Webhook.Path
		if err := a.adapter.SetWebhook(a.sup.Context(), hookURL, cfg.Webhook.SecretToken); err != nil {
			a.sup.Cancel()
			return err
		}
		a.log.Info("webhook registered", logx.String("url", hookURL))
	}

	listen := cfg.Webhook.Listen
	a.sup.Go("receiver", func(c context.Context) error {
		return a.receiver.Run(c, listen)
	})
	a.sup.Go("consumer", a.consumer.Run)
	a.sup.Go("updater", a.scheduler.Run)
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Keep this debug-level; notifier events are frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startConfigReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("feedbot started", logx.String("config", a.cfgPath))
	return nil
}

// startConfigReload applies hot-reloaded logging settings. Every other
// section is read once at startup.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}

				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config changed", fields...)
				if config.RestartRequired(sections) {
					a.log.Warn("config change requires a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
				}
				lastApplied = newCfg
				a.logs.Apply(mapLogConfig(newCfg))
			}
		}
	})
}

// Stop cancels every component and waits for them. The consumer drains the
// queue and says goodbye before returning, so ctx should allow for that.
func (a *App) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	a.log.Info("stopping")

	var errs []error
	step := func(name string, fn func() error) {
		start := time.Now()
		err := fn()
		if err != nil {
			errs = append(errs, err)
			a.log.Warn("stop step failed", logx.String("step", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
	}

	if a.sup != nil {
		step("supervisor", func() error {
			err := a.sup.Stop(ctx)
			if errors.Is(err, context.DeadlineExceeded) {
				a.log.Warn("components still running", logx.Any("active", a.sup.Active()))
			}
			if err != nil && a.sup.Err() != nil && errors.Is(err, a.sup.Err()) {
				// already reported by the supervisor
				return nil
			}
			return err
		})
	}
	step("storage", a.store.Close)
	a.log.Info("stopped")
	step("logging", a.logs.Close)
	return errors.Join(errs...)
}
