package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chatd/internal/broadcast"
	"chatd/internal/config"
	"chatd/internal/feed"
	"chatd/internal/runtime/supervisor"
	"chatd/internal/storage"
	"chatd/internal/transport"
	"chatd/internal/transport/telegram"
	logx "chatd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	source feed.Source
	sender transport.Sender
	bc     *broadcast.Broadcaster

	cron         *cron.Cron
	cycleEntry   cron.EntryID
	reprobeEntry cron.EntryID

	mu       sync.Mutex
	settings watchSettings

	// cycleMu serializes cycles across cron ticks, -once runs and the
	// initial cycle.
	cycleMu sync.Mutex
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	settings, err := mapWatchSettings(cfg)
	if err != nil {
		return nil, err
	}

	sender, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("mode", string(sc.Mode)))

	source, err := feed.NewSource(mapSourceConfig(cfg), log.With(logx.String("comp", "feed")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bc := broadcast.New(bcfg, sender, store, log.With(logx.String("comp", "broadcast")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		source:   source,
		sender:   sender,
		bc:       bc,
		settings: settings,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	clog := cronLogger{a.log.With(logx.String("comp", "cron"))}
	a.cron = cron.New(cron.WithChain(
		cron.Recover(clog),
		cron.SkipIfStillRunning(clog),
	))
	if err := a.scheduleCycle(a.settings.interval); err != nil {
		return err
	}
	if err := a.scheduleReprobe(a.settings.reprobe); err != nil {
		return err
	}
	a.cron.Start()

	// First cycle right away so a fresh deploy doesn't wait a full
	// interval before catching up.
	a.sup.Go0("cycle.initial", func(c context.Context) {
		a.cycleTick(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("watcher started", logx.Duration("interval", a.settings.interval))
	return nil
}

func (a *App) scheduleCycle(interval time.Duration) error {
	if a.cycleEntry != 0 {
		a.cron.Remove(a.cycleEntry)
		a.cycleEntry = 0
	}
	id, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		a.cycleTick(a.sup.Context())
	})
	if err != nil {
		return fmt.Errorf("schedule watch cycle: %w", err)
	}
	a.cycleEntry = id
	return nil
}

func (a *App) scheduleReprobe(interval time.Duration) error {
	if a.reprobeEntry != 0 {
		a.cron.Remove(a.reprobeEntry)
		a.reprobeEntry = 0
	}
	if interval <= 0 {
		return nil
	}
	id, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), a.bc.Reprobe)
	if err != nil {
		return fmt.Errorf("schedule health re-probe: %w", err)
	}
	a.reprobeEntry = id
	return nil
}

func (a *App) cycleTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := a.runCycle(ctx); err != nil && ctx.Err() == nil {
		a.log.Error("watch cycle failed", logx.Err(err))
	}
}

// RunOnce executes a single cycle and returns. Used by the -once flag
// for cron-driven deployments and smoke tests.
func (a *App) RunOnce(ctx context.Context) error {
	return a.runCycle(ctx)
}

// MigrateLegacy copies the flat-file backend's snapshot and delivery
// records into the relational backend, regardless of the configured
// mode. Used by the -migrate flag before flipping to dual-write.
func (a *App) MigrateLegacy(ctx context.Context) error {
	cfg := a.cfgm.Get()
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(sc.File.SnapshotPath) == "" || strings.TrimSpace(sc.SQL.DSN) == "" {
		return fmt.Errorf("migrate: both storage.file and storage.sql must be configured")
	}

	from, err := storage.Open(storage.Config{Mode: storage.ModeLegacyOnly, File: sc.File},
		a.log.With(logx.String("comp", "storage"), logx.String("role", "legacy")))
	if err != nil {
		return err
	}
	defer from.Close()

	to, err := storage.Open(storage.Config{Mode: storage.ModePrimaryOnly, SQL: sc.SQL},
		a.log.With(logx.String("comp", "storage"), logx.String("role", "primary")))
	if err != nil {
		return err
	}
	defer to.Close()

	if err := storage.Migrate(ctx, from, to); err != nil {
		return err
	}
	a.log.Info("legacy state migrated to relational backend")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
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
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			lastApplied = newCfg
			a.applyConfig(newCfg, sections)
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "storage", "telegram", "source":
			// Channels are live; token, backend and source wiring are not.
			a.log.Warn("config section needs a restart to fully take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	if bcfg, err := mapBroadcastConfig(cfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bc.Apply(bcfg)
	}

	settings, err := mapWatchSettings(cfg)
	if err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
		return
	}

	a.mu.Lock()
	prev := a.settings
	a.settings = settings
	a.mu.Unlock()

	if settings.interval != prev.interval {
		if err := a.scheduleCycle(settings.interval); err != nil {
			a.log.Warn("failed to reschedule watch cycle; keeping previous interval", logx.Err(err))
		} else {
			a.log.Info("watch interval updated", logx.Duration("interval", settings.interval))
		}
	}
	if settings.reprobe != prev.reprobe {
		if err := a.scheduleReprobe(settings.reprobe); err != nil {
			a.log.Warn("failed to reschedule health re-probe", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		// Stop returns a context that completes when running jobs do;
		// a job mid-cycle is allowed to finish its in-flight sends.
		cronDone := a.cron.Stop()
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
			a.log.Warn("shutdown timeout waiting for running cycle")
		}
	}
	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("watcher stopped")
	_ = a.logs.Close()
	return firstErr
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// cronLogger adapts logx to the cron.Logger interface. Routine
// scheduling chatter stays at debug.
type cronLogger struct {
	log logx.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug(msg, logx.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Warn(msg, logx.Err(err), logx.Any("kv", kv))
}
