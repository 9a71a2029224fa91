// Package app wires the relay together: config, storage, fetch loops, the
// publish loop and the optional observability server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	"feedrelay/internal/format"
	"feedrelay/internal/mastodon"
	"feedrelay/internal/metrics"
	"feedrelay/internal/observability"
	"feedrelay/internal/poller"
	"feedrelay/internal/publish"
	"feedrelay/internal/report"
	"feedrelay/internal/runtime/supervisor"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

const (
	userAgent       = "feedrelay/1.0 (+https://github.com/feedrelay/feedrelay)"
	unpostedEvery   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Options are the process-level settings taken from flags and environment.
type Options struct {
	ConfigPath  string
	DatabaseURL string
	DryRun      bool
	// PostInterval and QueueInterval override publish.post_interval and
	// publish.error_cooldown when positive.
	PostInterval  time.Duration
	QueueInterval time.Duration
}

type App struct {
	opts Options

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store     *storage.SQLStore
	metrics   *metrics.Metrics
	reporter  *report.Service
	source    *feed.HTTPSource
	queue     *publish.Queue
	publisher *publish.Publisher
	sweeper   *publish.Sweeper
	obs       *observability.Server
	publish   config.PublishSettings

	sup   *supervisor.Supervisor
	feeds *spawner
}

// New loads the config, migrates and opens the database and builds every
// component. Nothing runs until Run.
func New(ctx context.Context, opts Options) (*App, error) {
	if strings.TrimSpace(opts.DatabaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if err := storage.Migrate(opts.DatabaseURL, log.With(logx.String("comp", "migrate"))); err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, opts.DatabaseURL, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	a := &App{opts: opts, cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app")), store: store}
	a.build(cfg)
	return a, nil
}

func (a *App) build(cfg *config.Config) {
	a.metrics = metrics.New()

	var sink report.Sink
	if tg := cfg.Report.Telegram; tg.Enabled {
		s, err := report.NewTelegramSink(tg.Token, tg.ChatID, tg.ThreadID)
		if err != nil {
			a.log.Warn("telegram reporting disabled", logx.Err(err))
		} else {
			sink = s
		}
	}
	a.reporter = report.New(a.log.With(logx.String("comp", "report")), sink, a.metrics, report.Config{
		RatePerSec: cfg.Report.Telegram.RatePerSec,
	})

	poll := cfg.PollSettings()
	a.source = feed.NewHTTPSource(poll.FetchTimeout, userAgent)

	a.publish = cfg.PublishSettings()
	if a.opts.PostInterval > 0 {
		a.publish.PostInterval = a.opts.PostInterval
	}
	if a.opts.QueueInterval > 0 {
		a.publish.ErrorCooldown = a.opts.QueueInterval
	}
	a.queue = publish.NewQueue(a.publish.QueueSize)
	a.metrics.QueueDepth(a.queue.Len)

	formatter := format.New(a.source, a.log.With(logx.String("comp", "format")), format.Options{Scrape: poll.Scrape})
	visibility := a.publish.Visibility
	client := a.source.Client()
	newPoster := func(baseURL, token string) mastodon.Poster {
		return mastodon.New(baseURL, token, mastodon.WithHTTPClient(client), mastodon.WithVisibility(visibility))
	}
	a.publisher = publish.NewPublisher(a.queue, a.store, formatter, newPoster, a.reporter, a.metrics,
		a.log.With(logx.String("comp", "publish")), publish.Options{
			PostInterval:  a.publish.PostInterval,
			RetryMax:      a.publish.RetryMax,
			RetryDelay:    a.publish.RetryDelay,
			ErrorCooldown: a.publish.ErrorCooldown,
			DryRun:        a.opts.DryRun,
		})
	a.sweeper = publish.NewSweeper(a.store, a.queue, a.lookupFeed, a.publish.RepublishMaxAttempts,
		a.log.With(logx.String("comp", "sweeper")))
	a.obs = observability.New(a.metrics.Registry, a.health, a.log)
}

func (a *App) lookupFeed(id string) (config.FeedConfig, bool) {
	return a.cfgm.Get().SnapshotByID(id)
}

// Run starts every loop and blocks until ctx is done. Long-lived loops are
// restarted after errors and panics; only one-shot tasks run under Go.
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now()
	cfg := a.cfgm.Get()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	runCtx := a.sup.Context()

	a.sup.GoRestart("report", a.reporter.Run)
	a.sup.GoRestart("publish", a.publisher.Run)
	a.sup.GoRestart("republish", func(c context.Context) error {
		return a.sweeper.Run(c, a.publish.RepublishSchedule)
	})
	a.sup.Go("recover", func(c context.Context) error {
		if _, err := a.sweeper.Recover(c, startedAt); err != nil && c.Err() == nil {
			a.reporter.Report(c, report.Event{Kind: report.KindStore, Err: fmt.Errorf("recover queued entries: %w", err)})
		}
		return nil
	})

	a.feeds = newSpawner(func(fc config.FeedConfig) {
		loop := poller.NewLoop(fc, poller.Deps{
			Config:   a.cfgm,
			Source:   a.source,
			Store:    a.store,
			Queue:    a.queue,
			Reporter: a.reporter,
			Metrics:  a.metrics,
			Log:      a.log.With(logx.String("comp", "poller")),
		})
		a.sup.GoRestart("feed."+fc.ID, loop.Run)
	})
	a.feeds.Sync(cfg)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
		return nil
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c, cfg.ReloadEvery())
	})
	a.sup.GoRestart("unposted", a.countUnposted)
	a.obs.Reconfigure(runCtx, cfg.Observability)

	notifyReady(a.log)
	a.sup.Go("watchdog", func(c context.Context) error {
		runWatchdog(c, a.log)
		return nil
	})

	a.log.Info("relay started",
		logx.Int("feeds", len(cfg.Feeds)),
		logx.Bool("dry_run", a.opts.DryRun),
		logx.Int("queue_size", a.queue.Cap()))

	<-runCtx.Done()
	return a.stop()
}

func (a *App) stop() error {
	notifyStopping(a.log)
	a.log.Info("stopping")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.obs.Stop(ctx)
	err := a.sup.Stop(ctx)
	if cerr := a.store.Close(); cerr != nil {
		a.log.Warn("close storage", logx.Err(cerr))
	}
	if n := a.queue.Len(); n > 0 {
		a.log.Info("entries left queued for the next start", logx.Int("count", n))
	}
	a.log.Info("stopped")
	a.logs.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources of an App that was never Run.
func (a *App) Close() error {
	err := a.store.Close()
	a.logs.Close()
	return err
}

// Store exposes the opened store for one-shot commands.
func (a *App) Store() *storage.SQLStore { return a.store }

// Sweeper exposes the recovery sweeper for one-shot commands.
func (a *App) Sweeper() *publish.Sweeper { return a.sweeper }

// Config returns the committed configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, last *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest pending config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	a.logs.Apply(logConfig(cfg))
	a.metrics.ConfigReloaded()
	a.obs.Reconfigure(ctx, cfg.Observability)

	changes := config.DiffFeeds(prev, cfg)
	started := a.feeds.Sync(cfg)
	if len(changes.Removed) > 0 {
		a.log.Warn("feeds removed from config keep polling until restart", logx.Any("feeds", changes.Removed))
	}
	a.log.Info("config applied",
		logx.Any("started", started),
		logx.Any("changed", changes.Changed),
		logx.Int("feeds", len(cfg.Feeds)))
}

func (a *App) countUnposted(ctx context.Context) error {
	t := time.NewTicker(unpostedEvery)
	defer t.Stop()
	for {
		n, err := a.store.CountUnposted(ctx)
		if err == nil {
			a.metrics.Unposted(n)
		} else if ctx.Err() == nil {
			a.log.Debug("count unposted failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console == nil || *l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
