package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	"feedrelay/internal/interval"
	"feedrelay/internal/mastodon"
	"feedrelay/internal/metrics"
	"feedrelay/internal/report"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

// ErrPublish wraps every terminal publish failure.
var ErrPublish = errors.New("publish failed")

const (
	DefaultPostInterval  = 5 * time.Second
	DefaultRetryMax      = 3
	DefaultRetryDelay    = 60 * time.Second
	DefaultErrorCooldown = 10 * time.Second
)

// Formatter renders the status body for an entry.
type Formatter interface {
	Format(ctx context.Context, e feed.Entry, feedID string, rules *config.TagRules) string
}

// EntryStore is the part of storage.Store the publisher writes to.
type EntryStore interface {
	MarkPosted(ctx context.Context, id int64, postID string, status storage.Status) error
	MarkFailed(ctx context.Context, id int64, cause error) error
}

// PosterFactory builds a posting client for one account.
type PosterFactory func(baseURL, token string) mastodon.Poster

type Options struct {
	PostInterval  time.Duration
	RetryMax      int
	RetryDelay    time.Duration
	ErrorCooldown time.Duration
	DryRun        bool
}

func (o Options) withDefaults() Options {
	if o.PostInterval <= 0 {
		o.PostInterval = DefaultPostInterval
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ErrorCooldown < 0 {
		o.ErrorCooldown = 0
	}
	return o
}

// Publisher is the single consumer of the queue.
//
// Run must be called from one goroutine only: the client cache is owned by
// that goroutine and is not synchronized.
type Publisher struct {
	queue     *Queue
	store     EntryStore
	formatter Formatter
	newPoster PosterFactory
	reporter  report.Reporter
	metrics   *metrics.Metrics
	log       logx.Logger
	opts      Options

	limiter *rate.Limiter
	clients map[string]mastodon.Poster
}

func NewPublisher(q *Queue, store EntryStore, f Formatter, newPoster PosterFactory, rep report.Reporter, m *metrics.Metrics, log logx.Logger, opts Options) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	return &Publisher{
		queue:     q,
		store:     store,
		formatter: f,
		newPoster: newPoster,
		reporter:  rep,
		metrics:   m,
		log:       log,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.PostInterval), 1),
		clients:   map[string]mastodon.Poster{},
	}
}

// Run drains the queue until ctx is done and returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("publisher started",
		logx.Bool("dry_run", p.opts.DryRun),
		logx.String("post_interval", interval.Humanize(p.opts.PostInterval)),
		logx.Int("retry_max", p.opts.RetryMax))
	for {
		it, err := p.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if err := p.handle(ctx, it); err != nil {
			return err
		}
	}
}

// handle publishes one item. Only cancellation is returned; every other
// failure is recorded, reported and followed by the cooldown.
func (p *Publisher) handle(ctx context.Context, it Item) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return ctxErr(ctx, err)
	}
	log := p.log.With(logx.String("feed", it.Feed.ID), logx.Int64("entry", it.EntryID))
	body := p.formatter.Format(ctx, it.Entry, it.Feed.ID, it.Feed.Tag)

	if p.opts.DryRun {
		log.Info("dry run, not posting", logx.String("body", body))
		p.metrics.Published("skipped", 0)
		p.markPosted(ctx, it, "", storage.StatusSkipped)
		return nil
	}

	start := time.Now()
	postID, err := p.post(ctx, it, body, log)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.Published("failed", time.Since(start))
		perr := fmt.Errorf("%w: %w", ErrPublish, err)
		if serr := p.store.MarkFailed(ctx, it.EntryID, perr); serr != nil {
			p.report(ctx, report.KindStore, it, serr)
		}
		p.report(ctx, report.KindPublish, it, perr)
		return p.cooldown(ctx)
	}

	p.metrics.Published("posted", time.Since(start))
	log.Info("posted", logx.String("post_id", postID), logx.String("title", it.Entry.Title))
	p.markPosted(ctx, it, postID, storage.StatusPosted)
	return nil
}

// post calls the poster, retrying only rate-limited attempts with a fixed delay.
func (p *Publisher) post(ctx context.Context, it Item, body string, log logx.Logger) (string, error) {
	poster := p.client(it.Feed)
	op := func() (string, error) {
		id, err := poster.Post(ctx, body)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, mastodon.ErrRateLimited) {
			p.metrics.Published("rate_limited", 0)
			return "", err
		}
		return "", backoff.Permanent(err)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.opts.RetryDelay), uint64(p.opts.RetryMax)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Warn("rate limited, retrying", logx.Err(err), logx.String("wait", interval.Humanize(wait)))
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

// client returns the cached poster for the feed's account, creating it on first use.
func (p *Publisher) client(fc config.FeedConfig) mastodon.Poster {
	key := fc.BaseURL + "\x00" + fc.Token
	if c, ok := p.clients[key]; ok {
		return c
	}
	c := p.newPoster(fc.BaseURL, fc.Token)
	p.clients[key] = c
	return c
}

func (p *Publisher) markPosted(ctx context.Context, it Item, postID string, status storage.Status) {
	if err := p.store.MarkPosted(ctx, it.EntryID, postID, status); err != nil {
		p.report(ctx, report.KindStore, it, err)
	}
}

func (p *Publisher) report(ctx context.Context, kind report.Kind, it Item, err error) {
	if p.reporter == nil {
		p.log.Error("publish failure", logx.String("kind", string(kind)), logx.Err(err))
		return
	}
	p.reporter.Report(ctx, report.Event{Kind: kind, FeedID: it.Feed.ID, EntryID: it.EntryID, Err: err})
}

func (p *Publisher) cooldown(ctx context.Context) error {
	if p.opts.ErrorCooldown <= 0 {
		return nil
	}
	t := time.NewTimer(p.opts.ErrorCooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
