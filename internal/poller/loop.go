package poller

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/samber/lo"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	"feedrelay/internal/interval"
	"feedrelay/internal/metrics"
	"feedrelay/internal/publish"
	"feedrelay/internal/report"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

// Store is the part of storage.Store a fetch loop uses.
type Store interface {
	EnsureFeedState(ctx context.Context, feedID string) (storage.FeedState, error)
	PutFeedState(ctx context.Context, st storage.FeedState) error
	LatestEntry(ctx context.Context, feedID string) (storage.Entry, error)
	InsertEntry(ctx context.Context, e *storage.Entry) (int64, error)
}

// ConfigSource returns the latest committed configuration.
type ConfigSource interface {
	Get() *config.Config
}

type Deps struct {
	Config   ConfigSource
	Source   feed.Source
	Store    Store
	Queue    *publish.Queue
	Reporter report.Reporter
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

// Loop is the fetch loop of a single feed.
type Loop struct {
	feedID string
	feed   config.FeedConfig // last known snapshot; kept when the feed leaves the config
	deps   Deps
	log    logx.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(from, to time.Duration) time.Duration
}

// NewLoop builds the loop for fc, which must be a Snapshot of a configured feed.
func NewLoop(fc config.FeedConfig, deps Deps) *Loop {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		feedID: fc.ID,
		feed:   fc,
		deps:   deps,
		log:    log.With(logx.String("feed", fc.ID)),
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: randomJitter,
	}
}

// Run loops until ctx is done and returns ctx.Err(). Fetch and store failures
// are reported and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	st, err := l.deps.Store.EnsureFeedState(ctx, l.feedID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.report(ctx, report.KindStore, err)
		st = storage.FeedState{FeedID: l.feedID}
	}

	poll := l.deps.Config.Get().PollSettings()
	now := l.now()
	wait := st.NextFetch.Sub(now)
	if st.NextFetch.IsZero() || wait <= 0 {
		wait = l.jitter(poll.JitterMin, poll.JitterMax)
	}
	l.log.Info("fetch loop started", logx.String("first_fetch_in", interval.Humanize(wait)))
	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	for {
		delay, err := l.Cycle(ctx, &st)
		if err != nil {
			return err
		}
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Cycle runs one fetch, records and enqueues new entries, and persists the
// updated state. It returns the delay before the next cycle. Only
// cancellation is returned as an error.
func (l *Loop) Cycle(ctx context.Context, st *storage.FeedState) (time.Duration, error) {
	cfg := l.deps.Config.Get()
	if fc, ok := cfg.SnapshotByID(l.feedID); ok {
		l.feed = fc
	}
	poll := cfg.PollSettings()
	bounds := interval.Bounds{Min: poll.MinWait, Max: poll.MaxWait}

	start := l.now()
	doc, err := l.deps.Source.Fetch(ctx, l.feed.URL)
	now := l.now()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		l.deps.Metrics.FetchDone(l.feedID, "error", now.Sub(start))
		l.report(ctx, report.KindFetch, err)
		st.Advance(now, poll.ErrorCooldown)
		l.saveState(ctx, *st)
		l.log.Info("fetch failed, cooling down", logx.String("next_in", interval.Humanize(poll.ErrorCooldown)))
		return poll.ErrorCooldown, nil
	}
	l.deps.Metrics.FetchDone(l.feedID, "ok", now.Sub(start))

	queued, err := l.publishNew(ctx, doc, now, st)
	if err != nil {
		return 0, err
	}

	delay := interval.Estimate(doc.Entries, st.LastFetch, doc.TTL, now, bounds)
	st.Advance(now, delay)
	l.saveState(ctx, *st)
	l.deps.Metrics.NewEntries(l.feedID, queued)
	l.deps.Metrics.NextDelay(l.feedID, delay)
	l.log.Info("feed fetched",
		logx.Int("entries", len(doc.Entries)),
		logx.Int("queued", queued),
		logx.String("next_in", interval.Humanize(delay)))
	return delay, nil
}

// publishNew records new entries and pushes them onto the queue in order.
// A record is always written before its queue item. A failed insert stops
// the batch so later entries are picked up again next cycle.
func (l *Loop) publishNew(ctx context.Context, doc *feed.Feed, now time.Time, st *storage.FeedState) (int, error) {
	var lastPtr *storage.Entry
	last, err := l.deps.Store.LatestEntry(ctx, l.feedID)
	switch {
	case err == nil:
		lastPtr = &last
	case errors.Is(err, storage.ErrNotFound):
	default:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		l.report(ctx, report.KindStore, err)
		return 0, nil
	}

	dec := DetermineNew(doc.Entries, lastPtr)
	if dec.Baseline != nil {
		rec := record(l.feedID, *dec.Baseline, now, storage.StatusBaseline)
		if _, err := l.deps.Store.InsertEntry(ctx, &rec); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			l.report(ctx, report.KindStore, err)
			return 0, nil
		}
		st.LastEntryID = rec.ID
		l.log.Info("first sight of feed, baseline recorded", logx.String("title", rec.Title))
	}

	queued := 0
	for _, e := range dec.New {
		rec := record(l.feedID, e, now, storage.StatusQueued)
		if _, err := l.deps.Store.InsertEntry(ctx, &rec); err != nil {
			if ctx.Err() != nil {
				return queued, ctx.Err()
			}
			l.report(ctx, report.KindStore, err)
			break
		}
		st.LastEntryID = rec.ID
		if err := l.deps.Queue.Push(ctx, publish.Item{EntryID: rec.ID, Entry: e, Feed: l.feed}); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func (l *Loop) saveState(ctx context.Context, st storage.FeedState) {
	if err := l.deps.Store.PutFeedState(ctx, st); err != nil && ctx.Err() == nil {
		l.report(ctx, report.KindStore, err)
	}
}

func (l *Loop) report(ctx context.Context, kind report.Kind, err error) {
	if l.deps.Reporter == nil {
		l.log.Warn("loop failure", logx.String("kind", string(kind)), logx.Err(err))
		return
	}
	l.deps.Reporter.Report(ctx, report.Event{Kind: kind, FeedID: l.feedID, Err: err})
}

func record(feedID string, e feed.Entry, fetchedAt time.Time, status storage.Status) storage.Entry {
	return storage.Entry{
		FeedID:      feedID,
		Title:       e.Title,
		Link:        e.Link(),
		Categories:  lo.Map(e.Categories, func(c feed.Category, _ int) string { return c.Name() }),
		PublishedAt: e.TimestampOr(fetchedAt),
		Status:      status,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(from, to time.Duration) time.Duration {
	if to <= from {
		return from
	}
	return from + rand.N(to-from)
}
