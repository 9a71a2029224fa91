package publish

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

const (
	DefaultRepublishSchedule    = "@every 30m"
	DefaultRepublishMaxAttempts = 5
	sweepBatch                  = 100
)

// PendingStore lists and re-queues entries that never got a post id.
type PendingStore interface {
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]storage.Entry, error)
	ListQueued(ctx context.Context, createdBefore time.Time, limit int) ([]storage.Entry, error)
	MarkQueued(ctx context.Context, id int64) error
}

// FeedLookup resolves a feed id to a publish-ready snapshot
// (BaseURL resolved, tag rules merged).
type FeedLookup func(id string) (config.FeedConfig, bool)

// Sweeper re-queues failed entries on a cron schedule and recovers entries
// left queued by a previous process.
type Sweeper struct {
	store       PendingStore
	queue       *Queue
	lookup      FeedLookup
	log         logx.Logger
	maxAttempts int

	mu sync.Mutex // one sweep at a time
}

func NewSweeper(store PendingStore, q *Queue, lookup FeedLookup, maxAttempts int, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultRepublishMaxAttempts
	}
	return &Sweeper{store: store, queue: q, lookup: lookup, log: log, maxAttempts: maxAttempts}
}

// Sweep pushes failed entries with attempts left back onto the queue.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.store.ListFailed(ctx, s.maxAttempts, sweepBatch)
	if err != nil {
		return 0, err
	}
	n, err := s.requeue(ctx, entries, true)
	if n > 0 {
		s.log.Info("failed entries re-queued", logx.Int("count", n))
	}
	return n, err
}

// Release marks failed entries with attempts left as queued without pushing
// them. A later process picks them up through Recover.
func (s *Sweeper) Release(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.store.ListFailed(ctx, s.maxAttempts, 0)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := s.store.MarkQueued(ctx, e.ID); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// Recover pushes entries still queued from before startedAt back onto the queue.
func (s *Sweeper) Recover(ctx context.Context, startedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.store.ListQueued(ctx, startedAt, 0)
	if err != nil {
		return 0, err
	}
	n, err := s.requeue(ctx, entries, false)
	if n > 0 {
		s.log.Info("queued entries recovered", logx.Int("count", n))
	}
	return n, err
}

func (s *Sweeper) requeue(ctx context.Context, entries []storage.Entry, mark bool) (int, error) {
	n := 0
	for _, e := range entries {
		fc, ok := s.lookup(e.FeedID)
		if !ok {
			s.log.Debug("entry of unconfigured feed left pending", logx.String("feed", e.FeedID), logx.Int64("entry", e.ID))
			continue
		}
		if mark {
			if err := s.store.MarkQueued(ctx, e.ID); err != nil {
				return n, err
			}
		}
		if err := s.queue.Push(ctx, Item{EntryID: e.ID, Entry: EntryFromRecord(e), Feed: fc}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Run sweeps on schedule until ctx is done. "off" or "" disables sweeping.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || strings.EqualFold(schedule, "off") {
		<-ctx.Done()
		return ctx.Err()
	}
	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("republish sweep failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.log.Info("republish sweeper started", logx.String("schedule", schedule), logx.Int("max_attempts", s.maxAttempts))
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// EntryFromRecord rebuilds the formatter input from a stored record.
func EntryFromRecord(e storage.Entry) feed.Entry {
	out := feed.Entry{Title: e.Title, Published: e.PublishedAt}
	if e.Link != "" {
		out.ID = e.Link
		out.Links = []string{e.Link}
	}
	for _, c := range e.Categories {
		out.Categories = append(out.Categories, feed.Category{Term: c})
	}
	return out
}
