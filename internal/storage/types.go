package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Status is the lifecycle state of a recorded entry.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPosted   Status = "posted"
	StatusBaseline Status = "baseline" // recorded on first sight of a feed, never posted
	StatusFailed   Status = "failed"   // pending republish
	StatusSkipped  Status = "skipped"  // dry run
)

// FeedState is the per-feed scheduling record. Zero times mean "never".
type FeedState struct {
	FeedID      string
	LastFetch   time.Time
	NextFetch   time.Time
	LastEntryID int64
	UpdatedAt   time.Time
}

// Advance records a fetch at now and schedules the next one delay later.
// Negative delays are treated as zero so NextFetch never precedes LastFetch.
func (s *FeedState) Advance(now time.Time, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.LastFetch = now
	s.NextFetch = now.Add(delay)
}

// Entry is a published (or to-be-published) entry record.
type Entry struct {
	ID          int64
	FeedID      string
	Title       string
	Link        string
	Categories  []string
	PublishedAt time.Time
	PostID      string
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the persistence API used by the poller, the publisher and the CLI.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureFeedState(ctx context.Context, feedID string) (FeedState, error)
	PutFeedState(ctx context.Context, st FeedState) error
	ListFeedStates(ctx context.Context) ([]FeedState, error)

	InsertEntry(ctx context.Context, e *Entry) (int64, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	LatestEntry(ctx context.Context, feedID string) (Entry, error)
	MarkPosted(ctx context.Context, id int64, postID string, status Status) error
	MarkFailed(ctx context.Context, id int64, cause error) error
	MarkQueued(ctx context.Context, id int64) error
	ListFailed(ctx context.Context, maxAttempts, limit int) ([]Entry, error)
	ListQueued(ctx context.Context, createdBefore time.Time, limit int) ([]Entry, error)
	CountUnposted(ctx context.Context) (int, error)

	Close() error
}
