package publish

import (
	"context"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
)

// DefaultQueueSize is used when publish.queue_size is unset.
const DefaultQueueSize = 512

// Item is one unit of publish work. It references the entry row the
// publisher must update afterwards and is never persisted itself.
type Item struct {
	EntryID int64
	Entry   feed.Entry
	// Feed is a snapshot with BaseURL resolved and tag rules merged.
	Feed config.FeedConfig
}

// Queue is a bounded FIFO between many producers and one consumer.
// Push blocks while the queue is full.
type Queue struct {
	ch chan Item
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Item, size)}
}

// Push enqueues it, waiting for space until ctx is done.
func (q *Queue) Push(ctx context.Context, it Item) error {
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits for the next item until ctx is done.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	select {
	case it := <-q.ch:
		return it, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }
