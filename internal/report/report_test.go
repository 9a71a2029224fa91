package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "feedrelay/pkg/logx"
)

type memSink struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (m *memSink) Send(_ context.Context, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, text)
	m.mu.Unlock()
	select {
	case m.done <- struct{}{}:
	default:
	}
	return nil
}

type countByKind map[string]int

func (c countByKind) Inc(kind string) { c[kind]++ }

func TestReportForwardsAndDedups(t *testing.T) {
	sink := &memSink{done: make(chan struct{}, 4)}
	counts := countByKind{}
	svc := New(logx.Nop(), sink, counts, Config{RatePerSec: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	ev := Event{Kind: KindPublish, FeedID: "news", EntryID: 7, Err: errors.New("boom")}
	svc.Report(ctx, ev)
	svc.Report(ctx, ev)

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("report not delivered")
	}
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.sent) != 1 {
		t.Fatalf("sent=%v want exactly one (dedup)", sink.sent)
	}
	if want := "[publish] feed=news entry=7: boom"; sink.sent[0] != want {
		t.Fatalf("text=%q want %q", sink.sent[0], want)
	}
	if counts["publish"] != 2 {
		t.Fatalf("counter=%v", counts)
	}
}

func TestReportNeverBlocks(t *testing.T) {
	svc := New(logx.Nop(), &memSink{done: make(chan struct{})}, nil, Config{QueueSize: 1})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.Report(ctx, Event{Kind: KindFetch, EntryID: int64(i + 1), Err: errors.New("x")})
	}
	if svc.Dropped() != 4 {
		t.Fatalf("dropped=%d want 4", svc.Dropped())
	}
}
