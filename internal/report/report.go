package report

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "feedrelay/pkg/logx"
)

// Kind classifies a reported failure.
type Kind string

const (
	KindFetch   Kind = "fetch"
	KindStore   Kind = "store"
	KindFormat  Kind = "format"
	KindPublish Kind = "publish"
	KindConfig  Kind = "config"
)

// Event is one failure worth surfacing to an operator.
type Event struct {
	Kind    Kind
	FeedID  string
	EntryID int64
	Err     error
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.FeedID != "" {
		fmt.Fprintf(&b, " feed=%s", e.FeedID)
	}
	if e.EntryID != 0 {
		fmt.Fprintf(&b, " entry=%d", e.EntryID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Reporter receives failures from the fetch and publish loops.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// Sink delivers a rendered report somewhere outside the process.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Counter observes reports by kind (prometheus in production).
type Counter interface {
	Inc(kind string)
}

// Config tunes the async sink queue.
type Config struct {
	QueueSize   int
	RatePerSec  int
	DedupWindow time.Duration
	SendTimeout time.Duration
}

// Service is the production Reporter.
type Service struct {
	log     logx.Logger
	sink    Sink
	counter Counter
	cfg     Config
	limiter *rate.Limiter
	queue   chan string

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	dropped atomic.Uint64
}

var _ Reporter = (*Service)(nil)

// New builds a Service. A nil sink makes it log-only.
func New(log logx.Logger, sink Sink, counter Counter, cfg Config) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Service{
		log:     log,
		sink:    sink,
		counter: counter,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan string, cfg.QueueSize),
		dedup:   map[uint64]time.Time{},
	}
}

// Report logs ev and enqueues it for the sink. It never blocks.
func (s *Service) Report(ctx context.Context, ev Event) {
	fields := []logx.Field{logx.String("kind", string(ev.Kind))}
	if ev.FeedID != "" {
		fields = append(fields, logx.String("feed", ev.FeedID))
	}
	if ev.EntryID != 0 {
		fields = append(fields, logx.Int64("entry", ev.EntryID))
	}
	if ev.Err != nil {
		fields = append(fields, logx.Err(ev.Err))
	}
	if ev.Kind == KindPublish || ev.Kind == KindStore {
		s.log.Error("failure reported", fields...)
	} else {
		s.log.Warn("failure reported", fields...)
	}
	if s.counter != nil {
		s.counter.Inc(string(ev.Kind))
	}

	if s.sink == nil || ctx.Err() != nil {
		return
	}
	text := ev.String()
	if !s.allow(text, time.Now()) {
		return
	}
	select {
	case s.queue <- text:
	default:
		s.dropped.Add(1)
	}
}

// Dropped is the number of reports discarded on a full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// Run drains the queue into the sink until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.sink == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
			err := s.sink.Send(sctx, text)
			cancel()
			if err != nil {
				s.log.Debug("report send failed", logx.Err(err))
			}
		}
	}
}

// allow suppresses identical reports inside the dedup window.
func (s *Service) allow(text string, now time.Time) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	if len(s.dedup) > 1024 {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	return true
}
