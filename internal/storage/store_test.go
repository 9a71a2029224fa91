package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	logx "feedrelay/pkg/logx"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "relay.db")
	if err := Migrate(url, logx.Nop()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// second run is a no-op
	if err := Migrate(url, logx.Nop()); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
	st, err := Open(context.Background(), url, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestParseURL(t *testing.T) {
	cases := []struct {
		in     string
		driver string
		dsn    string
		flavor sqlbuilder.Flavor
	}{
		{"postgres://u:p@db/relay?sslmode=disable", DriverPostgres, "postgres://u:p@db/relay?sslmode=disable", sqlbuilder.PostgreSQL},
		{"sqlite:///var/lib/relay.db", DriverSQLite, "/var/lib/relay.db", sqlbuilder.SQLite},
		{"./relay.db", DriverSQLite, "./relay.db", sqlbuilder.SQLite},
	}
	for _, tc := range cases {
		got, err := ParseURL(tc.in)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", tc.in, err)
		}
		if got.Driver != tc.driver || got.DSN != tc.dsn || got.Flavor != tc.flavor {
			t.Fatalf("ParseURL(%q)=%+v", tc.in, got)
		}
	}
	for _, bad := range []string{"", "mysql://x", "sqlite://"} {
		if _, err := ParseURL(bad); err == nil {
			t.Fatalf("ParseURL(%q) should fail", bad)
		}
	}
}

func TestFeedStateRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	fs, err := st.EnsureFeedState(ctx, "news")
	if err != nil {
		t.Fatalf("EnsureFeedState: %v", err)
	}
	if !fs.LastFetch.IsZero() || !fs.NextFetch.IsZero() || fs.LastEntryID != 0 {
		t.Fatalf("new state should carry sentinels: %+v", fs)
	}

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	fs.Advance(now, 15*time.Minute)
	if err := st.PutFeedState(ctx, fs); err != nil {
		t.Fatalf("PutFeedState: %v", err)
	}
	again, err := st.EnsureFeedState(ctx, "news")
	if err != nil {
		t.Fatalf("EnsureFeedState: %v", err)
	}
	if !again.LastFetch.Equal(now) || !again.NextFetch.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("state not persisted: %+v", again)
	}

	list, err := st.ListFeedStates(ctx)
	if err != nil || len(list) != 1 || list[0].FeedID != "news" {
		t.Fatalf("ListFeedStates=%+v err=%v", list, err)
	}
}

func TestAdvanceRejectsNegativeDelay(t *testing.T) {
	var fs FeedState
	now := time.Unix(1000, 0)
	fs.Advance(now, -time.Minute)
	if fs.NextFetch.Before(fs.LastFetch) {
		t.Fatalf("next %v before last %v", fs.NextFetch, fs.LastFetch)
	}
}

func TestEntryLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	if _, err := st.LatestEntry(ctx, "news"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestEntry on empty store: %v", err)
	}

	older := &Entry{FeedID: "news", Title: "old", Link: "https://e/1", PublishedAt: t0, Status: StatusBaseline}
	if _, err := st.InsertEntry(ctx, older); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	newer := &Entry{FeedID: "news", Title: "new", Link: "https://e/2", Categories: []string{"go"}, PublishedAt: t0.Add(time.Hour)}
	id, err := st.InsertEntry(ctx, newer)
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if id == older.ID || newer.Status != StatusQueued {
		t.Fatalf("unexpected insert result id=%d status=%s", id, newer.Status)
	}

	latest, err := st.LatestEntry(ctx, "news")
	if err != nil {
		t.Fatalf("LatestEntry: %v", err)
	}
	if latest.ID != id || latest.Title != "new" || len(latest.Categories) != 1 || !latest.PublishedAt.Equal(newer.PublishedAt) {
		t.Fatalf("latest=%+v", latest)
	}

	n, err := st.CountUnposted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountUnposted=%d err=%v", n, err)
	}

	if err := st.MarkFailed(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	failed, err := st.ListFailed(ctx, 5, 10)
	if err != nil || len(failed) != 1 || failed[0].LastError != "boom" || failed[0].Attempts != 1 {
		t.Fatalf("ListFailed=%+v err=%v", failed, err)
	}
	if none, _ := st.ListFailed(ctx, 1, 10); len(none) != 0 {
		t.Fatalf("attempt bound ignored: %+v", none)
	}

	if err := st.MarkQueued(ctx, id); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := st.MarkPosted(ctx, id, "109876", StatusPosted); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	got, err := st.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.PostID != "109876" || got.Status != StatusPosted || got.LastError != "" {
		t.Fatalf("posted entry=%+v", got)
	}
	if n, _ := st.CountUnposted(ctx); n != 0 {
		t.Fatalf("CountUnposted=%d want 0", n)
	}

	if err := st.MarkPosted(ctx, 9999, "x", StatusPosted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkPosted unknown id: %v", err)
	}
}

func TestFeedStateKeepsMarker(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	e := &Entry{FeedID: "news", Title: "a", PublishedAt: time.Unix(100, 0)}
	if _, err := st.InsertEntry(ctx, e); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	fs, _ := st.EnsureFeedState(ctx, "news")
	fs.LastEntryID = e.ID
	if err := st.PutFeedState(ctx, fs); err != nil {
		t.Fatalf("PutFeedState: %v", err)
	}
	fs.LastEntryID = 0
	fs.Advance(time.Unix(200, 0), time.Minute)
	if err := st.PutFeedState(ctx, fs); err != nil {
		t.Fatalf("PutFeedState: %v", err)
	}
	got, _ := st.EnsureFeedState(ctx, "news")
	if got.LastEntryID != e.ID {
		t.Fatalf("marker lost: %+v", got)
	}
}

func TestListQueuedOnlyOlderThanCutoff(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	st.now = func() time.Time { return t0 }
	stale := &Entry{FeedID: "news", Title: "stale", PublishedAt: t0}
	if _, err := st.InsertEntry(ctx, stale); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	st.now = func() time.Time { return t0.Add(time.Hour) }
	fresh := &Entry{FeedID: "news", Title: "fresh", PublishedAt: t0.Add(time.Minute)}
	if _, err := st.InsertEntry(ctx, fresh); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := st.ListQueued(ctx, t0.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("ListQueued=%+v", got)
	}
}
