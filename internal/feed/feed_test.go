package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example</title><link>https://example.com</link><ttl>15</ttl>
<item><title>Second</title><link>https://example.com/2</link><guid>id-2</guid>
<category>Go</category><category>News</category>
<pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate></item>
<item><title>First</title><link>https://example.com/1</link><guid>id-1</guid>
<pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate></item>
</channel></rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Atom Example</title><id>urn:x</id><updated>2024-01-02T10:00:00Z</updated>
<entry><title>Only</title><id>urn:e1</id><link href="https://example.com/a"/>
<updated>2024-01-02T10:00:00Z</updated></entry>
</feed>`

func TestParseRSS(t *testing.T) {
	f, err := Parse([]byte(rssDoc), "https://example.com/rss")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.TTL != 15*time.Minute {
		t.Fatalf("ttl=%v want 15m", f.TTL)
	}
	if len(f.Entries) != 2 {
		t.Fatalf("entries=%d want 2", len(f.Entries))
	}
	e := f.Entries[0]
	if e.ID != "id-2" || e.Title != "Second" || e.Link() != "https://example.com/2" {
		t.Fatalf("unexpected first entry: %+v", e)
	}
	if len(e.Categories) != 2 || e.Categories[0].Name() != "Go" {
		t.Fatalf("categories=%+v", e.Categories)
	}
	ts, ok := e.Timestamp()
	if !ok || !ts.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp=%v ok=%v", ts, ok)
	}
}

func TestParseAtomFallsBackToUpdated(t *testing.T) {
	f, err := Parse([]byte(atomDoc), "https://example.com/atom")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.TTL != 0 || f.TTLOrDefault() != DefaultTTL {
		t.Fatalf("ttl=%v default=%v", f.TTL, f.TTLOrDefault())
	}
	if len(f.Entries) != 1 {
		t.Fatalf("entries=%d", len(f.Entries))
	}
	if !f.HasTimestamps() {
		t.Fatalf("expected timestamps via updated")
	}
}

func TestParseTruncatesSubMillisecondTimestamps(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Fine</title><id>urn:f</id><updated>2024-06-01T09:00:00.123456Z</updated>
<entry><title>Frac</title><id>urn:f1</id><link href="https://example.com/f"/>
<published>2024-06-01T09:00:00.123456Z</published>
<updated>2024-06-01T09:05:00.987654321Z</updated></entry>
</feed>`
	f, err := Parse([]byte(doc), "https://example.com/atom")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := f.Entries[0]
	if want := time.Date(2024, 6, 1, 9, 0, 0, 123000000, time.UTC); !e.Published.Equal(want) {
		t.Fatalf("published=%v want %v", e.Published, want)
	}
	if want := time.Date(2024, 6, 1, 9, 5, 0, 987000000, time.UTC); !e.Updated.Equal(want) {
		t.Fatalf("updated=%v want %v", e.Updated, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("definitely not a feed"), "u")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want ParseError, got %v", err)
	}
	if _, err := Parse(nil, "u"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("want ErrEmptyBody, got %v", err)
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != "feedrelay-test" {
			t.Errorf("user-agent=%q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssDoc))
	}))
	defer srv.Close()

	src := NewHTTPSource(5*time.Second, "feedrelay-test")
	f, err := src.Fetch(context.Background(), srv.URL+"/rss")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(f.Entries) != 2 {
		t.Fatalf("entries=%d", len(f.Entries))
	}

	_, err = src.Fetch(context.Background(), srv.URL+"/missing")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 FetchError, got %v", err)
	}
}

func TestHTTPSourceFetchPageDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body>caf\xe9</body></html>"))
	}))
	defer srv.Close()

	r, err := NewHTTPSource(0, "").FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	b, _ := io.ReadAll(r)
	if !strings.Contains(string(b), "café") {
		t.Fatalf("body not decoded: %q", b)
	}
}
