package format

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
)

type fakePages struct {
	pages map[string]string
	calls []string
}

func (p *fakePages) FetchPage(_ context.Context, url string) (io.Reader, error) {
	p.calls = append(p.calls, url)
	body, ok := p.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return strings.NewReader(body), nil
}

func TestCleanDedupsCaseInsensitively(t *testing.T) {
	f := New(nil, logx.Nop(), Options{})
	got := f.clean([]string{"Foo", "foo", "BAR"}, "", nil)
	want := []string{"Foo", "BAR"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("clean=%v want %v", got, want)
	}
}

func TestCleanDropsNumericEmptyAndTitle(t *testing.T) {
	f := New(nil, logx.Nop(), Options{})
	got := f.clean([]string{"2024", "  ", "Hello World", "c++", "日本語"}, "Hello World", nil)
	want := []string{"c__", "日本語"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("clean=%v want %v", got, want)
	}
}

func TestCleanAppliesReplaceThenIgnore(t *testing.T) {
	f := New(nil, logx.Nop(), Options{})
	rules := &config.TagRules{
		Replace: []string{"^golang$=>Go", "-news$"},
		Ignore:  []string{"^(?i)spam"},
	}
	got := f.clean([]string{"golang", "tech-news", "SpamTag", "keep"}, "", rules)
	want := []string{"Go", "tech", "keep"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("clean=%v want %v", got, want)
	}
}

func TestCleanReusesCompiledRules(t *testing.T) {
	f := New(nil, logx.Nop(), Options{})
	rules := &config.TagRules{Replace: []string{"-news$"}, Ignore: []string{"^spam", "("}}
	first := f.clean([]string{"tech-news", "spam"}, "", rules)

	cached := f.rules["-news$"]
	if cached == nil || len(f.rules) != 3 {
		t.Fatalf("rules cache=%v", f.rules)
	}
	if re, ok := f.rules["("]; !ok || re != nil {
		t.Fatalf("invalid pattern should be cached as nil, got %v (present=%v)", re, ok)
	}

	// A fresh rule set with the same patterns, as produced by each config merge.
	again := &config.TagRules{Replace: []string{"-news$"}, Ignore: []string{"^spam", "("}}
	second := f.clean([]string{"tech-news", "spam"}, "", again)
	if f.rules["-news$"] != cached || len(f.rules) != 3 {
		t.Fatalf("patterns recompiled: %v", f.rules)
	}
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(second, []string{"tech"}) {
		t.Fatalf("clean first=%v second=%v", first, second)
	}
}

func TestFormatBodyLayout(t *testing.T) {
	f := New(nil, logx.Nop(), Options{})
	e := feed.Entry{
		Title:      "Release notes",
		Links:      []string{"https://example.com/r"},
		Categories: []feed.Category{{Term: "go"}, {Term: "x", Label: "Tooling"}},
	}
	got := f.Format(context.Background(), e, "news", &config.TagRules{Always: []string{"bot"}})
	want := "Release notes\nhttps://example.com/r\n\n#news #go #Tooling #bot"
	if got != want {
		t.Fatalf("body=%q\nwant %q", got, want)
	}
}

func TestBodyWithoutTagsOrTitle(t *testing.T) {
	got := Body(feed.Entry{Links: []string{"https://a", "https://b"}}, nil)
	if got != "https://a\nhttps://b" {
		t.Fatalf("body=%q", got)
	}
}

func TestScrapeKeywordsAndXPath(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://example.com/post": `<html><head>
<meta name="keywords" content="alpha, beta ,,gamma">
</head><body><ul class="tags"><li>delta</li><li> epsilon </li></ul></body></html>`,
	}}
	f := New(pages, logx.Nop(), Options{Scrape: true})
	e := feed.Entry{Title: "t", Links: []string{"https://example.com/post", "https://example.com/missing"}}
	got := f.Tags(context.Background(), e, "blog", &config.TagRules{XPath: "//ul[@class='tags']/li"})
	want := []string{"blog", "alpha", "beta", "gamma", "delta", "epsilon"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tags=%v want %v", got, want)
	}
	if len(pages.calls) != 2 {
		t.Fatalf("calls=%v", pages.calls)
	}
}

func TestScrapeSkippedWithoutRules(t *testing.T) {
	pages := &fakePages{}
	f := New(pages, logx.Nop(), Options{Scrape: true})
	got := f.Tags(context.Background(), feed.Entry{Links: []string{"https://x"}}, "id", nil)
	if len(pages.calls) != 0 || !reflect.DeepEqual(got, []string{"id"}) {
		t.Fatalf("tags=%v calls=%v", got, pages.calls)
	}
}
