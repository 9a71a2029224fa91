package format

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/samber/lo"

	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
)

const keywordsXPath = "//meta[@name='keywords']"

// ScrapeError is a failed sub-fetch or page evaluation. Affected tags are omitted.
type ScrapeError struct {
	URL string
	Err error
}

func (e *ScrapeError) Error() string { return fmt.Sprintf("scrape %s: %v", e.URL, e.Err) }

func (e *ScrapeError) Unwrap() error { return e.Err }

func (f *Formatter) scrapeLinks(ctx context.Context, e feed.Entry, xp string) []string {
	var expr *xpath.Expr
	if xp = strings.TrimSpace(xp); xp != "" {
		var err error
		if expr, err = xpath.Compile(xp); err != nil {
			f.log.Warn("invalid xpath skipped", logx.String("xpath", xp), logx.Err(err))
		}
	}

	var tags []string
	for _, link := range lo.Slice(lo.Uniq(e.Links), 0, f.opts.MaxPages) {
		got, err := f.scrape(ctx, link, expr)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return tags
			}
			f.log.Warn("page scrape failed", logx.String("url", link), logx.Err(err))
			continue
		}
		tags = append(tags, got...)
	}
	return tags
}

// scrape returns the meta keywords of a page plus the text of nodes matched by expr.
func (f *Formatter) scrape(ctx context.Context, url string, expr *xpath.Expr) ([]string, error) {
	r, err := f.pages.FetchPage(ctx, url)
	if err != nil {
		return nil, &ScrapeError{URL: url, Err: err}
	}
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, &ScrapeError{URL: url, Err: err}
	}

	var out []string
	for _, n := range htmlquery.Find(doc, keywordsXPath) {
		for _, kw := range strings.Split(htmlquery.SelectAttr(n, "content"), ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	if expr == nil {
		return out, nil
	}

	switch v := expr.Evaluate(htmlquery.CreateXPathNavigator(doc)).(type) {
	case *xpath.NodeIterator:
		for v.MoveNext() {
			if s := strings.TrimSpace(v.Current().Value()); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
