package feed

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
	"github.com/samber/lo"
)

// Parse decodes an RSS, Atom or JSON feed document. Entries keep document order.
func Parse(raw []byte, url string) (*Feed, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{URL: url, Err: ErrEmptyBody}
	}

	var (
		gf  *gofeed.Feed
		ttl time.Duration
		err error
	)
	switch gofeed.DetectFeedType(bytes.NewReader(raw)) {
	case gofeed.FeedTypeRSS:
		// the universal translator drops <ttl>, so parse RSS directly.
		var rf *rss.Feed
		rf, err = (&rss.Parser{}).Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, &ParseError{URL: url, Err: err}
		}
		ttl = parseTTL(rf.TTL)
		gf, err = (&gofeed.DefaultRSSTranslator{}).Translate(rf)
	default:
		gf, err = gofeed.NewParser().Parse(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}

	out := &Feed{
		Title:   strings.TrimSpace(gf.Title),
		URL:     url,
		TTL:     ttl,
		Entries: make([]Entry, 0, len(gf.Items)),
	}
	for _, it := range gf.Items {
		if it == nil {
			continue
		}
		out.Entries = append(out.Entries, convertItem(it))
	}
	return out, nil
}

func convertItem(it *gofeed.Item) Entry {
	e := Entry{
		ID:    strings.TrimSpace(it.GUID),
		Title: strings.TrimSpace(it.Title),
	}
	links := make([]string, 0, len(it.Links)+1)
	if l := strings.TrimSpace(it.Link); l != "" {
		links = append(links, l)
	}
	for _, l := range it.Links {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}
	e.Links = lo.Uniq(links)
	if e.ID == "" {
		e.ID = e.Link()
	}

	for _, c := range it.Categories {
		if c = strings.TrimSpace(c); c != "" {
			e.Categories = append(e.Categories, Category{Term: c})
		}
	}
	if it.PublishedParsed != nil {
		e.Published = it.PublishedParsed.UTC().Truncate(TimePrecision)
	}
	if it.UpdatedParsed != nil {
		e.Updated = it.UpdatedParsed.UTC().Truncate(TimePrecision)
	}
	return e
}

// parseTTL reads an RSS <ttl> value in minutes.
func parseTTL(s string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}
