package feed

import (
	"time"
)

// DefaultTTL applies when the document declares no time-to-live.
const DefaultTTL = 60 * time.Minute

// TimePrecision is the resolution entry timestamps are kept at; it matches
// what the store persists.
const TimePrecision = time.Millisecond

// Feed is a parsed feed document.
type Feed struct {
	Title   string
	URL     string
	Entries []Entry
	// TTL is the declared time-to-live (RSS <ttl>); zero when absent.
	TTL time.Duration
}

// Category is an entry category. Label is optional.
type Category struct {
	Term  string
	Label string
}

// Name returns the label when set, otherwise the term.
func (c Category) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Term
}

// Entry is one syndicated item. Zero times mean "absent".
type Entry struct {
	ID         string
	Title      string
	Links      []string
	Categories []Category
	Published  time.Time
	Updated    time.Time
}

// Timestamp returns the published time, falling back to updated.
func (e Entry) Timestamp() (time.Time, bool) {
	if !e.Published.IsZero() {
		return e.Published, true
	}
	if !e.Updated.IsZero() {
		return e.Updated, true
	}
	return time.Time{}, false
}

// TimestampOr is Timestamp with a substitute for entries lacking one.
func (e Entry) TimestampOr(fallback time.Time) time.Time {
	if t, ok := e.Timestamp(); ok {
		return t
	}
	return fallback
}

// Link returns the canonical (first) link, or "".
func (e Entry) Link() string {
	if len(e.Links) == 0 {
		return ""
	}
	return e.Links[0]
}

// TTLOrDefault returns the declared TTL or DefaultTTL.
func (f *Feed) TTLOrDefault() time.Duration {
	if f == nil || f.TTL <= 0 {
		return DefaultTTL
	}
	return f.TTL
}

// HasTimestamps reports whether at least one entry carries a timestamp.
func (f *Feed) HasTimestamps() bool {
	if f == nil {
		return false
	}
	for _, e := range f.Entries {
		if _, ok := e.Timestamp(); ok {
			return true
		}
	}
	return false
}
