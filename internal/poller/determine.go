package poller

import (
	"sort"
	"time"

	"feedrelay/internal/feed"
	"feedrelay/internal/storage"
)

// Decision is the outcome of comparing a fetched feed with the last record.
type Decision struct {
	// Baseline is recorded without being posted (first sight of a feed).
	Baseline *feed.Entry
	// New holds entries to record and enqueue, oldest first.
	New []feed.Entry
}

// DetermineNew selects the entries to publish. last is nil when nothing has
// been recorded for the feed yet.
func DetermineNew(entries []feed.Entry, last *storage.Entry) Decision {
	if len(entries) == 0 {
		return Decision{}
	}
	if !anyPublished(entries) {
		return byIdentity(entries[0], last)
	}
	if last == nil {
		newest := newestEntry(entries)
		return Decision{Baseline: &newest}
	}

	cutoff := last.PublishedAt.Truncate(feed.TimePrecision)
	var fresh []feed.Entry
	for _, e := range entries {
		// Undated entries cannot be ordered against the last record.
		ts, ok := e.Timestamp()
		if !ok || !ts.Truncate(feed.TimePrecision).After(cutoff) {
			continue
		}
		fresh = append(fresh, e)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		ti, _ := fresh[i].Timestamp()
		tj, _ := fresh[j].Timestamp()
		return ti.Before(tj)
	})
	return Decision{New: fresh}
}

// byIdentity handles feeds without publish dates: only the first entry in
// document order is considered, and it is new when its title or link differs
// from the last record.
func byIdentity(top feed.Entry, last *storage.Entry) Decision {
	if last == nil {
		return Decision{Baseline: &top}
	}
	if top.Title == last.Title && top.Link() == last.Link {
		return Decision{}
	}
	return Decision{New: []feed.Entry{top}}
}

func anyPublished(entries []feed.Entry) bool {
	for _, e := range entries {
		if !e.Published.IsZero() {
			return true
		}
	}
	return false
}

// newestEntry returns the entry with the latest timestamp. Callers ensure at
// least one entry is dated.
func newestEntry(entries []feed.Entry) feed.Entry {
	var (
		best   feed.Entry
		bestTS time.Time
	)
	for _, e := range entries {
		if ts, ok := e.Timestamp(); ok && (bestTS.IsZero() || ts.After(bestTS)) {
			best, bestTS = e, ts
		}
	}
	return best
}
