// Package interval computes adaptive poll delays from a feed's entry history.
//
// Everything here is pure: the clock is passed in and no I/O happens, so the
// heuristics can be exercised with synthetic entry lists.
package interval

import (
	"sort"
	"time"

	"feedrelay/internal/feed"
)

const (
	DefaultMin = 5 * time.Minute
	DefaultMax = 60 * time.Minute

	// BurstGap is the smallest inter-entry gap counted toward the median.
	BurstGap = 5 * time.Minute

	firstRunMinEntries = 3
)

// Bounds is the [Min, Max] range every delay is clamped to.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBounds returns 5m / 60m.
func DefaultBounds() Bounds { return Bounds{Min: DefaultMin, Max: DefaultMax} }

// Clamp limits d to b. A Max below Min is ignored.
func (b Bounds) Clamp(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && b.Max >= b.Min && d > b.Max {
		d = b.Max
	}
	return d
}

// Estimate picks First for a feed never fetched before (zero lastFetch),
// otherwise Next.
func Estimate(entries []feed.Entry, lastFetch time.Time, ttl time.Duration, now time.Time, b Bounds) time.Duration {
	if lastFetch.IsZero() {
		return First(entries, ttl, now, b)
	}
	return Next(entries, lastFetch, now, b)
}

// First estimates the delay after the very first fetch of a feed.
func First(entries []feed.Entry, ttl time.Duration, now time.Time, b Bounds) time.Duration {
	if ttl <= 0 {
		ttl = feed.DefaultTTL
	}
	d := ttl
	if ts := timestamps(entries); len(ts) >= firstRunMinEntries {
		if gap, ok := newestGap(ts); ok && gap < ttl {
			d = gap
		}
	}
	if d < b.Min {
		d = b.Min
	}
	return b.Clamp(d)
}

// Next estimates the delay for a feed last fetched at lastFetch.
func Next(entries []feed.Entry, lastFetch, now time.Time, b Bounds) time.Duration {
	elapsed := now.Sub(lastFetch)
	if elapsed < 0 {
		elapsed = 0
	}
	backoff := scale(elapsed, 3, 2)

	ts := timestamps(entries)
	if len(ts) == 0 {
		return b.Clamp(backoff)
	}

	var fresh []time.Time
	for _, t := range ts {
		if t.After(lastFetch) {
			fresh = append(fresh, t)
		}
	}
	switch {
	case len(fresh) >= 2:
		return b.Clamp(elapsed / 2)
	case len(fresh) == 1:
		return b.Clamp(fresh[0].Sub(lastFetch))
	}

	gaps := Gaps(ts)
	if len(gaps) == 0 {
		return b.Clamp(backoff)
	}
	median := Median(gaps)
	switch {
	case elapsed < median/6:
		return b.Clamp(median / 6)
	case elapsed < median:
		return b.Clamp(scale(elapsed, 11, 10))
	default:
		return b.Clamp(backoff)
	}
}

// Gaps returns the gaps between consecutive sorted timestamps, dropping those
// under BurstGap.
func Gaps(ts []time.Time) []time.Duration {
	sorted := append([]time.Time(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	var out []time.Duration
	for i := 1; i < len(sorted); i++ {
		if g := sorted[i].Sub(sorted[i-1]); g >= BurstGap {
			out = append(out, g)
		}
	}
	return out
}

// Median returns the median of ds, averaging the two middle values for an even
// count. Zero for an empty slice.
func Median(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	s := append([]time.Duration(nil), ds...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func timestamps(entries []feed.Entry) []time.Time {
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		if t, ok := e.Timestamp(); ok {
			out = append(out, t)
		}
	}
	return out
}

// newestGap is the gap between the two newest distinct timestamps.
func newestGap(ts []time.Time) (time.Duration, bool) {
	var newest, second time.Time
	for _, t := range ts {
		switch {
		case newest.IsZero() || t.After(newest):
			if !newest.IsZero() {
				second = newest
			}
			newest = t
		case t.Before(newest) && (second.IsZero() || t.After(second)):
			second = t
		}
	}
	if second.IsZero() {
		return 0, false
	}
	return newest.Sub(second), true
}

func scale(d time.Duration, num, den int64) time.Duration {
	return time.Duration(int64(d) * num / den)
}
