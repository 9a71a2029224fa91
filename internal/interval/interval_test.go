package interval

import (
	"math/rand"
	"testing"
	"time"

	"feedrelay/internal/feed"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entriesAt(mins ...int) []feed.Entry {
	out := make([]feed.Entry, 0, len(mins))
	for _, m := range mins {
		out = append(out, feed.Entry{Published: base.Add(time.Duration(m) * time.Minute)})
	}
	return out
}

func TestMedianExcludesBurstGaps(t *testing.T) {
	ents := entriesAt(0, 1, 10, 11, 20)
	gaps := Gaps(timestamps(ents))
	if len(gaps) != 2 {
		t.Fatalf("gaps=%v want two 9m gaps", gaps)
	}
	if got := Median(gaps); got != 9*time.Minute {
		t.Fatalf("median=%v want 9m", got)
	}
}

func TestMedianEven(t *testing.T) {
	got := Median([]time.Duration{4 * time.Minute, time.Minute, 3 * time.Minute, 2 * time.Minute})
	if got != 150*time.Second {
		t.Fatalf("median=%v want 2m30s", got)
	}
	if Median(nil) != 0 {
		t.Fatalf("median of empty set should be zero")
	}
}

func TestFirstUsesNewestGap(t *testing.T) {
	ents := entriesAt(0, 10, 20)
	got := First(ents, 60*time.Minute, base.Add(30*time.Minute), DefaultBounds())
	if got != 10*time.Minute {
		t.Fatalf("first=%v want 10m", got)
	}
}

func TestFirstFallsBackToTTL(t *testing.T) {
	b := Bounds{Min: 5 * time.Minute, Max: 2 * time.Hour}
	if got := First(entriesAt(0, 10), 90*time.Minute, base, b); got != 90*time.Minute {
		t.Fatalf("two entries: got %v want ttl", got)
	}
	if got := First(nil, 0, base, b); got != feed.DefaultTTL {
		t.Fatalf("no ttl: got %v want default ttl", got)
	}
	if got := First(entriesAt(0, 0, 0), 30*time.Minute, base, b); got != 30*time.Minute {
		t.Fatalf("identical timestamps: got %v want ttl", got)
	}
	if got := First(entriesAt(0, 1, 2), 30*time.Minute, base, b); got != 5*time.Minute {
		t.Fatalf("tight gap: got %v want floor", got)
	}
}

func TestNextEmptyBacksOff(t *testing.T) {
	b := Bounds{Min: time.Minute, Max: 10 * time.Hour}
	last := base
	now := base.Add(20 * time.Minute)
	if got := Next(nil, last, now, b); got != 30*time.Minute {
		t.Fatalf("next=%v want 30m", got)
	}
	undated := []feed.Entry{{Title: "a"}, {Title: "b"}}
	if got := Next(undated, last, now, b); got != 30*time.Minute {
		t.Fatalf("undated next=%v want 30m", got)
	}
}

func TestNextBurstHalvesElapsed(t *testing.T) {
	b := Bounds{Min: time.Minute, Max: 10 * time.Hour}
	ents := entriesAt(-30, 5, 15)
	got := Next(ents, base, base.Add(40*time.Minute), b)
	if got != 20*time.Minute {
		t.Fatalf("next=%v want 20m", got)
	}
}

func TestNextSingleFreshMirrorsGap(t *testing.T) {
	last := base
	now := base.Add(40 * time.Minute)
	ents := entriesAt(-120, -60, 30)
	if got := Next(ents, last, now, DefaultBounds()); got != 30*time.Minute {
		t.Fatalf("next=%v want 30m", got)
	}
}

func TestNextMedianBranches(t *testing.T) {
	b := Bounds{Min: time.Minute, Max: 100 * time.Hour}
	// median gap 60m, all entries before lastFetch
	ents := entriesAt(-180, -120, -60, 0)
	last := base.Add(time.Minute)

	cases := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration
	}{
		{"below sixth", 5 * time.Minute, 10 * time.Minute},
		{"below median", 30 * time.Minute, 33 * time.Minute},
		{"past median", 80 * time.Minute, 120 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Next(ents, last, last.Add(tc.elapsed), b)
			if got != tc.want {
				t.Fatalf("next=%v want %v", got, tc.want)
			}
		})
	}
}

func TestNextNoUsableGaps(t *testing.T) {
	b := Bounds{Min: time.Minute, Max: 10 * time.Hour}
	ents := entriesAt(-3, -2, -1)
	got := Next(ents, base, base.Add(10*time.Minute), b)
	if got != 15*time.Minute {
		t.Fatalf("next=%v want 15m", got)
	}
}

func TestEstimateStaysWithinBounds(t *testing.T) {
	b := DefaultBounds()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		mins := make([]int, n)
		for j := range mins {
			mins[j] = rng.Intn(600) - 300
		}
		ents := entriesAt(mins...)
		if rng.Intn(4) == 0 && n > 0 {
			ents[0].Published = time.Time{}
		}
		var last time.Time
		if rng.Intn(3) > 0 {
			last = base.Add(-time.Duration(rng.Intn(500)) * time.Minute)
		}
		ttl := time.Duration(rng.Intn(200)) * time.Minute
		got := Estimate(ents, last, ttl, base, b)
		if got < b.Min || got > b.Max {
			t.Fatalf("iteration %d: %v outside [%v, %v]", i, got, b.Min, b.Max)
		}
	}
}

func TestClampIgnoresInvertedMax(t *testing.T) {
	b := Bounds{Min: 10 * time.Minute, Max: time.Minute}
	if got := b.Clamp(time.Hour); got != time.Hour {
		t.Fatalf("clamp=%v want 1h", got)
	}
}

func TestHumanize(t *testing.T) {
	cases := map[time.Duration]string{
		0:                               "0s",
		45 * time.Second:                "45s",
		12*time.Minute + 30*time.Second: "12m 30s",
		65 * time.Minute:                "1h 5m",
		2 * time.Hour:                   "2h",
		-90 * time.Second:               "-1m 30s",
	}
	for d, want := range cases {
		if got := Humanize(d); got != want {
			t.Errorf("Humanize(%v)=%q want %q", d, got, want)
		}
	}
}
