package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FetchDone("a", "ok", time.Second)
	m.NewEntries("a", 2)
	m.Published("posted", time.Second)
	m.Inc("fetch")
	m.QueueDepth(func() int { return 1 })
}

func TestCounters(t *testing.T) {
	m := New()
	m.FetchDone("news", "ok", 200*time.Millisecond)
	m.FetchDone("news", "error", time.Second)
	m.NewEntries("news", 3)
	m.Published("posted", 0)
	m.QueueDepth(func() int { return 4 })

	if got := testutil.ToFloat64(m.newEntries.WithLabelValues("news")); got != 3 {
		t.Fatalf("new entries=%v", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("news", "error")); got != 1 {
		t.Fatalf("fetch errors=%v", got)
	}
	expected := `
# HELP feedrelay_publish_queue_depth Items waiting in the publish queue
# TYPE feedrelay_publish_queue_depth gauge
feedrelay_publish_queue_depth 4
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "feedrelay_publish_queue_depth"); err != nil {
		t.Fatalf("queue gauge: %v", err)
	}
}
