// Package metrics holds the Prometheus instruments for the relay.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedrelay"

type Metrics struct {
	Registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	newEntries    *prometheus.CounterVec
	nextDelay     *prometheus.GaugeVec
	publishes     *prometheus.CounterVec
	postDuration  prometheus.Histogram
	unposted      prometheus.Gauge
	reports       *prometheus.CounterVec
	reloads       prometheus.Counter
}

// New registers every instrument on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed fetch attempts by feed and result",
		}, []string{"feed", "result"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Time spent fetching and parsing a feed",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"feed"}),
		newEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_new_entries_total",
			Help:      "Entries judged new and queued for publishing",
		}, []string{"feed"}),
		nextDelay: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_next_delay_seconds",
			Help:      "Delay chosen before the next fetch of a feed",
		}, []string{"feed"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish outcomes (posted, failed, skipped, rate_limited)",
		}, []string{"result"}),
		postDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_duration_seconds",
			Help:      "Latency of status post calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		unposted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_unposted",
			Help:      "Recorded entries still waiting for a post id",
		}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reported failures by kind",
		}, []string{"kind"}),
		reloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Committed configuration reloads",
		}),
	}
}

func (m *Metrics) FetchDone(feed, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(feed, result).Inc()
	m.fetchDuration.WithLabelValues(feed).Observe(took.Seconds())
}

func (m *Metrics) NewEntries(feed string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newEntries.WithLabelValues(feed).Add(float64(n))
}

func (m *Metrics) NextDelay(feed string, d time.Duration) {
	if m == nil {
		return
	}
	m.nextDelay.WithLabelValues(feed).Set(d.Seconds())
}

func (m *Metrics) Published(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
	if took > 0 {
		m.postDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Unposted(n int) {
	if m == nil {
		return
	}
	m.unposted.Set(float64(n))
}

// Inc counts a report of the given kind.
func (m *Metrics) Inc(kind string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConfigReloaded() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

// QueueDepth exposes fn as the publish queue depth gauge.
func (m *Metrics) QueueDepth(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "publish_queue_depth",
		Help:      "Items waiting in the publish queue",
	}, func() float64 { return float64(fn()) })
}
