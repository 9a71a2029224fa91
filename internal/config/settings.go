package config

import (
	"strings"
	"time"
)

// Defaults for the poll and publish sections.
const (
	DefaultMinWait          = 5 * time.Minute
	DefaultMaxWait          = 60 * time.Minute
	DefaultPollCooldown     = 20 * time.Minute
	DefaultJitterMin        = 10 * time.Second
	DefaultJitterMax        = 60 * time.Second
	DefaultFetchTimeout     = 30 * time.Second
	DefaultQueueSize        = 512
	DefaultPostInterval     = 5 * time.Second
	DefaultRetryMax         = 3
	DefaultRetryDelay       = 60 * time.Second
	DefaultPostCooldown     = 10 * time.Second
	DefaultRepublish        = "@every 30m"
	DefaultRepublishMax     = 5
	DefaultObservAddr       = "127.0.0.1:9090"
	DefaultReportRatePerSec = 1
)

// PollSettings is PollConfig with durations parsed and defaults applied.
type PollSettings struct {
	MinWait       time.Duration
	MaxWait       time.Duration
	ErrorCooldown time.Duration
	JitterMin     time.Duration
	JitterMax     time.Duration
	FetchTimeout  time.Duration
	Scrape        bool
}

// PublishSettings is PublishConfig with durations parsed and defaults applied.
type PublishSettings struct {
	QueueSize            int
	PostInterval         time.Duration
	RetryMax             int
	RetryDelay           time.Duration
	ErrorCooldown        time.Duration
	RepublishSchedule    string
	RepublishMaxAttempts int
	Visibility           string
}

// PollSettings resolves the poll section. Invalid values fall back to
// defaults; Validate reports them before a document is committed.
func (c *Config) PollSettings() PollSettings {
	var p PollConfig
	if c != nil {
		p = c.Poll
	}
	s := PollSettings{
		MinWait:       durationOr(p.MinWait, DefaultMinWait),
		MaxWait:       durationOr(p.MaxWait, DefaultMaxWait),
		ErrorCooldown: durationOr(p.ErrorCooldown, DefaultPollCooldown),
		JitterMin:     durationOr(p.JitterMin, DefaultJitterMin),
		JitterMax:     durationOr(p.JitterMax, DefaultJitterMax),
		FetchTimeout:  durationOr(p.FetchTimeout, DefaultFetchTimeout),
		Scrape:        p.Scrape == nil || *p.Scrape,
	}
	if s.JitterMax < s.JitterMin {
		s.JitterMax = s.JitterMin
	}
	return s
}

// PublishSettings resolves the publish section.
func (c *Config) PublishSettings() PublishSettings {
	var p PublishConfig
	if c != nil {
		p = c.Publish
	}
	s := PublishSettings{
		QueueSize:            p.QueueSize,
		PostInterval:         durationOr(p.PostInterval, DefaultPostInterval),
		RetryMax:             DefaultRetryMax,
		RetryDelay:           durationOr(p.RetryDelay, DefaultRetryDelay),
		ErrorCooldown:        durationOr(p.ErrorCooldown, DefaultPostCooldown),
		RepublishSchedule:    strings.TrimSpace(p.RepublishSchedule),
		RepublishMaxAttempts: p.RepublishMaxAttempts,
		Visibility:           strings.TrimSpace(p.Visibility),
	}
	if s.QueueSize <= 0 {
		s.QueueSize = DefaultQueueSize
	}
	if p.RetryMax != nil && *p.RetryMax >= 0 {
		s.RetryMax = *p.RetryMax
	}
	if s.RepublishSchedule == "" {
		s.RepublishSchedule = DefaultRepublish
	}
	if s.RepublishMaxAttempts <= 0 {
		s.RepublishMaxAttempts = DefaultRepublishMax
	}
	return s
}

// ReloadEvery is the periodic reload interval.
func (c *Config) ReloadEvery() time.Duration {
	if c == nil {
		return DefaultReloadInterval
	}
	return durationOr(c.ReloadInterval, DefaultReloadInterval)
}

// Snapshot returns a copy of f ready for publishing: BaseURL resolved and
// global tag rules merged in front of the feed's own.
func (c *Config) Snapshot(f FeedConfig) FeedConfig {
	out := f
	out.BaseURL = c.PostingBase(f)
	var global *TagRules
	if c != nil {
		global = c.Tag
	}
	out.Tag = global.Merge(f.Tag)
	return out
}

// SnapshotByID is Snapshot for the feed with the given id.
func (c *Config) SnapshotByID(id string) (FeedConfig, bool) {
	f, ok := c.FeedByID(id)
	if !ok {
		return FeedConfig{}, false
	}
	return c.Snapshot(f), true
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
