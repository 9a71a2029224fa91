package config

// Config is the feedrelay configuration document.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "20m").
// Omitted or zero durations fall back to the defaults documented per section.
type Config struct {
	// BaseURL is the default posting server (e.g. "https://mastodon.social").
	BaseURL string `json:"base_url"`
	// Tag holds the global tag rules merged into every feed's rules.
	Tag   *TagRules    `json:"tag,omitempty"`
	Feeds []FeedConfig `json:"feeds"`

	Poll          PollConfig          `json:"poll,omitempty"`
	Publish       PublishConfig       `json:"publish,omitempty"`
	Logging       LoggingConfig       `json:"logging,omitempty"`
	Report        ReportConfig        `json:"report,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`

	// ReloadInterval is how often the config file is re-read even without
	// filesystem events. Default: "1m".
	ReloadInterval string `json:"reload_interval,omitempty"`
}

// FeedConfig describes one polled feed.
//
// ID is the stable identity used for bookkeeping; URL may change freely.
type FeedConfig struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Token string `json:"token"`
	// BaseURL overrides Config.BaseURL for this feed.
	BaseURL string    `json:"base_url,omitempty"`
	Tag     *TagRules `json:"tag,omitempty"`
}

// TagRules controls hashtag composition.
//
//   - Always: tags appended to every post
//   - Ignore: regexes; matching tags are dropped
//   - Replace: "pattern=>replacement" rewrites (a bare pattern deletes the match)
//   - XPath: extra expression evaluated against each linked page
type TagRules struct {
	Always  []string `json:"always,omitempty"`
	Ignore  []string `json:"ignore,omitempty"`
	Replace []string `json:"replace,omitempty"`
	XPath   string   `json:"xpath,omitempty"`
}

// PollConfig controls the per-feed fetch loops.
//
// Defaults:
//   - min_wait: 5m, max_wait: 60m
//   - error_cooldown: 20m
//   - jitter_min: 10s, jitter_max: 60s
//   - fetch_timeout: 30s
//   - scrape: true (fetch linked pages for keyword tags)
type PollConfig struct {
	MinWait       string `json:"min_wait,omitempty"`
	MaxWait       string `json:"max_wait,omitempty"`
	ErrorCooldown string `json:"error_cooldown,omitempty"`
	JitterMin     string `json:"jitter_min,omitempty"`
	JitterMax     string `json:"jitter_max,omitempty"`
	FetchTimeout  string `json:"fetch_timeout,omitempty"`
	Scrape        *bool  `json:"scrape,omitempty"`
}

// PublishConfig controls the single publish loop.
//
// Defaults:
//   - queue_size: 512
//   - post_interval: 5s
//   - retry_max: 3 (retries after the first attempt, only on rate limiting)
//   - retry_delay: 60s
//   - error_cooldown: 10s
//   - republish_schedule: "@every 30m" (cron spec; "off" disables the sweep)
//   - republish_max_attempts: 5
type PublishConfig struct {
	QueueSize            int    `json:"queue_size,omitempty"`
	PostInterval         string `json:"post_interval,omitempty"`
	RetryMax             *int   `json:"retry_max,omitempty"`
	RetryDelay           string `json:"retry_delay,omitempty"`
	ErrorCooldown        string `json:"error_cooldown,omitempty"`
	RepublishSchedule    string `json:"republish_schedule,omitempty"`
	RepublishMaxAttempts int    `json:"republish_max_attempts,omitempty"`
	// Visibility is passed through to the status API ("public", "unlisted", ...).
	Visibility string `json:"visibility,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ReportConfig controls where loop failures are reported besides the log.
type ReportConfig struct {
	Telegram TelegramReport `json:"telegram,omitempty"`
}

type TelegramReport struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ObservabilityConfig controls the optional metrics/health HTTP server.
//
// Prefer binding to localhost (default "127.0.0.1:9090"). A non-loopback
// address requires Token, sent as "Authorization: Bearer <token>" or ?token=.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"`
}

// FeedByID returns the feed with the given id.
func (c *Config) FeedByID(id string) (FeedConfig, bool) {
	if c == nil {
		return FeedConfig{}, false
	}
	for _, f := range c.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// PostingBase returns the server base URL used for feed f.
func (c *Config) PostingBase(f FeedConfig) string {
	if f.BaseURL != "" {
		return f.BaseURL
	}
	if c == nil {
		return ""
	}
	return c.BaseURL
}

// Merge combines global and feed-level rules. Feed rules come after global ones.
func (r *TagRules) Merge(other *TagRules) *TagRules {
	if r == nil && other == nil {
		return nil
	}
	out := &TagRules{}
	for _, src := range []*TagRules{r, other} {
		if src == nil {
			continue
		}
		out.Always = append(out.Always, src.Always...)
		out.Ignore = append(out.Ignore, src.Ignore...)
		out.Replace = append(out.Replace, src.Replace...)
		if src.XPath != "" {
			out.XPath = src.XPath
		}
	}
	return out
}
