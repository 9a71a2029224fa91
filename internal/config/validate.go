package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/xpath"
	"github.com/robfig/cron/v3"
)

// ParseDurationField parses a Go duration string. Empty means zero.
// path is only used to build error messages ("poll.min_wait: ...").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ReplaceSeparator splits "pattern=>replacement" rules.
const ReplaceSeparator = "=>"

// Validate rejects documents that would break the loops at runtime.
// A rejected hot reload keeps the previously committed config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		path := fmt.Sprintf("feeds[%d]", i)
		id := strings.TrimSpace(f.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", path))
		} else if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%s.id: duplicate feed id %q", path, id))
		}
		seen[id] = struct{}{}
		if err := validateURL(path+".url", f.URL); err != nil {
			errs = append(errs, err)
		}
		base := cfg.PostingBase(f)
		if err := validateURL(path+".base_url", base); err != nil {
			errs = append(errs, fmt.Errorf("%w (set base_url globally or per feed)", err))
		}
		if err := validateRules(path+".tag", f.Tag); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateRules("tag", cfg.Tag); err != nil {
		errs = append(errs, err)
	}

	for path, raw := range map[string]string{
		"poll.min_wait":          cfg.Poll.MinWait,
		"poll.max_wait":          cfg.Poll.MaxWait,
		"poll.error_cooldown":    cfg.Poll.ErrorCooldown,
		"poll.jitter_min":        cfg.Poll.JitterMin,
		"poll.jitter_max":        cfg.Poll.JitterMax,
		"poll.fetch_timeout":     cfg.Poll.FetchTimeout,
		"publish.post_interval":  cfg.Publish.PostInterval,
		"publish.retry_delay":    cfg.Publish.RetryDelay,
		"publish.error_cooldown": cfg.Publish.ErrorCooldown,
		"reload_interval":        cfg.ReloadInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	minWait, _ := ParseDurationField("poll.min_wait", cfg.Poll.MinWait)
	maxWait, _ := ParseDurationField("poll.max_wait", cfg.Poll.MaxWait)
	if minWait > 0 && maxWait > 0 && maxWait < minWait {
		errs = append(errs, fmt.Errorf("poll.max_wait (%s) must be >= poll.min_wait (%s)", maxWait, minWait))
	}
	if cfg.Publish.QueueSize < 0 {
		errs = append(errs, errors.New("publish.queue_size must be >= 0"))
	}
	if cfg.Publish.RetryMax != nil && *cfg.Publish.RetryMax < 0 {
		errs = append(errs, errors.New("publish.retry_max must be >= 0"))
	}
	if spec := strings.TrimSpace(cfg.Publish.RepublishSchedule); spec != "" && !strings.EqualFold(spec, "off") {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("publish.republish_schedule: %w", err))
		}
	}
	if t := cfg.Report.Telegram; t.Enabled && (strings.TrimSpace(t.Token) == "" || t.ChatID == 0) {
		errs = append(errs, errors.New("report.telegram: token and chat_id are required when enabled"))
	}
	return errors.Join(errs...)
}

func validateURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", path)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", path, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", path)
	}
	return nil
}

func validateRules(path string, r *TagRules) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i, p := range r.Ignore {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("%s.ignore[%d]: %w", path, i, err))
		}
	}
	for i, p := range r.Replace {
		pattern, _, _ := strings.Cut(p, ReplaceSeparator)
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s.replace[%d]: %w", path, i, err))
		}
	}
	if strings.TrimSpace(r.XPath) != "" {
		if _, err := xpath.Compile(r.XPath); err != nil {
			errs = append(errs, fmt.Errorf("%s.xpath: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
