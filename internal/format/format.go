package format

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/samber/lo"

	"feedrelay/internal/config"
	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
)

// PageFetcher returns a linked page decoded to UTF-8.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (io.Reader, error)
}

// Options tune a Formatter.
type Options struct {
	// Scrape enables keyword/xpath scraping of linked pages.
	Scrape bool
	// MaxPages caps the number of links scraped per entry. Zero means 3.
	MaxPages int
}

// Formatter renders post bodies. It is safe for concurrent use.
type Formatter struct {
	pages PageFetcher
	log   logx.Logger
	opts  Options

	nonWord *regexp.Regexp

	// rulesMu guards rules, the compiled ignore/replace patterns. Invalid
	// patterns are stored as nil so they are reported once.
	rulesMu sync.Mutex
	rules   map[string]*regexp.Regexp
}

func New(pages PageFetcher, log logx.Logger, opts Options) *Formatter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 3
	}
	return &Formatter{
		pages:   pages,
		log:     log,
		opts:    opts,
		nonWord: regexp.MustCompile(`[^\p{L}\p{M}\p{N}\p{Pc}]`),
		rules:   make(map[string]*regexp.Regexp),
	}
}

// Format renders the full status body for e.
func (f *Formatter) Format(ctx context.Context, e feed.Entry, feedID string, rules *config.TagRules) string {
	return Body(e, f.Tags(ctx, e, feedID, rules))
}

// Body lays out title, links, a blank line and the tag line.
func Body(e feed.Entry, tags []string) string {
	var b strings.Builder
	if e.Title != "" {
		b.WriteString(e.Title)
		b.WriteByte('\n')
	}
	for _, l := range e.Links {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if len(tags) > 0 {
		b.WriteByte('\n')
		b.WriteString(strings.Join(lo.Map(tags, func(t string, _ int) string { return "#" + t }), " "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Tags returns the cleaned, deduplicated tags for e without the leading '#'.
func (f *Formatter) Tags(ctx context.Context, e feed.Entry, feedID string, rules *config.TagRules) []string {
	raw := []string{feedID}
	for _, c := range e.Categories {
		raw = append(raw, c.Name())
	}
	if rules != nil {
		raw = append(raw, rules.Always...)
		if f.opts.Scrape && f.pages != nil {
			raw = append(raw, f.scrapeLinks(ctx, e, rules.XPath)...)
		}
	}
	return f.clean(raw, e.Title, rules)
}

func (f *Formatter) clean(raw []string, title string, rules *config.TagRules) []string {
	var (
		replacers []replacer
		ignore    []*regexp.Regexp
	)
	if rules != nil {
		replacers = f.compileReplace(rules.Replace)
		ignore = f.compileIgnore(rules.Ignore)
	}
	normTitle := strings.ToLower(f.nonWord.ReplaceAllString(strings.TrimSpace(title), "_"))

	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		for _, r := range replacers {
			t = r.re.ReplaceAllString(t, r.repl)
		}
		t = strings.TrimSpace(t)
		if t == "" || lo.SomeBy(ignore, func(re *regexp.Regexp) bool { return re.MatchString(t) }) {
			continue
		}
		t = f.nonWord.ReplaceAllString(t, "_")
		if numeric(t) || strings.ToLower(t) == normTitle {
			continue
		}
		out = append(out, t)
	}
	return lo.UniqBy(out, strings.ToLower)
}

type replacer struct {
	re   *regexp.Regexp
	repl string
}

func (f *Formatter) compileReplace(rules []string) []replacer {
	out := make([]replacer, 0, len(rules))
	for _, r := range rules {
		pattern, repl, _ := strings.Cut(r, config.ReplaceSeparator)
		if re := f.compile(strings.TrimSpace(pattern), "replace", r); re != nil {
			out = append(out, replacer{re: re, repl: strings.TrimSpace(repl)})
		}
	}
	return out
}

func (f *Formatter) compileIgnore(rules []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(rules))
	for _, r := range rules {
		if re := f.compile(r, "ignore", r); re != nil {
			out = append(out, re)
		}
	}
	return out
}

func (f *Formatter) compile(pattern, kind, rule string) *regexp.Regexp {
	f.rulesMu.Lock()
	defer f.rulesMu.Unlock()
	if re, ok := f.rules[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		f.log.Warn("invalid "+kind+" rule skipped", logx.String("rule", rule), logx.Err(err))
	}
	f.rules[pattern] = re
	return re
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
