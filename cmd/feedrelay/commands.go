package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"feedrelay/internal/app"
	"feedrelay/internal/interval"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

func rootApp() *cli.App {
	return &cli.App{
		Name:  "feedrelay",
		Usage: "Repost new RSS/Atom entries to Mastodon",
		Description: `Polls every configured feed on an interval adapted to its posting
		cadence and posts new entries to the feed's Mastodon account.

		Flags can be set via environment variables:

		--database => DATABASE_URL=sqlite://feedrelay.db
		--config => FEED_CONFIG_PATH=feeds.yaml
		--dry-run => IS_DRY_RUN=true
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Usage:   "database URL (sqlite://path, a bare path, or postgres://...)",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "sqlite://feedrelay.db",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "feed config file (.json, .yaml or .toml)",
				EnvVars: []string{"FEED_CONFIG_PATH"},
				Value:   "feeds.yaml",
			},
		},
		Commands: []*cli.Command{
			runCmd(),
			migrateCmd(),
			statusCmd(),
			republishCmd(),
		},
		DefaultCommand: "run",
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Poll feeds and publish new entries until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "format entries and mark them skipped without posting",
				EnvVars: []string{"IS_DRY_RUN"},
			},
			&cli.StringFlag{
				Name:    "post-interval",
				Usage:   "minimum gap between posts, seconds or a duration (overrides publish.post_interval)",
				EnvVars: []string{"POST_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "queue-interval",
				Usage:   "pause after a failed post, seconds or a duration (overrides publish.error_cooldown)",
				EnvVars: []string{"QUEUE_INTERVAL"},
			},
		},
		Action: func(c *cli.Context) error {
			postInterval, err := parseInterval("post-interval", c.String("post-interval"))
			if err != nil {
				return err
			}
			queueInterval, err := parseInterval("queue-interval", c.String("queue-interval"))
			if err != nil {
				return err
			}
			a, err := app.New(c.Context, app.Options{
				ConfigPath:    c.String("config"),
				DatabaseURL:   c.String("database"),
				DryRun:        c.Bool("dry-run"),
				PostInterval:  postInterval,
				QueueInterval: queueInterval,
			})
			if err != nil {
				return err
			}
			return a.Run(c.Context)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Apply database migrations",
		Description: `Applies pending schema migrations. run does this on startup as well.`,
		Action: func(c *cli.Context) error {
			log := logx.NewConsole("info")
			return storage.Migrate(c.String("database"), log)
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print per-feed poll state and the number of unposted entries",
		Action: func(c *cli.Context) error {
			log := logx.NewConsole("warn")
			if err := storage.Migrate(c.String("database"), log); err != nil {
				return err
			}
			store, err := storage.Open(c.Context, c.String("database"), log)
			if err != nil {
				return err
			}
			defer store.Close()

			states, err := store.ListFeedStates(c.Context)
			if err != nil {
				return err
			}
			unposted, err := store.CountUnposted(c.Context)
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEED\tLAST FETCH\tNEXT FETCH\tLAST ENTRY")
			for _, st := range states {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", st.FeedID, ago(now, st.LastFetch), until(now, st.NextFetch), st.LastEntryID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nunposted entries: %d\n", unposted)
			return nil
		},
	}
}

func republishCmd() *cli.Command {
	return &cli.Command{
		Name:  "republish",
		Usage: "Mark failed entries for another attempt on the next run",
		Action: func(c *cli.Context) error {
			a, err := app.New(c.Context, app.Options{
				ConfigPath:  c.String("config"),
				DatabaseURL: c.String("database"),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Sweeper().Release(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("released %d failed entries\n", n)
			return nil
		},
	}
}

// parseInterval accepts whole seconds ("5") or a Go duration ("5s").
func parseInterval(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: must be >= 0", name)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", name)
	}
	return d, nil
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return interval.Humanize(now.Sub(t)) + " ago"
}

func until(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if d := t.Sub(now); d > 0 {
		return "in " + interval.Humanize(d)
	}
	return "due"
}
