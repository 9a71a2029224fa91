package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "feedrelay/pkg/logx"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultBusyTimeout = 5 * time.Second
)

// Target is a parsed database location.
type Target struct {
	Driver string
	// DSN is what database/sql receives.
	DSN string
	// MigrateURL is what golang-migrate receives.
	MigrateURL string
	Flavor     sqlbuilder.Flavor
}

// ParseURL accepts postgres:// URLs, sqlite:// URLs and bare SQLite file paths.
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, errors.New("database url is required")
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Target{Driver: DriverPostgres, DSN: raw, MigrateURL: raw, Flavor: sqlbuilder.PostgreSQL}, nil
	case strings.HasPrefix(lower, "sqlite://"):
		raw = raw[len("sqlite://"):]
	case strings.Contains(raw, "://"):
		return Target{}, fmt.Errorf("unsupported database url scheme: %q", raw)
	}
	if raw == "" {
		return Target{}, errors.New("sqlite path is required")
	}
	return Target{Driver: DriverSQLite, DSN: raw, MigrateURL: "sqlite://" + raw, Flavor: sqlbuilder.SQLite}, nil
}

// Open connects to the database at rawURL. Call Migrate first for a fresh database.
func Open(ctx context.Context, rawURL string, log logx.Logger) (*SQLStore, error) {
	t, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if t.Driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(t.DSN), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(t.Driver, t.DSN)
	if err != nil {
		return nil, err
	}
	switch t.Driver {
	case DriverSQLite:
		// SQLite prefers a single writer; one connection serializes every task.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()))
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
		_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	case DriverPostgres:
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", t.Driver, err)
	}
	log.Debug("storage opened", logx.String("driver", t.Driver))
	return &SQLStore{db: db, flavor: t.Flavor, driver: t.Driver, log: log}, nil
}
