package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "feedrelay/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies every pending schema migration to the database at rawURL.
func Migrate(rawURL string, log logx.Logger) error {
	t, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	src, err := iofs.New(migrationsFS, "migrations/"+t.Driver)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, t.MigrateURL)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", t.Driver, err)
	}
	defer func() {
		if serr, derr := m.Close(); serr != nil || derr != nil {
			log.Debug("migrate close", logx.Any("source_err", serr), logx.Any("db_err", derr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", t.Driver, err)
	}
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Info("schema up to date", logx.String("driver", t.Driver), logx.Int("version", int(v)), logx.Bool("dirty", dirty))
	return nil
}
