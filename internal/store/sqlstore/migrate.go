package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const migrationsTable = "storefront_schema_migrations"

// RunMigrations brings the schema up to date. The migration files are
// embedded, so the binary carries its own schema.
func (s *Store) RunMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch s.dialect {
	case Postgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{MigrationsTable: migrationsTable})
	case SQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("unknown dialect %q", s.dialect)
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	// The sqlite driver closes the *sql.DB it was handed, so only the
	// postgres driver (which holds a dedicated conn) is released here.
	if s.dialect == Postgres {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			return fmt.Errorf("close migrator: %w", errors.Join(srcErr, dbErr))
		}
	}
	return nil
}
