package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/echovault/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations for the active driver.
func (db *DB) Migrate() (*MigrateResult, error) {
	var (
		fsys       fs.FS
		dir        string
		driverName string
		driver     database.Driver
		err        error
	)
	switch db.driver {
	case DriverPostgres:
		fsys, dir, driverName = migrations.Postgres, "postgres", "pgx5"
		driver, err = pgxmigrate.WithInstance(db.DB.DB, &pgxmigrate.Config{})
	default:
		fsys, dir, driverName = migrations.SQLite, "sqlite", "sqlite3"
		driver, err = sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
