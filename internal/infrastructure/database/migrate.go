package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

// NewMigrator returns a golang-migrate instance over the embedded postgres migrations.
// Callers own the returned instance and must Close it.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// NewMigratorWithDB is NewMigrator over an already open postgres handle. Closing the
// returned instance closes db.
func NewMigratorWithDB(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, DriverPostgres, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending postgres migrations
func MigrateUp(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// EnsureSchema prepares the schema for db. Postgres is migrated through golang-migrate
// using databaseURL; sqlite gets the idempotent embedded schema.
func EnsureSchema(ctx context.Context, db *DB, databaseURL string) error {
	switch db.Driver {
	case DriverPostgres:
		return MigrateUp(databaseURL)
	case DriverSQLite:
		if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}
