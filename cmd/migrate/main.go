package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/telemetry"
)

const migrationsDir = "internal/infrastructure/database/migrations/postgres"

func main() {
	var (
		action  = flag.String("action", "up", "Migration action: up, down, version, force, create")
		name    = flag.String("name", "", "Migration name (for create action)")
		steps   = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		version = flag.Int("version", -1, "Version to force (for force action)")
		dir     = flag.String("dir", migrationsDir, "Migrations directory (for create action)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	if *action == "create" {
		up, down, err := createMigration(*dir, *name)
		if err != nil {
			logger.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		logger.Info("created migration", "up", up, "down", down)
		return
	}

	if cfg.Database.Driver != database.DriverPostgres {
		logger.Error("migrations only run against postgres; sqlite applies its schema at startup",
			"driver", cfg.Database.Driver)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	m, err := database.NewMigratorWithDB(db)
	if err != nil {
		db.Close()
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m, *action, *steps, *version, logger); err != nil {
		logger.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

// migrator is the part of *migrate.Migrate the actions use
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

func run(m migrator, action string, steps, version int, logger *slog.Logger) error {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		if version < 0 {
			return errors.New("-version is required for force")
		}
		err = m.Force(version)
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply")
		err = nil
	}
	if err != nil {
		return err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("database has no migrations applied")
		return nil
	case err != nil:
		return err
	}
	logger.Info("migration state", "version", v, "dirty", dirty)
	return nil
}

var (
	migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)
	nameCleaner   = regexp.MustCompile(`[^a-z0-9]+`)
)

// createMigration writes an empty up/down pair numbered after the highest existing version
func createMigration(dir, name string) (string, string, error) {
	slug := strings.Trim(nameCleaner.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", "", errors.New("migration name is required for create action")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if match := migrationFile.FindStringSubmatch(e.Name()); match != nil {
			n, _ := strconv.Atoi(match[1])
			versions = append(versions, n)
		}
	}
	sort.Ints(versions)

	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	base := fmt.Sprintf("%06d_%s", next, slug)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")

	header := "-- Migration: " + slug + "\n\n"
	if err := os.WriteFile(up, []byte(header), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create migration file: %w", err)
	}
	if err := os.WriteFile(down, []byte(header), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return up, down, nil
}
