package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB is a *sql.DB that knows its SQL dialect
type DB struct {
	*sql.DB
	Driver string
	pool   *pgxpool.Pool
}

// Open connects to the configured database and verifies the connection
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	var (
		db  *DB
		err error
	)

	switch cfg.Driver {
	case DriverPostgres:
		db, err = openPostgres(ctx, cfg)
	case DriverSQLite:
		db, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return db, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "wfa_backend"
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{DB: stdlib.OpenDBFromPool(pool), Driver: DriverPostgres, pool: pool}, nil
}

func openSQLite(cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite allows a single writer; one connection keeps transactions serialized
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return &DB{DB: sqlDB, Driver: DriverSQLite}, nil
}

// Close closes the handle and, for postgres, the underlying pool
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}

// Rebind converts ? placeholders to the driver's positional form
func (db *DB) Rebind(query string) string {
	return Rebind(db.Driver, query)
}

// Rebind rewrites ? placeholders as $1, $2, ... for postgres and leaves sqlite queries as is
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
