//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil/containers"
)

func TestMigrations(t *testing.T) {
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	m, err := database.NewMigrator(pg.ConnectionString)
	require.NoError(t, err)
	defer m.Close()

	t.Run("up and down are reversible", func(t *testing.T) {
		require.NoError(t, m.Up())

		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.False(t, dirty)
		assert.Equal(t, uint(1), version)

		sqlDB, err := sql.Open("postgres", pg.ConnectionString)
		require.NoError(t, err)
		defer sqlDB.Close()

		var tables int
		err = sqlDB.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name IN ('users', 'reports', 'audit_log')
		`).Scan(&tables)
		require.NoError(t, err)
		assert.Equal(t, 3, tables)

		require.NoError(t, m.Down())
		_, _, err = m.Version()
		assert.ErrorIs(t, err, migrate.ErrNilVersion)
	})

	t.Run("up is idempotent", func(t *testing.T) {
		require.NoError(t, m.Up())
		assert.ErrorIs(t, m.Up(), migrate.ErrNoChange)
	})
}
