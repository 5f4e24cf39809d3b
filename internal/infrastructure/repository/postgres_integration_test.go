//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil/containers"
)

func TestPostgresRepositories(t *testing.T) {
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	require.NoError(t, database.MigrateUp(pg.ConnectionString))

	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       database.DriverPostgres,
		URL:          pg.ConnectionString,
		MaxOpenConns: 5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	reports := repository.NewReportRepository(db, logger)
	users := repository.NewUserRepository(db, logger)

	t.Run("reports keep insertion order", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

		id1, err := reports.Save(ctx, sampleSummary("alice", at))
		require.NoError(t, err)
		id2, err := reports.Save(ctx, sampleSummary("bob", at))
		require.NoError(t, err)

		list, err := reports.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, id1, list[0].ID)
		assert.Equal(t, id2, list[1].ID)
		assert.Equal(t, *sampleSummary("alice", at), list[0].Summary)
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))

		require.NoError(t, users.Create(ctx, admin("alice"), "h"))
		err := users.Create(ctx, admin("alice"), "h")
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	})

	t.Run("admin with reports is kept", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))

		require.NoError(t, users.Create(ctx, admin("busy"), "h"))
		_, err := reports.Save(ctx, sampleSummary("busy", created))
		require.NoError(t, err)

		deleted, err := users.DeleteWithoutReports(ctx, "busy")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
