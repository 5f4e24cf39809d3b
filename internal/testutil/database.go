package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
)

// NewTestDB opens a private in-memory sqlite database with the schema applied.
// It is closed when the test ends.
func NewTestDB(t testing.TB) *database.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: database.DriverSQLite,
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString()),
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.EnsureSchema(ctx, db, cfg.URL))
	return db
}
