package repository_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil"
)

var created = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func admin(name string) identity.Record {
	return identity.Record{
		Username:  name,
		Role:      identity.RoleAdmin,
		Status:    identity.StatusActive,
		CreatedBy: "boss",
		CreatedAt: created,
	}
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewUserRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)

	require.NoError(t, repo.Create(ctx, admin("alice"), "hash-1"))

	creds, err := repo.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", creds.PasswordHash)
	assert.Equal(t, admin("alice"), creds.Record)
	assert.Nil(t, creds.Record.LastLogin)
}

func TestUserRepository_DuplicateIsConflict(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewUserRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)

	require.NoError(t, repo.Create(ctx, admin("alice"), "hash-1"))

	err := repo.Create(ctx, admin("alice"), "hash-2")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)
	assert.False(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestUserRepository_NotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewUserRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)

	_, err := repo.Get(ctx, "ghost")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.UpdateStatus(ctx, "ghost", identity.StatusSuspended)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = repo.UpdatePassword(ctx, "ghost", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestUserRepository_Updates(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewUserRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)
	require.NoError(t, repo.Create(ctx, admin("alice"), "hash-1"))

	require.NoError(t, repo.UpdateStatus(ctx, "alice", identity.StatusSuspended))
	require.NoError(t, repo.UpdatePassword(ctx, "alice", "hash-2"))
	login := created.Add(48 * time.Hour)
	require.NoError(t, repo.TouchLastLogin(ctx, "alice", login))

	creds, err := repo.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, identity.StatusSuspended, creds.Record.Status)
	assert.Equal(t, "hash-2", creds.PasswordHash)
	require.NotNil(t, creds.Record.LastLogin)
	assert.True(t, login.Equal(*creds.Record.LastLogin))
}

func TestUserRepository_ListAndCountByRole(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewUserRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)

	require.NoError(t, repo.Create(ctx, admin("zed"), "h"))
	require.NoError(t, repo.Create(ctx, admin("amy"), "h"))
	manager := admin("boss")
	manager.Role = identity.RoleManager
	require.NoError(t, repo.Create(ctx, manager, "h"))

	admins, err := repo.ListByRole(ctx, identity.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "amy", admins[0].Username)
	assert.Equal(t, "zed", admins[1].Username)

	n, err := repo.CountByRole(ctx, identity.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUserRepository_DeleteWithoutReports(t *testing.T) {
	db := testutil.NewTestDB(t)
	users := repository.NewUserRepository(db, zaptest.NewLogger(t))
	reports := repository.NewReportRepository(db, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)

	require.NoError(t, users.Create(ctx, admin("busy"), "h"))
	require.NoError(t, users.Create(ctx, admin("idle"), "h"))
	_, err := reports.Save(ctx, sampleSummary("busy", created))
	require.NoError(t, err)

	deleted, err := users.DeleteWithoutReports(ctx, "busy")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = users.DeleteWithoutReports(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = users.Get(ctx, "idle")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestAuditRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewAuditRepository(db)
	ctx := testutil.TestContext(t)

	for i, action := range []string{audit.ActionLogin, audit.CreatedUser("Admin", "amy"), audit.ActionPasswordReset} {
		_, err := repo.Append(ctx, audit.Entry{
			Action:      action,
			PerformedBy: "boss",
			Timestamp:   created.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionPasswordReset, entries[0].Action)
	assert.Equal(t, "Created Admin: amy", entries[1].Action)
	assert.Equal(t, created.Add(time.Minute), entries[1].Timestamp)
	assert.Greater(t, entries[0].ID, entries[1].ID)
}
