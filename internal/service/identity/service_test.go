package identity

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/cache"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil"
)

var fixedNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

type fixture struct {
	users   *mockUserRepository
	reports *mockReportOwnership
	audit   *recordingAudit
	svc     *service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		users:   &mockUserRepository{},
		reports: &mockReportOwnership{},
		audit:   &recordingAudit{},
	}
	f.svc = newService(f.users, f.reports, f.audit, cache.NewMemorySessionStore(),
		Config{BcryptCost: bcrypt.MinCost, TokenExpiry: time.Hour},
		zaptest.NewLogger(t),
		func() time.Time { return fixedNow })
	return f
}

func credentials(t *testing.T, username, secret string, role identity.Role, status identity.Status) *identity.Credentials {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return &identity.Credentials{
		Record:       identity.Record{Username: username, Role: role, Status: status},
		PasswordHash: string(hash),
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleAdmin, identity.StatusActive), nil)
		f.users.On("TouchLastLogin", ctx, "amy", fixedNow).Return(nil)

		rec, err := f.svc.Authenticate(ctx, " amy ", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, identity.RoleAdmin, rec.Role)
		require.NotNil(t, rec.LastLogin)
		assert.Equal(t, fixedNow, *rec.LastLogin)
		assert.Equal(t, []string{audit.ActionLogin}, f.audit.actions())
		f.users.AssertExpectations(t)
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleAdmin, identity.StatusActive), nil)

		_, err := f.svc.Authenticate(ctx, "amy", "nope")
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
		f.users.AssertNotCalled(t, "TouchLastLogin", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, f.audit.entries)
	})

	t.Run("unknown user looks like a wrong secret", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "ghost").Return(nil, errors.NewNotFoundError("user"))

		_, err := f.svc.Authenticate(ctx, "ghost", "whatever")
		assert.Equal(t, errors.ErrInvalidCredentials, err)
	})

	t.Run("suspended account", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleAdmin, identity.StatusSuspended), nil)

		_, err := f.svc.Authenticate(ctx, "amy", "s3cret")
		assert.True(t, errors.IsType(err, errors.ErrorTypeForbidden))
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(nil, errors.NewStorageError("down", stderrors.New("conn refused")))

		_, err := f.svc.Authenticate(ctx, "amy", "s3cret")
		assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	})

	t.Run("empty input", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Authenticate(ctx, "", "x")
		assert.Equal(t, errors.ErrInvalidCredentials, err)
	})
}

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleManager, identity.StatusActive), nil)
	f.users.On("TouchLastLogin", ctx, "amy", fixedNow).Return(nil)
	f.users.On("Get", ctx, "amy").Return(&identity.Record{Username: "amy", Role: identity.RoleManager, Status: identity.StatusActive}, nil)

	sess, err := f.svc.Login(ctx, "amy", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleManager, sess.Role)
	assert.Equal(t, fixedNow.Add(time.Hour), sess.ExpiresAt)
	assert.NotEmpty(t, sess.SessionID)

	got, err := f.svc.Session(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.Username, got.Username)

	// a second login replaces the first session
	second, err := f.svc.Login(ctx, "amy", "s3cret")
	require.NoError(t, err)
	_, err = f.svc.Session(ctx, sess.SessionID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))

	require.NoError(t, f.svc.Logout(ctx, second))
	_, err = f.svc.Session(ctx, second.SessionID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))

	assert.Equal(t, []string{audit.ActionLogin, audit.ActionLogin, audit.ActionLogout}, f.audit.actions())

	assert.True(t, errors.IsType(f.svc.Logout(ctx, nil), errors.ErrorTypeUnauthorized))
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes the secret", func(t *testing.T) {
		f := newFixture(t)
		var stored string
		f.users.On("Create", ctx, mock.MatchedBy(func(rec identity.Record) bool {
			return rec.Username == "bob" && rec.Role == identity.RoleAdmin &&
				rec.Status == identity.StatusActive && rec.CreatedBy == "amy" && rec.CreatedAt.Equal(fixedNow)
		}), mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
			stored = args.String(2)
		}).Return(nil)

		require.NoError(t, f.svc.CreateUser(ctx, "bob", "pw", identity.RoleAdmin, "amy"))
		assert.NotEqual(t, "pw", stored)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("pw")))
		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, "Created Admin: bob", f.audit.entries[0].Action)
		assert.Equal(t, "amy", f.audit.entries[0].PerformedBy)
	})

	t.Run("duplicate is a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Create", ctx, mock.Anything, mock.Anything).
			Return(errors.NewAlreadyExistsError("user", "bob").WithCause(repository.ErrDuplicateKey))

		err := f.svc.CreateUser(ctx, "bob", "pw", identity.RoleAdmin, "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		assert.Empty(t, f.audit.entries)
	})

	tests := []struct {
		name     string
		username string
		secret   string
		role     identity.Role
		code     string
	}{
		{"blank username", "  ", "pw", identity.RoleAdmin, "INVALID_USERNAME"},
		{"long username", string(make([]byte, 65)), "pw", identity.RoleAdmin, "INVALID_USERNAME"},
		{"empty secret", "bob", "", identity.RoleAdmin, "INVALID_PASSWORD"},
		{"unknown role", "bob", "pw", identity.Role("Agent"), "INVALID_ROLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.CreateUser(ctx, tt.username, tt.secret, tt.role, "amy")
			appErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("admin with reports is a precondition failure", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "bob").Return(&identity.Record{Username: "bob", Role: identity.RoleAdmin}, nil)
		f.reports.On("HasReportsBy", ctx, "bob").Return(true, nil)

		err := f.svc.Delete(ctx, "bob", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
		f.users.AssertNotCalled(t, "DeleteWithoutReports", mock.Anything, mock.Anything)
	})

	t.Run("admin without reports", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "bob").Return(&identity.Record{Username: "bob", Role: identity.RoleAdmin}, nil)
		f.reports.On("HasReportsBy", ctx, "bob").Return(false, nil)
		f.users.On("DeleteWithoutReports", ctx, "bob").Return(true, nil)

		require.NoError(t, f.svc.Delete(ctx, "bob", "amy"))
		assert.Equal(t, []string{"Removed Admin: bob"}, f.audit.actions())
	})

	t.Run("report saved between check and delete", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "bob").Return(&identity.Record{Username: "bob", Role: identity.RoleAdmin}, nil)
		f.reports.On("HasReportsBy", ctx, "bob").Return(false, nil).Once()
		f.reports.On("HasReportsBy", ctx, "bob").Return(true, nil).Once()
		f.users.On("DeleteWithoutReports", ctx, "bob").Return(false, nil)

		err := f.svc.Delete(ctx, "bob", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
		assert.Empty(t, f.audit.entries)
		f.reports.AssertExpectations(t)
	})

	t.Run("user removed between lookup and delete", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "bob").Return(&identity.Record{Username: "bob", Role: identity.RoleAdmin}, nil)
		f.reports.On("HasReportsBy", ctx, "bob").Return(false, nil)
		f.users.On("DeleteWithoutReports", ctx, "bob").Return(false, nil)

		err := f.svc.Delete(ctx, "bob", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
		assert.Empty(t, f.audit.entries)
	})

	t.Run("manager already removed", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "mia").Return(&identity.Record{Username: "mia", Role: identity.RoleManager}, nil)
		f.users.On("DeleteWithoutReports", ctx, "mia").Return(false, nil)
		f.reports.On("HasReportsBy", ctx, "mia").Return(false, nil)

		err := f.svc.Delete(ctx, "mia", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("Get", ctx, "ghost").Return(nil, errors.NewNotFoundError("user"))

		err := f.svc.Delete(ctx, "ghost", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("self removal", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Delete(ctx, "amy", "amy")
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users.On("UpdateStatus", ctx, "bob", identity.StatusSuspended).Return(nil)

	require.NoError(t, f.svc.SetStatus(ctx, "bob", identity.StatusSuspended, "amy"))
	assert.Equal(t, []string{"Set status of bob to Suspended"}, f.audit.actions())

	err := f.svc.SetStatus(ctx, "bob", identity.Status("Frozen"), "amy")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = f.svc.SetStatus(ctx, "amy", identity.StatusSuspended, "amy")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.users.On("UpdatePassword", ctx, "ghost", mock.Anything).Return(errors.NewNotFoundError("user"))
	err := f.svc.ResetPassword(ctx, "ghost", "new")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Empty(t, f.audit.entries)

	f.users.On("UpdatePassword", ctx, "bob", mock.Anything).Return(nil)
	require.NoError(t, f.svc.ResetPassword(ctx, "bob", "new"))
	assert.Equal(t, []string{audit.ActionPasswordReset}, f.audit.actions())

	err = f.svc.ResetPassword(ctx, "bob", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("current password must match", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleAdmin, identity.StatusActive), nil)

		err := f.svc.ChangePassword(ctx, "amy", "guess", "fresh")
		assert.True(t, errors.IsType(err, errors.ErrorTypeForbidden))
		f.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, f.audit.entries)
	})

	t.Run("current password required", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ChangePassword(ctx, "amy", "", "fresh")
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		f.users.AssertNotCalled(t, "GetCredentials", mock.Anything, mock.Anything)
	})

	t.Run("updates the hash", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("GetCredentials", ctx, "amy").Return(credentials(t, "amy", "s3cret", identity.RoleAdmin, identity.StatusActive), nil)
		var stored string
		f.users.On("UpdatePassword", ctx, "amy", mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
			stored = args.String(2)
		}).Return(nil)

		require.NoError(t, f.svc.ChangePassword(ctx, "amy", "s3cret", "fresh"))
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("fresh")))
		assert.Equal(t, []string{audit.ActionPasswordReset}, f.audit.actions())
	})
}

func TestBootstrapManager(t *testing.T) {
	ctx := context.Background()

	t.Run("creates when no manager exists", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("CountByRole", ctx, identity.RoleManager).Return(0, nil)
		f.users.On("Create", ctx, mock.MatchedBy(func(rec identity.Record) bool {
			return rec.Role == identity.RoleManager && rec.CreatedBy == "bootstrap"
		}), mock.Anything).Return(nil)

		created, err := f.svc.BootstrapManager(ctx, "root", "pw")
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("skips when a manager exists", func(t *testing.T) {
		f := newFixture(t)
		f.users.On("CountByRole", ctx, identity.RoleManager).Return(1, nil)

		created, err := f.svc.BootstrapManager(ctx, "root", "pw")
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestAuditFailureDoesNotFailAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.audit.err = stderrors.New("audit table locked")
	f.users.On("UpdateStatus", ctx, "bob", identity.StatusActive).Return(nil)

	assert.NoError(t, f.svc.SetStatus(ctx, "bob", identity.StatusActive, "amy"))
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users.On("UpdateStatus", ctx, "bob", identity.StatusSuspended).Return(nil)
	f.users.On("UpdateStatus", ctx, "bob", identity.StatusActive).Return(nil)

	require.NoError(t, f.svc.SetStatus(ctx, "bob", identity.StatusSuspended, "amy"))
	require.NoError(t, f.svc.SetStatus(ctx, "bob", identity.StatusActive, "amy"))

	trail, err := f.svc.AuditTrail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "Set status of bob to Active", trail[0].Action)

	trail, err = f.svc.AuditTrail(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

// Deleting an Admin with stored reports fails against a real store and leaves the user intact.
func TestDeleteAdminWithReports_SQLite(t *testing.T) {
	ctx := testutil.TestContext(t)
	db := testutil.NewTestDB(t)
	logger := zaptest.NewLogger(t)

	users := repository.NewUserRepository(db, logger)
	reports := repository.NewReportRepository(db, logger)
	svc := newService(users, reports, repository.NewAuditRepository(db), cache.NewMemorySessionStore(),
		Config{BcryptCost: bcrypt.MinCost, TokenExpiry: time.Hour}, logger, time.Now)

	require.NoError(t, svc.CreateUser(ctx, "amy", "pw", identity.RoleManager, "bootstrap"))
	require.NoError(t, svc.CreateUser(ctx, "bob", "pw", identity.RoleAdmin, "amy"))
	require.NoError(t, svc.CreateUser(ctx, "cal", "pw", identity.RoleAdmin, "amy"))

	_, err := reports.Save(ctx, reportBy("bob"))
	require.NoError(t, err)

	err = svc.Delete(ctx, "bob", "amy")
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))

	_, err = users.Get(ctx, "bob")
	assert.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "cal", "amy"))
	_, err = users.Get(ctx, "cal")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	admins, err := svc.ListByRole(ctx, identity.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "bob", admins[0].Username)
}

// Sessions stop resolving once the account behind them is suspended, removed or given a new password.
func TestSessionEndsWithAccount_SQLite(t *testing.T) {
	ctx := testutil.TestContext(t)
	db := testutil.NewTestDB(t)
	logger := zaptest.NewLogger(t)

	users := repository.NewUserRepository(db, logger)
	sessions := cache.NewMemorySessionStore()
	svc := newService(users, repository.NewReportRepository(db, logger), repository.NewAuditRepository(db), sessions,
		Config{BcryptCost: bcrypt.MinCost, TokenExpiry: time.Hour}, logger, time.Now)

	require.NoError(t, svc.CreateUser(ctx, "root", "pw", identity.RoleManager, "bootstrap"))
	require.NoError(t, svc.CreateUser(ctx, "amy", "pw", identity.RoleAdmin, "root"))

	login := func(t *testing.T) *identity.Session {
		t.Helper()
		sess, err := svc.Login(ctx, "amy", "pw")
		require.NoError(t, err)
		_, err = svc.Session(ctx, sess.SessionID)
		require.NoError(t, err)
		return sess
	}

	t.Run("suspend", func(t *testing.T) {
		sess := login(t)
		require.NoError(t, svc.SetStatus(ctx, "amy", identity.StatusSuspended, "root"))

		_, err := svc.Session(ctx, sess.SessionID)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
		_, err = sessions.Get(ctx, sess.SessionID)
		assert.ErrorIs(t, err, cache.ErrSessionNotFound)

		// re-activation does not bring the old session back
		require.NoError(t, svc.SetStatus(ctx, "amy", identity.StatusActive, "root"))
		_, err = svc.Session(ctx, sess.SessionID)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
	})

	t.Run("suspended behind the service's back", func(t *testing.T) {
		sess := login(t)
		require.NoError(t, users.UpdateStatus(ctx, "amy", identity.StatusSuspended))

		_, err := svc.Session(ctx, sess.SessionID)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
		require.NoError(t, users.UpdateStatus(ctx, "amy", identity.StatusActive))
	})

	t.Run("password reset", func(t *testing.T) {
		sess := login(t)
		require.NoError(t, svc.ResetPassword(ctx, "amy", "pw"))

		_, err := svc.Session(ctx, sess.SessionID)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
	})

	t.Run("delete", func(t *testing.T) {
		sess := login(t)
		require.NoError(t, svc.Delete(ctx, "amy", "root"))

		_, err := svc.Session(ctx, sess.SessionID)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnauthorized))
	})
}

func reportBy(uploader string) *kpi.Summary {
	return &kpi.Summary{
		Uploader:      uploader,
		UploadedAt:    time.Now().UTC(),
		TotalRows:     3,
		AnsweredCount: 2,
		DroppedCount:  1,
	}
}
