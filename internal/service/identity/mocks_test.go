package identity

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
)

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, rec identity.Record, passwordHash string) error {
	args := m.Called(ctx, rec, passwordHash)
	return args.Error(0)
}

func (m *mockUserRepository) GetCredentials(ctx context.Context, username string) (*identity.Credentials, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Credentials), args.Error(1)
}

func (m *mockUserRepository) Get(ctx context.Context, username string) (*identity.Record, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Record), args.Error(1)
}

func (m *mockUserRepository) ListByRole(ctx context.Context, role identity.Role) ([]identity.Record, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Record), args.Error(1)
}

func (m *mockUserRepository) CountByRole(ctx context.Context, role identity.Role) (int, error) {
	args := m.Called(ctx, role)
	return args.Int(0), args.Error(1)
}

func (m *mockUserRepository) UpdateStatus(ctx context.Context, username string, status identity.Status) error {
	args := m.Called(ctx, username, status)
	return args.Error(0)
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	args := m.Called(ctx, username, passwordHash)
	return args.Error(0)
}

func (m *mockUserRepository) TouchLastLogin(ctx context.Context, username string, at time.Time) error {
	args := m.Called(ctx, username, at)
	return args.Error(0)
}

func (m *mockUserRepository) DeleteWithoutReports(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

type mockReportOwnership struct {
	mock.Mock
}

func (m *mockReportOwnership) HasReportsBy(ctx context.Context, uploader string) (bool, error) {
	args := m.Called(ctx, uploader)
	return args.Bool(0), args.Error(1)
}

// recordingAudit keeps appended entries in memory
type recordingAudit struct {
	entries []audit.Entry
	err     error
}

func (r *recordingAudit) Append(_ context.Context, e audit.Entry) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.entries = append(r.entries, e)
	return int64(len(r.entries)), nil
}

func (r *recordingAudit) List(_ context.Context, limit int) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *recordingAudit) actions() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}
