package identity

import (
	"context"
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
)

// Service is the identity store used by the API layer
type Service interface {
	// Authentication
	Authenticate(ctx context.Context, username, secret string) (*identity.Record, error)
	Login(ctx context.Context, username, secret string) (*identity.Session, error)
	Logout(ctx context.Context, sess *identity.Session) error
	Session(ctx context.Context, sessionID string) (*identity.Session, error)

	// Account management
	CreateUser(ctx context.Context, username, secret string, role identity.Role, createdBy string) error
	SetStatus(ctx context.Context, username string, status identity.Status, actor string) error
	Delete(ctx context.Context, username, actor string) error
	ResetPassword(ctx context.Context, username, secret string) error
	ChangePassword(ctx context.Context, username, current, secret string) error
	ListByRole(ctx context.Context, role identity.Role) ([]identity.Record, error)
	BootstrapManager(ctx context.Context, username, secret string) (bool, error)

	// AuditTrail returns the newest audit entries first
	AuditTrail(ctx context.Context, limit int) ([]audit.Entry, error)
}

// UserRepository persists identities
type UserRepository interface {
	Create(ctx context.Context, rec identity.Record, passwordHash string) error
	GetCredentials(ctx context.Context, username string) (*identity.Credentials, error)
	Get(ctx context.Context, username string) (*identity.Record, error)
	ListByRole(ctx context.Context, role identity.Role) ([]identity.Record, error)
	CountByRole(ctx context.Context, role identity.Role) (int, error)
	UpdateStatus(ctx context.Context, username string, status identity.Status) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
	DeleteWithoutReports(ctx context.Context, username string) (bool, error)
}

// ReportOwnership answers whether a user has stored reports
type ReportOwnership interface {
	HasReportsBy(ctx context.Context, uploader string) (bool, error)
}

// AuditLog records identity events
type AuditLog interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// SessionStore keeps issued sessions
type SessionStore interface {
	Create(ctx context.Context, s identity.Session) error
	Get(ctx context.Context, sessionID string) (*identity.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeUser(ctx context.Context, username string) error
}
