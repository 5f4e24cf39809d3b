package cache

import (
	"context"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Key prefixes
const (
	KeyPrefix            = "wfa:"
	SessionPrefix        = KeyPrefix + "session:"
	UserPrefix           = KeyPrefix + "user:"
	ReportsKey           = KeyPrefix + "reports:all"
	ReportsGenerationKey = KeyPrefix + "reports:gen"
)

// ErrSessionNotFound is returned for unknown, revoked or expired sessions
var ErrSessionNotFound = identity.ErrSessionNotFound

// SessionStore keeps authenticated sessions. Creating a session for a user replaces
// that user's previous session.
type SessionStore interface {
	Create(ctx context.Context, s identity.Session) error
	Get(ctx context.Context, sessionID string) (*identity.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	// RevokeUser ends the session of username, if any
	RevokeUser(ctx context.Context, username string) error
}

// ReportCache holds the stored report list between saves
type ReportCache interface {
	GetReports(ctx context.Context) ([]kpi.StoredReport, int64, bool, error)
	SetReports(ctx context.Context, gen int64, reports []kpi.StoredReport) error
	Invalidate(ctx context.Context) error
}
