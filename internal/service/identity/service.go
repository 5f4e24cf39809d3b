package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
)

const (
	maxUsernameLength = 64
	// bcrypt ignores input past 72 bytes
	maxSecretLength = 72
)

// Config tunes the identity service
type Config struct {
	BcryptCost  int
	TokenExpiry time.Duration
}

// service implements the Service interface
type service struct {
	users    UserRepository
	reports  ReportOwnership
	audit    AuditLog
	sessions SessionStore
	logger   *zap.Logger

	cost   int
	expiry time.Duration
	now    func() time.Time

	// compared against when the username is unknown so both paths cost one bcrypt check
	dummyHash []byte
}

// NewService creates a new identity service
func NewService(
	users UserRepository,
	reports ReportOwnership,
	auditLog AuditLog,
	sessions SessionStore,
	cfg Config,
	logger *zap.Logger,
) Service {
	return newService(users, reports, auditLog, sessions, cfg, logger, time.Now)
}

func newService(
	users UserRepository,
	reports ReportOwnership,
	auditLog AuditLog,
	sessions SessionStore,
	cfg Config,
	logger *zap.Logger,
	now func() time.Time,
) *service {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}

	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)

	return &service{
		users:     users,
		reports:   reports,
		audit:     auditLog,
		sessions:  sessions,
		logger:    logger,
		cost:      cost,
		expiry:    expiry,
		now:       now,
		dummyHash: dummy,
	}
}

// Authenticate verifies username and secret. Unknown users and wrong secrets are
// indistinguishable; suspended accounts are rejected after the secret checks out.
func (s *service) Authenticate(ctx context.Context, username, secret string) (*identity.Record, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return nil, errors.ErrInvalidCredentials
	}

	creds, err := s.users.GetCredentials(ctx, username)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(secret)); err != nil {
		return nil, errors.ErrInvalidCredentials
	}

	if !creds.Record.Active() {
		s.logger.Info("suspended account rejected", zap.String("username", username))
		return nil, errors.ErrAccountSuspended
	}

	at := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, username, at); err != nil {
		return nil, err
	}
	creds.Record.LastLogin = &at

	s.record(ctx, audit.ActionLogin, username)
	return &creds.Record, nil
}

// Login authenticates and opens a session, replacing any earlier session of the user
func (s *service) Login(ctx context.Context, username, secret string) (*identity.Session, error) {
	rec, err := s.Authenticate(ctx, username, secret)
	if err != nil {
		return nil, err
	}

	issued := s.now().UTC()
	sess := identity.Session{
		Username:  rec.Username,
		Role:      rec.Role,
		SessionID: uuid.NewString(),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(s.expiry),
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, errors.NewStorageError("failed to create session", err)
	}

	s.logger.Info("user logged in",
		zap.String("username", sess.Username),
		zap.String("role", sess.Role.String()))
	return &sess, nil
}

func (s *service) Logout(ctx context.Context, sess *identity.Session) error {
	if sess == nil {
		return errors.NewUnauthorizedError("no active session")
	}
	if err := s.sessions.Revoke(ctx, sess.SessionID); err != nil {
		return errors.NewStorageError("failed to revoke session", err)
	}
	s.record(ctx, audit.ActionLogout, sess.Username)
	return nil
}

// Session resolves a session id issued by Login
func (s *service) Session(ctx context.Context, sessionID string) (*identity.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if stderrors.Is(err, identity.ErrSessionNotFound) {
			return nil, errors.NewUnauthorizedError("session expired or revoked")
		}
		return nil, errors.NewStorageError("failed to load session", err)
	}
	if sess.Expired(s.now()) {
		return nil, errors.NewUnauthorizedError("session expired or revoked")
	}

	// the account may have been removed or suspended since the session was issued
	rec, err := s.users.Get(ctx, sess.Username)
	if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}
	if err != nil || !rec.Active() {
		s.revokeSessions(ctx, sess.Username)
		return nil, errors.NewUnauthorizedError("session expired or revoked")
	}
	return sess, nil
}

func (s *service) CreateUser(ctx context.Context, username, secret string, role identity.Role, createdBy string) error {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return err
	}
	if err := validateSecret(secret); err != nil {
		return err
	}
	if _, err := identity.ParseRole(role.String()); err != nil {
		return errors.NewValidationError("INVALID_ROLE", err.Error())
	}

	hash, err := s.hash(secret)
	if err != nil {
		return err
	}

	rec := identity.Record{
		Username:  username,
		Role:      role,
		Status:    identity.StatusActive,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, rec, hash); err != nil {
		return err
	}

	s.logger.Info("user created",
		zap.String("username", username),
		zap.String("role", role.String()),
		zap.String("created_by", createdBy))
	s.record(ctx, audit.CreatedUser(role.String(), username), createdBy)
	return nil
}

func (s *service) SetStatus(ctx context.Context, username string, status identity.Status, actor string) error {
	if _, err := identity.ParseStatus(status.String()); err != nil {
		return errors.NewValidationError("INVALID_STATUS", err.Error())
	}
	if username == actor && status == identity.StatusSuspended {
		return errors.NewValidationError("SELF_SUSPEND", "you cannot suspend your own account")
	}

	if err := s.users.UpdateStatus(ctx, username, status); err != nil {
		return err
	}
	if status == identity.StatusSuspended {
		s.revokeSessions(ctx, username)
	}

	s.record(ctx, audit.ChangedStatus(username, status.String()), actor)
	return nil
}

// Delete removes a user. An Admin who has uploaded reports cannot be removed, so
// stored reports never lose their uploader.
func (s *service) Delete(ctx context.Context, username, actor string) error {
	if username == actor {
		return errors.NewValidationError("SELF_DELETE", "you cannot remove your own account")
	}

	rec, err := s.users.Get(ctx, username)
	if err != nil {
		return err
	}

	if rec.Role == identity.RoleAdmin {
		has, err := s.reports.HasReportsBy(ctx, username)
		if err != nil {
			return err
		}
		if has {
			return userHasReports(username)
		}
	}

	deleted, err := s.users.DeleteWithoutReports(ctx, username)
	if err != nil {
		return err
	}
	if !deleted {
		// either a report landed between the check and the delete or the user is already gone
		has, err := s.reports.HasReportsBy(ctx, username)
		if err != nil {
			return err
		}
		if has {
			return userHasReports(username)
		}
		return errors.ErrUserNotFound
	}

	s.revokeSessions(ctx, username)
	s.record(ctx, audit.RemovedUser(rec.Role.String(), username), actor)
	return nil
}

func (s *service) ResetPassword(ctx context.Context, username, secret string) error {
	if err := validateSecret(secret); err != nil {
		return err
	}

	hash, err := s.hash(secret)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, username, hash); err != nil {
		return err
	}

	s.revokeSessions(ctx, username)
	s.record(ctx, audit.ActionPasswordReset, username)
	return nil
}

// ChangePassword replaces the caller's own password after checking the current one
func (s *service) ChangePassword(ctx context.Context, username, current, secret string) error {
	if current == "" {
		return errors.NewValidationError("INVALID_PASSWORD", "current password is required")
	}
	if err := validateSecret(secret); err != nil {
		return err
	}

	creds, err := s.users.GetCredentials(ctx, username)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(current)); err != nil {
		return errors.NewForbiddenError("current password is incorrect")
	}

	return s.ResetPassword(ctx, username, secret)
}

// revokeSessions ends every session of username. Session re-checks the account on each
// call, so a failed revoke is logged rather than returned.
func (s *service) revokeSessions(ctx context.Context, username string) {
	if err := s.sessions.RevokeUser(ctx, username); err != nil {
		s.logger.Warn("session revoke failed",
			zap.String("username", username),
			zap.Error(err))
	}
}

func (s *service) ListByRole(ctx context.Context, role identity.Role) ([]identity.Record, error) {
	if _, err := identity.ParseRole(role.String()); err != nil {
		return nil, errors.NewValidationError("INVALID_ROLE", err.Error())
	}
	return s.users.ListByRole(ctx, role)
}

// BootstrapManager creates the first Manager account when none exists yet.
// It reports whether an account was created.
func (s *service) BootstrapManager(ctx context.Context, username, secret string) (bool, error) {
	n, err := s.users.CountByRole(ctx, identity.RoleManager)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	if err := s.CreateUser(ctx, username, secret, identity.RoleManager, "bootstrap"); err != nil {
		if errors.IsType(err, errors.ErrorTypeConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MaxAuditTrail caps a single audit listing
const MaxAuditTrail = 500

func (s *service) AuditTrail(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > MaxAuditTrail {
		limit = MaxAuditTrail
	}
	return s.audit.List(ctx, limit)
}

func (s *service) hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", errors.NewInternalError("failed to hash password").WithCause(err)
	}
	return string(b), nil
}

// record appends to the audit log. A failed append is logged and does not undo the action.
func (s *service) record(ctx context.Context, action, performedBy string) {
	_, err := s.audit.Append(ctx, audit.Entry{
		Action:      action,
		PerformedBy: performedBy,
		Timestamp:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit append failed",
			zap.String("action", action),
			zap.String("performed_by", performedBy),
			zap.Error(err))
	}
}

func userHasReports(username string) error {
	return errors.NewPreconditionError("USER_HAS_REPORTS",
		fmt.Sprintf("user %q has uploaded reports and cannot be removed", username))
}

func validateUsername(username string) error {
	if username == "" {
		return errors.NewValidationError("INVALID_USERNAME", "username is required")
	}
	if len(username) > maxUsernameLength {
		return errors.NewValidationError("INVALID_USERNAME",
			fmt.Sprintf("username must be at most %d characters", maxUsernameLength))
	}
	return nil
}

func validateSecret(secret string) error {
	if secret == "" {
		return errors.NewValidationError("INVALID_PASSWORD", "password is required")
	}
	if len(secret) > maxSecretLength {
		return errors.NewValidationError("INVALID_PASSWORD",
			fmt.Sprintf("password must be at most %d bytes", maxSecretLength))
	}
	return nil
}
