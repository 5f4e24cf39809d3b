package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
)

// UserRepository stores identities and their password hashes
type UserRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

const userColumns = `username, password_hash, role, status, last_login, created_by, created_at`

// Create inserts a new identity. A taken username yields an AlreadyExists conflict.
func (r *UserRepository) Create(ctx context.Context, rec identity.Record, passwordHash string) error {
	query := r.db.Rebind(`
		INSERT INTO users (username, password_hash, role, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		rec.Username, passwordHash, string(rec.Role), string(rec.Status), rec.CreatedBy, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return errors.NewAlreadyExistsError("user", rec.Username).WithCause(ErrDuplicateKey)
		}
		return errors.NewStorageError("failed to create user", err)
	}
	return nil
}

// GetCredentials loads an identity with its password hash
func (r *UserRepository) GetCredentials(ctx context.Context, username string) (*identity.Credentials, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)

	c, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("user").WithCause(ErrNotFound)
		}
		return nil, errors.NewStorageError("failed to get user", err)
	}
	return c, nil
}

// Get loads an identity
func (r *UserRepository) Get(ctx context.Context, username string) (*identity.Record, error) {
	c, err := r.GetCredentials(ctx, username)
	if err != nil {
		return nil, err
	}
	return &c.Record, nil
}

// ListByRole returns identities with role ordered by username
func (r *UserRepository) ListByRole(ctx context.Context, role identity.Role) ([]identity.Record, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE role = ? ORDER BY username`)

	rows, err := r.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, errors.NewStorageError("failed to list users", err)
	}
	defer rows.Close()

	records := make([]identity.Record, 0)
	for rows.Next() {
		c, err := scanUser(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to read user", err)
		}
		records = append(records, c.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate users", err)
	}
	return records, nil
}

// CountByRole counts identities holding role
func (r *UserRepository) CountByRole(ctx context.Context, role identity.Role) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ?`)

	var n int
	if err := r.db.QueryRowContext(ctx, query, string(role)).Scan(&n); err != nil {
		return 0, errors.NewStorageError("failed to count users", err)
	}
	return n, nil
}

// UpdateStatus sets the account status
func (r *UserRepository) UpdateStatus(ctx context.Context, username string, status identity.Status) error {
	query := r.db.Rebind(`UPDATE users SET status = ? WHERE username = ?`)
	return r.execOne(ctx, "failed to update status", query, string(status), username)
}

// UpdatePassword replaces the stored password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	query := r.db.Rebind(`UPDATE users SET password_hash = ? WHERE username = ?`)
	return r.execOne(ctx, "failed to update password", query, passwordHash, username)
}

// TouchLastLogin records a successful login time
func (r *UserRepository) TouchLastLogin(ctx context.Context, username string, at time.Time) error {
	query := r.db.Rebind(`UPDATE users SET last_login = ? WHERE username = ?`)
	return r.execOne(ctx, "failed to record login", query, at.UTC(), username)
}

// DeleteWithoutReports removes username only while it owns no stored reports.
// It returns false when the user is missing or still has reports.
func (r *UserRepository) DeleteWithoutReports(ctx context.Context, username string) (bool, error) {
	query := r.db.Rebind(`
		DELETE FROM users
		WHERE username = ?
		AND NOT EXISTS (SELECT 1 FROM reports WHERE reports.username = ?)`)

	res, err := r.db.ExecContext(ctx, query, username, username)
	if err != nil {
		return false, errors.NewStorageError("failed to delete user", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorageError("failed to delete user", err)
	}

	if n > 0 {
		r.logger.Info("user deleted", zap.String("username", username))
	}
	return n > 0, nil
}

func (r *UserRepository) execOne(ctx context.Context, msg, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewStorageError(msg, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorageError(msg, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("user").WithCause(ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*identity.Credentials, error) {
	var (
		c            identity.Credentials
		role, status string
		lastLogin    nullTime
		createdAt    nullTime
	)

	err := row.Scan(&c.Record.Username, &c.PasswordHash, &role, &status, &lastLogin, &c.Record.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Record.Role = identity.Role(role)
	c.Record.Status = identity.Status(status)
	c.Record.LastLogin = lastLogin.ptr()
	c.Record.CreatedAt = createdAt.Time

	return &c, nil
}
