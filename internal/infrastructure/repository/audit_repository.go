package repository

import (
	"context"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
)

// AuditRepository appends to and reads the audit log
type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes an entry and returns its id
func (r *AuditRepository) Append(ctx context.Context, e audit.Entry) (int64, error) {
	query := r.db.Rebind(`
		INSERT INTO audit_log (action, performed_by, timestamp)
		VALUES (?, ?, ?)
		RETURNING id`)

	var id int64
	if err := r.db.QueryRowContext(ctx, query, e.Action, e.PerformedBy, e.Timestamp.UTC()).Scan(&id); err != nil {
		return 0, errors.NewStorageError("failed to append audit entry", err)
	}
	return id, nil
}

// List returns the newest entries first, at most limit of them
func (r *AuditRepository) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.db.Rebind(`
		SELECT id, action, performed_by, timestamp
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.NewStorageError("failed to list audit log", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e  audit.Entry
			ts nullTime
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.PerformedBy, &ts); err != nil {
			return nil, errors.NewStorageError("failed to read audit entry", err)
		}
		e.Timestamp = ts.Time
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate audit log", err)
	}
	return entries, nil
}
