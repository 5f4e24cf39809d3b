package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/database"
)

// ReportRepository is the append-only store of KPI summaries. It has no update or
// delete operations.
type ReportRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *database.DB, logger *zap.Logger) *ReportRepository {
	return &ReportRepository{db: db, logger: logger}
}

const reportColumns = `id, username, upload_date, total_rows, answered, dropped,
	aht, aht_available, aht_column, status_counts, distributions`

// Save appends a summary and returns its sequential id
func (r *ReportRepository) Save(ctx context.Context, s *kpi.Summary) (int64, error) {
	if s == nil || s.Uploader == "" {
		return 0, errors.NewValidationError("INVALID_REPORT", "report uploader is required")
	}

	counts, err := json.Marshal(nonNilCounts(s.StatusCounts))
	if err != nil {
		return 0, errors.NewInternalError("failed to encode status counts").WithCause(err)
	}
	dists, err := json.Marshal(nonNilDistributions(s.Distributions))
	if err != nil {
		return 0, errors.NewInternalError("failed to encode distributions").WithCause(err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := r.db.Rebind(`
		INSERT INTO reports (
			username, upload_date, total_rows, answered, dropped,
			aht, aht_available, aht_column, status_counts, distributions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err = tx.QueryRowContext(ctx, query,
		s.Uploader, s.UploadedAt.UTC(), s.TotalRows, s.AnsweredCount, s.DroppedCount,
		s.AverageHandleTime, s.HandleTimeAvailable, s.HandleTimeColumn, string(counts), string(dists),
	).Scan(&id)
	if err != nil {
		return 0, errors.NewStorageError("failed to save report", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewStorageError("failed to commit report", err)
	}

	r.logger.Info("report saved",
		zap.Int64("report_id", id),
		zap.String("uploader", s.Uploader),
		zap.Int("total_rows", s.TotalRows))

	return id, nil
}

// ListAll returns every stored report in insertion order
func (r *ReportRepository) ListAll(ctx context.Context) ([]kpi.StoredReport, error) {
	query := `SELECT ` + reportColumns + ` FROM reports ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewStorageError("failed to list reports", err)
	}
	defer rows.Close()

	reports := make([]kpi.StoredReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to read report", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate reports", err)
	}

	return reports, nil
}

// HasReportsBy reports whether uploader has saved at least one report
func (r *ReportRepository) HasReportsBy(ctx context.Context, uploader string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM reports WHERE username = ?`)

	var n int64
	if err := r.db.QueryRowContext(ctx, query, uploader).Scan(&n); err != nil {
		return false, errors.NewStorageError("failed to count reports", err)
	}
	return n > 0, nil
}

func scanReport(rows *sql.Rows) (kpi.StoredReport, error) {
	var (
		rep           kpi.StoredReport
		uploaded      nullTime
		counts, dists string
	)

	err := rows.Scan(
		&rep.ID, &rep.Uploader, &uploaded, &rep.TotalRows, &rep.AnsweredCount, &rep.DroppedCount,
		&rep.AverageHandleTime, &rep.HandleTimeAvailable, &rep.HandleTimeColumn, &counts, &dists,
	)
	if err != nil {
		return rep, err
	}
	rep.UploadedAt = uploaded.Time

	if err := json.Unmarshal([]byte(counts), &rep.StatusCounts); err != nil {
		return rep, fmt.Errorf("failed to unmarshal status counts: %w", err)
	}
	if err := json.Unmarshal([]byte(dists), &rep.Distributions); err != nil {
		return rep, fmt.Errorf("failed to unmarshal distributions: %w", err)
	}
	if len(rep.StatusCounts) == 0 {
		rep.StatusCounts = nil
	}
	if len(rep.Distributions) == 0 {
		rep.Distributions = nil
	}

	return rep, nil
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilDistributions(m map[string]kpi.Distribution) map[string]kpi.Distribution {
	if m == nil {
		return map[string]kpi.Distribution{}
	}
	return m
}
