package reporting

import (
	"context"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// ReportStore is the append-only store of summaries
type ReportStore interface {
	Save(ctx context.Context, s *kpi.Summary) (int64, error)
	ListAll(ctx context.Context) ([]kpi.StoredReport, error)
}

// ReportCache caches ListAll between saves. GetReports reports the cache generation on a
// miss; SetReports drops the list if Invalidate ran since that generation was read.
type ReportCache interface {
	GetReports(ctx context.Context) ([]kpi.StoredReport, int64, bool, error)
	SetReports(ctx context.Context, gen int64, reports []kpi.StoredReport) error
	Invalidate(ctx context.Context) error
}

// AuditLog records report activity
type AuditLog interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// Archiver keeps a copy of rendered exports
type Archiver interface {
	Archive(ctx context.Context, key, contentType string, data []byte) (string, error)
}
