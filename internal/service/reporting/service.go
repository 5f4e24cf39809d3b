package reporting

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/analytics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/export"
)

// Config for the reporting service
type Config struct {
	Title    string
	MaxBytes int64
	MaxRows  int
}

// UploadResult is returned for a stored upload
type UploadResult struct {
	ReportID int64 `json:"report_id"`
	*Analysis
}

// Service ties the pipeline to storage, caching, auditing and exports. Every
// operation takes the caller's session and checks its role.
type Service struct {
	pipeline   *Pipeline
	aggregator *analytics.Aggregator
	store      ReportStore
	cache      ReportCache
	audit      AuditLog
	archiver   Archiver
	chart      export.ChartRenderer
	metrics    *metrics.Registry
	logger     *zap.Logger
	tracer     trace.Tracer
	title      string
	now        func() time.Time
}

// Option configures optional collaborators
type Option func(*Service)

// WithCache enables the report list cache
func WithCache(c ReportCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithArchiver copies rendered exports to an archive
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithChartRenderer(c export.ChartRenderer) Option {
	return func(s *Service) { s.chart = c }
}

// NewService creates the reporting service
func NewService(
	aggregator *analytics.Aggregator,
	store ReportStore,
	auditLog AuditLog,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		pipeline:   NewPipeline(aggregator, PipelineConfig{MaxBytes: cfg.MaxBytes, MaxRows: cfg.MaxRows}),
		aggregator: aggregator,
		store:      store,
		audit:      auditLog,
		chart:      export.DefaultBarChart(),
		logger:     logger,
		tracer:     telemetry.Tracer("reporting"),
		title:      cfg.Title,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func authorize(sess *identity.Session, action identity.Action) error {
	if sess == nil {
		return errors.NewUnauthorizedError("authentication required")
	}
	if !sess.Can(action) {
		return errors.NewForbiddenError("your role does not permit this action")
	}
	return nil
}

// Upload analyzes an upload and appends its summary to the report store. Schema
// errors abort before anything is stored.
func (s *Service) Upload(ctx context.Context, sess *identity.Session, r io.Reader) (*UploadResult, error) {
	if err := authorize(sess, identity.ActionUploadReport); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "reporting.Upload")
	defer span.End()

	start := s.now()
	a, err := s.pipeline.Analyze(ctx, sess.Username, r)
	if err != nil {
		s.metrics.ObserveUpload(metrics.ModeUnknown, resultOf(err), 0)
		s.logger.Info("upload rejected",
			zap.String("username", sess.Username),
			zap.Error(err))
		return nil, err
	}

	_, saveSpan := s.tracer.Start(ctx, "repository.Save")
	id, err := s.store.Save(ctx, a.Summary)
	telemetry.RecordError(saveSpan, err)
	saveSpan.End()

	s.metrics.ObserveUpload(a.Mode, resultOf(err), s.now().Sub(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.metrics.AddRows(a.Accepted, len(a.Dropped))
	span.SetAttributes(attribute.Int64("report.id", id))

	s.invalidate(ctx)
	s.record(ctx, audit.ActionReportUpload, sess.Username)

	s.logger.Info("report stored",
		zap.Int64("report_id", id),
		zap.String("username", sess.Username),
		zap.String("mode", a.Mode),
		zap.Int("rows", a.Summary.TotalRows),
		zap.Int("dropped_rows", len(a.Dropped)))

	return &UploadResult{ReportID: id, Analysis: a}, nil
}

// Reports lists stored reports in insertion order, projected for the caller's role
func (s *Service) Reports(ctx context.Context, sess *identity.Session) ([]map[string]any, error) {
	if err := authorize(sess, identity.ActionViewReports); err != nil {
		return nil, err
	}

	reports, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	return Project(sess.Role, reports)
}

// Trend returns the handle-time and answer-rate series over stored reports
func (s *Service) Trend(ctx context.Context, sess *identity.Session) (kpi.TrendSeries, error) {
	if err := authorize(sess, identity.ActionViewReports); err != nil {
		return kpi.TrendSeries{}, err
	}

	reports, err := s.list(ctx)
	if err != nil {
		return kpi.TrendSeries{}, err
	}
	return s.aggregator.Trend(reports), nil
}

// ExportUpload analyzes an upload and renders it without storing anything
func (s *Service) ExportUpload(ctx context.Context, sess *identity.Session, r io.Reader, format Format) ([]byte, error) {
	if err := authorize(sess, identity.ActionExportUpload); err != nil {
		return nil, err
	}

	a, err := s.pipeline.Analyze(ctx, sess.Username, r)
	if err != nil {
		return nil, err
	}

	data, err := s.render(ctx, a.Document(s.title), format)
	if err != nil {
		return nil, err
	}

	s.archive(ctx, archiveKey("uploads", sess.Username, a.Summary.UploadedAt, format), format, data)
	return data, nil
}

// ExportReports renders the stored reports visible to the caller as a workbook
func (s *Service) ExportReports(ctx context.Context, sess *identity.Session) ([]byte, error) {
	if err := authorize(sess, identity.ActionExportReports); err != nil {
		return nil, err
	}

	reports, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	table, err := ProjectTable(sess.Role, reports)
	if err != nil {
		return nil, err
	}

	doc := export.FromReports(s.title, table, s.aggregator.Trend(reports))
	data, err := s.render(ctx, doc, FormatXLSX)
	if err != nil {
		return nil, err
	}

	s.archive(ctx, archiveKey("reports", sess.Username, s.now(), FormatXLSX), FormatXLSX, data)
	return data, nil
}

func (s *Service) render(ctx context.Context, doc export.Document, format Format) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "export.Render", trace.WithAttributes(attribute.String("format", string(format))))
	defer span.End()

	start := s.now()
	data, err := Render(doc, format, s.chart)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.metrics.ObserveExport(string(format), s.now().Sub(start), len(data))
	return data, nil
}

func (s *Service) list(ctx context.Context) ([]kpi.StoredReport, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		reports, g, ok, err := s.cache.GetReports(ctx)
		switch {
		case err != nil:
			s.logger.Warn("report cache read failed", zap.Error(err))
		case ok:
			return reports, nil
		default:
			gen, cacheable = g, true
		}
	}

	reports, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetReports(ctx, gen, reports); err != nil {
			s.logger.Warn("report cache write failed", zap.Error(err))
		}
	}
	return reports, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}

// archive copies data to the archiver. Failures are logged and counted only.
func (s *Service) archive(ctx context.Context, key string, format Format, data []byte) {
	if s.archiver == nil {
		return
	}
	if _, err := s.archiver.Archive(ctx, key, format.ContentType(), data); err != nil {
		s.metrics.ArchiveFailed()
		s.logger.Warn("export archive failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, action, performedBy string) {
	_, err := s.audit.Append(ctx, audit.Entry{
		Action:      action,
		PerformedBy: performedBy,
		Timestamp:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.IsType(err, errors.ErrorTypeSchema):
		return metrics.ResultSchema
	case errors.IsType(err, errors.ErrorTypeStorage):
		return metrics.ResultStorage
	default:
		return metrics.ResultInvalid
	}
}
