package reporting

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/analytics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/export"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/ingest"
)

// Analysis is the in-memory result of running an upload through the pipeline
type Analysis struct {
	Mode string `json:"mode"`
	// Summary is the persisted form; for multi-sheet uploads it is the workbook headline
	Summary  *kpi.Summary         `json:"summary"`
	Workbook *kpi.WorkbookSummary `json:"workbook,omitempty"`
	Dropped  []ingest.ParseError  `json:"dropped_rows,omitempty"`
	Accepted int                  `json:"accepted_rows"`
}

// Document lays the analysis out for the export formatters
func (a *Analysis) Document(title string) export.Document {
	if a.Workbook != nil {
		return export.FromWorkbookSummary(title, a.Workbook)
	}
	return export.FromSummary(title, a.Summary)
}

// PipelineConfig bounds uploads
type PipelineConfig struct {
	MaxBytes int64
	MaxRows  int
}

// Pipeline runs read, normalize, validate and aggregate over one upload. It holds no
// storage and is shared by the API and the offline CLI.
type Pipeline struct {
	aggregator *analytics.Aggregator
	cfg        PipelineConfig
	tracer     trace.Tracer
}

func NewPipeline(aggregator *analytics.Aggregator, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		aggregator: aggregator,
		cfg:        cfg,
		tracer:     telemetry.Tracer("reporting"),
	}
}

// Analyze reads an .xlsx upload and aggregates it. A workbook carrying any of the
// Dispositions, Inbound Productivity or Disconnections tabs is processed in
// multi-sheet mode; anything else uses its first sheet.
func (p *Pipeline) Analyze(ctx context.Context, uploader string, r io.Reader) (*Analysis, error) {
	ctx, span := p.tracer.Start(ctx, "reporting.Analyze", trace.WithAttributes(
		attribute.String("uploader", uploader),
	))
	defer span.End()

	data, err := p.readUpload(r)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	_, readSpan := p.tracer.Start(ctx, "ingest.ReadWorkbook")
	wb, err := ingest.ReadWorkbookBytes(data, ingest.Limits{MaxRows: p.cfg.MaxRows})
	telemetry.RecordError(readSpan, err)
	readSpan.End()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var a *Analysis
	if wb.MultiSheet() {
		a, err = p.analyzeWorkbook(uploader, wb)
	} else {
		a, err = p.analyzeSheet(uploader, wb.First())
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("mode", a.Mode),
		attribute.Int("rows.accepted", a.Accepted),
		attribute.Int("rows.dropped", len(a.Dropped)),
	)
	return a, nil
}

func (p *Pipeline) analyzeSheet(uploader string, sheet *ingest.Sheet) (*Analysis, error) {
	ds, err := ingest.Validate(ingest.Normalize(sheet), ingest.SingleSheetShape)
	if err != nil {
		return nil, err
	}

	s, err := p.aggregator.Summarize(uploader, ds)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Mode:     metrics.ModeSingle,
		Summary:  s,
		Dropped:  ds.Dropped,
		Accepted: len(ds.Rows),
	}, nil
}

func (p *Pipeline) analyzeWorkbook(uploader string, wb *ingest.Workbook) (*Analysis, error) {
	ds, err := ingest.ValidateWorkbook(wb)
	if err != nil {
		return nil, err
	}

	ws, err := p.aggregator.SummarizeWorkbook(uploader, ds)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Mode:     metrics.ModeMulti,
		Summary:  ws.Headline(),
		Workbook: ws,
	}
	for _, d := range []*ingest.Dataset{ds.Dispositions, ds.Productivity, ds.Disconnections} {
		a.Dropped = append(a.Dropped, d.Dropped...)
		a.Accepted += len(d.Rows)
	}
	return a, nil
}

func (p *Pipeline) readUpload(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.NewValidationError("EMPTY_UPLOAD", "no file was uploaded")
	}

	if p.cfg.MaxBytes > 0 {
		r = io.LimitReader(r, p.cfg.MaxBytes+1)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.NewValidationError("UPLOAD_READ_FAILED", "upload could not be read").WithCause(err)
	}
	if buf.Len() == 0 {
		return nil, errors.NewValidationError("EMPTY_UPLOAD", "no file was uploaded")
	}
	if p.cfg.MaxBytes > 0 && int64(buf.Len()) > p.cfg.MaxBytes {
		return nil, errors.NewValidationError("UPLOAD_TOO_LARGE",
			fmt.Sprintf("upload exceeds the limit of %d bytes", p.cfg.MaxBytes))
	}
	return buf.Bytes(), nil
}
