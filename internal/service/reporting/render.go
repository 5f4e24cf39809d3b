package reporting

import (
	"fmt"
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/export"
)

// Format is an export document format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ContentType is the MIME type served for f
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
}

// ParseFormat accepts "xlsx" or "pdf"
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXLSX, FormatPDF:
		return Format(s), nil
	default:
		return "", errors.NewValidationError("INVALID_FORMAT", fmt.Sprintf("unsupported export format %q", s))
	}
}

// Render renders doc as format. PDFs get a chart drawn from the series when doc has none.
func Render(doc export.Document, format Format, chart export.ChartRenderer) ([]byte, error) {
	if format == FormatPDF && chart != nil && len(doc.Series) > 0 && len(doc.Chart) == 0 {
		png, err := chart.Render(doc.Title, doc.Series)
		if err != nil {
			return nil, errors.NewInternalError("failed to render chart").WithCause(err)
		}
		doc.Chart = png
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = export.PDF(doc)
	case FormatXLSX:
		data, err = export.Workbook(doc)
	default:
		return nil, errors.NewValidationError("INVALID_FORMAT", fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to render export").WithCause(err)
	}
	return data, nil
}

// archiveKey names an archived export by uploader and time
func archiveKey(kind, uploader string, at time.Time, format Format) string {
	return fmt.Sprintf("%s/%s/%s.%s", kind, uploader, at.UTC().Format("20060102T150405.000Z"), format)
}
