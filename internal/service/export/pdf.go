package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin     = 15.0
	pdfLineHeight = 6.0
	chartImage    = "chart"
)

// PDF renders doc as an A4 document: title, metrics, chart, then each table.
// Tables wider than the page are split across column bands.
func PDF(doc Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(documentTimestamp)
	pdf.SetModificationDate(documentTimestamp)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(doc.Title), false)
	pdf.SetCreator("workforce-analytics", false)

	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 2*pdfMargin

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(contentWidth, 8, tr(doc.Title), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	for _, m := range doc.Metrics {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(60, pdfLineHeight, tr(m.Label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(contentWidth-60, pdfLineHeight, tr(m.Value), "", 1, "L", false, 0, "")
	}

	if len(doc.Chart) > 0 {
		pdf.Ln(4)
		opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		info := pdf.RegisterImageOptionsReader(chartImage, opts, bytes.NewReader(doc.Chart))
		if pdf.Ok() && info != nil {
			h := contentWidth * info.Height() / info.Width()
			pdf.ImageOptions(chartImage, pdfMargin, pdf.GetY(), contentWidth, h, true, opts, 0, "")
		}
	}

	for _, t := range doc.Tables {
		writePDFTable(pdf, tr, t, contentWidth)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

const (
	minColumnWidth = 24.0
	maxColumns     = 7
)

func writePDFTable(pdf *fpdf.Fpdf, tr func(string) string, t Table, contentWidth float64) {
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentWidth, 8, tr(t.Name), "", 1, "L", false, 0, "")

	if len(t.Headers) == 0 {
		return
	}

	// the first column is repeated in every band so rows stay identifiable
	for start := 1; ; start += maxColumns - 1 {
		end := min(start+maxColumns-1, len(t.Headers))
		cols := append([]int{0}, seq(start, end)...)
		width := contentWidth / float64(len(cols))
		if width < minColumnWidth {
			width = minColumnWidth
		}

		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, c := range cols {
			pdf.CellFormat(width, pdfLineHeight, tr(t.Headers[c]), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 9)
		for _, row := range t.Rows {
			for _, c := range cols {
				var v any
				if c < len(row) {
					v = row[c]
				}
				align := "L"
				if _, ok := v.(string); !ok && c > 0 {
					align = "R"
				}
				pdf.CellFormat(width, pdfLineHeight, tr(cellText(v)), "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}

		if end >= len(t.Headers) {
			break
		}
		pdf.Ln(3)
	}
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
