package export

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet      = "Summary"
	maxSheetNameRunes = 31
)

// documentTimestamp is written as the created and modified time of every export
var documentTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Workbook renders doc as .xlsx: a Summary sheet with the metrics followed by one sheet
// per table. doc.Chart is left to the PDF; excelize writes image content types in map
// order, which would make the output differ between runs.
func Workbook(doc Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("naming summary sheet: %w", err)
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:          doc.Title,
		Creator:        "workforce-analytics",
		LastModifiedBy: "workforce-analytics",
		Created:        documentTimestamp.Format(time.RFC3339),
		Modified:       documentTimestamp.Format(time.RFC3339),
		Language:       "en-US",
	}); err != nil {
		return nil, fmt.Errorf("setting document properties: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return nil, fmt.Errorf("creating date style: %w", err)
	}

	if err := writeSummary(f, doc, bold); err != nil {
		return nil, err
	}

	names := newSheetNames(summarySheet)
	for _, t := range doc.Tables {
		name := names.claim(t.Name)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("creating sheet %q: %w", name, err)
		}
		if err := writeTable(f, name, t, bold, dateStyle); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, doc Document, bold int) error {
	if err := f.SetCellValue(summarySheet, "A1", doc.Title); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", bold); err != nil {
		return err
	}

	for i, m := range doc.Metrics {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		row := []any{m.Label, m.Value}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("writing metric %q: %w", m.Label, err)
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 24); err != nil {
		return err
	}

	return nil
}

func writeTable(f *excelize.File, sheet string, t Table, bold, dateStyle int) error {
	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header of %q: %w", sheet, err)
	}
	if len(header) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return err
		}
	}

	for r, row := range t.Rows {
		values := append([]any(nil), row...)
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing row %d of %q: %w", r+1, sheet, err)
		}
		for c, v := range row {
			if _, ok := v.(time.Time); !ok {
				continue
			}
			ref, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellStyle(sheet, ref, ref, dateStyle); err != nil {
				return err
			}
		}
	}
	return nil
}

// sheetNames hands out unique, Excel-legal sheet names
type sheetNames struct {
	taken map[string]bool
}

func newSheetNames(reserved ...string) *sheetNames {
	n := &sheetNames{taken: make(map[string]bool)}
	for _, r := range reserved {
		n.taken[strings.ToLower(r)] = true
	}
	return n
}

func (n *sheetNames) claim(raw string) string {
	base := SanitizeSheetName(raw)
	name := base
	for i := 2; n.taken[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		name = truncateRunes(base, maxSheetNameRunes-utf8.RuneCountInString(suffix)) + suffix
	}
	n.taken[strings.ToLower(name)] = true
	return name
}

// SanitizeSheetName drops the characters Excel forbids in sheet names and truncates
// to 31 characters. An empty result becomes "Sheet".
func SanitizeSheetName(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return -1
		}
		return r
	}, raw)
	cleaned = strings.Trim(strings.TrimSpace(cleaned), "'")
	cleaned = strings.TrimSpace(truncateRunes(cleaned, maxSheetNameRunes))
	if cleaned == "" {
		return "Sheet"
	}
	return cleaned
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
