package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Sheet names that switch an upload into multi-sheet mode
const (
	SheetDispositions   = "Dispositions"
	SheetProductivity   = "Inbound Productivity"
	SheetDisconnections = "Disconnections"
)

// MultiSheetNames lists the multi-sheet tabs in report order
var MultiSheetNames = []string{SheetDispositions, SheetProductivity, SheetDisconnections}

// Sheet is one worksheet: the header row and a column of typed values per header
type Sheet struct {
	Name    string
	Headers []string
	Columns [][]kpi.Value
	// RowNumbers holds the 1-based spreadsheet row of each data row
	RowNumbers []int
}

// Len returns the number of data rows
func (s *Sheet) Len() int {
	return len(s.RowNumbers)
}

// Workbook is an uploaded spreadsheet with its sheets in tab order
type Workbook struct {
	Sheets []*Sheet
}

// Limits bounds what ReadWorkbook accepts
type Limits struct {
	MaxRows int
}

// Sheet finds a sheet by trimmed, case-insensitive name
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	want := normalizeName(name)
	for _, s := range w.Sheets {
		if normalizeName(s.Name) == want {
			return s, true
		}
	}
	return nil, false
}

// MultiSheet reports whether any of the multi-sheet tabs is present
func (w *Workbook) MultiSheet() bool {
	for _, name := range MultiSheetNames {
		if _, ok := w.Sheet(name); ok {
			return true
		}
	}
	return false
}

// First returns the first sheet of the workbook
func (w *Workbook) First() *Sheet {
	if len(w.Sheets) == 0 {
		return nil
	}
	return w.Sheets[0]
}

// ReadWorkbook decodes an .xlsx upload. Only sheets that have a header row are returned.
func ReadWorkbook(r io.Reader, limits Limits) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_WORKBOOK", "upload is not a readable .xlsx workbook").WithCause(err)
	}
	defer f.Close()

	wb := &Workbook{}
	dates := newDateStyles(f)
	total := 0

	for _, name := range f.GetSheetList() {
		sheet, err := readSheet(f, name, dates)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_WORKBOOK", fmt.Sprintf("sheet %q could not be read", name)).WithCause(err)
		}
		if sheet == nil {
			continue
		}

		total += sheet.Len()
		if limits.MaxRows > 0 && total > limits.MaxRows {
			return nil, errors.NewValidationError("UPLOAD_TOO_LARGE",
				fmt.Sprintf("upload exceeds the limit of %d rows", limits.MaxRows))
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}

	if len(wb.Sheets) == 0 {
		return nil, errors.NewValidationError("EMPTY_WORKBOOK", "workbook has no sheet with a header row")
	}

	return wb, nil
}

// ReadWorkbookBytes is ReadWorkbook over an in-memory upload
func ReadWorkbookBytes(data []byte, limits Limits) (*Workbook, error) {
	return ReadWorkbook(bytes.NewReader(data), limits)
}

func readSheet(f *excelize.File, name string, dates *dateStyles) (*Sheet, error) {
	rows, err := f.Rows(name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheet *Sheet
	rowNum := 0
	for rows.Next() {
		rowNum++
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}

		if sheet == nil {
			if blank(cells) {
				continue
			}
			sheet = &Sheet{Name: name, Headers: cells}
			sheet.Columns = make([][]kpi.Value, len(cells))
			continue
		}

		if blank(cells) {
			continue
		}

		sheet.RowNumbers = append(sheet.RowNumbers, rowNum)
		for col := range sheet.Headers {
			var raw string
			if col < len(cells) {
				raw = cells[col]
			}
			sheet.Columns[col] = append(sheet.Columns[col], typedValue(f, name, col, rowNum, raw, dates))
		}
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}

	return sheet, nil
}

func typedValue(f *excelize.File, sheet string, col, row int, raw string, dates *dateStyles) kpi.Value {
	if strings.TrimSpace(raw) == "" {
		return kpi.Value{}
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return kpi.String(raw)
	}

	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return kpi.Number(n)
	}
	if typ, err := f.GetCellType(sheet, cell); err == nil && (typ == excelize.CellTypeSharedString || typ == excelize.CellTypeInlineString) {
		return kpi.String(raw)
	}
	if dates.isDate(sheet, cell) {
		if t, err := excelize.ExcelDateToTime(n, false); err == nil {
			return kpi.Timestamp(t)
		}
	}
	return kpi.Number(n)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dateStyles remembers which cell style ids carry a date or time number format
type dateStyles struct {
	f     *excelize.File
	cache map[int]bool
}

func newDateStyles(f *excelize.File) *dateStyles {
	return &dateStyles{f: f, cache: make(map[int]bool)}
}

func (d *dateStyles) isDate(sheet, cell string) bool {
	idx, err := d.f.GetCellStyle(sheet, cell)
	if err != nil || idx == 0 {
		return false
	}
	if v, ok := d.cache[idx]; ok {
		return v
	}

	style, err := d.f.GetStyle(idx)
	isDate := err == nil && style != nil && dateFormat(style.NumFmt, style.CustomNumFmt)
	d.cache[idx] = isDate
	return isDate
}

// dateFormat recognizes the built-in date/time number formats and custom
// format codes containing date or clock tokens.
func dateFormat(id int, custom *string) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	if custom == nil {
		return false
	}

	code := strings.ToLower(stripLiterals(*custom))
	if code == "general" || code == "" {
		return false
	}
	return strings.ContainsAny(code, "ydhs")
}

// stripLiterals removes quoted text, bracketed sections and escaped characters
func stripLiterals(code string) string {
	var b strings.Builder
	inQuote, inBracket, escaped := false, false, false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case inQuote:
			inQuote = r != '"'
		case inBracket:
			inBracket = r != ']'
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = true
		case r == '[':
			inBracket = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
