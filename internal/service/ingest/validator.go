package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Shape names the fields a sheet must provide
type Shape struct {
	Name     string
	Required []string
}

var (
	SingleSheetShape = Shape{
		Name:     "report",
		Required: []string{kpi.DateField, kpi.StatusField},
	}
	DispositionsShape = Shape{
		Name:     SheetDispositions,
		Required: []string{kpi.DateField, kpi.StatusField, kpi.DispositionField},
	}
	ProductivityShape = Shape{
		Name:     SheetProductivity,
		Required: []string{kpi.DateField, kpi.OfferedField, kpi.AnsweredField, kpi.WaitTimeField, kpi.AvgHandleField},
	}
	DisconnectionsShape = Shape{
		Name:     SheetDisconnections,
		Required: []string{kpi.DateField, kpi.AgentField, kpi.CauseField},
	}
)

// ParseError records one row dropped because a field could not be interpreted
type ParseError struct {
	Sheet string `json:"sheet,omitempty"`
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: cannot parse %s %q", e.Row, e.Field, e.Value)
}

// AppError converts the record into the shared error taxonomy
func (e ParseError) AppError() *errors.AppError {
	return errors.NewParseError(e.Row, e.Field, e.Error())
}

// Dataset is a validated sheet. Rows carry a parsed kpi.DateField.
type Dataset struct {
	Sheet      string
	Rows       []kpi.Row
	Dropped    []ParseError
	Resolution Resolution
}

// WorkbookDataset holds the three validated tabs of a multi-sheet upload
type WorkbookDataset struct {
	Dispositions   *Dataset
	Productivity   *Dataset
	Disconnections *Dataset
}

// Missing returns the required fields of shape that n lacks, in shape order
func Missing(n *Normalized, shape Shape) []string {
	var missing []string
	for _, field := range shape.Required {
		if !n.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Validate checks the required fields of shape and builds the row set. Rows whose date
// cannot be parsed are dropped and listed in Dataset.Dropped.
func Validate(n *Normalized, shape Shape) (*Dataset, error) {
	if missing := Missing(n, shape); len(missing) > 0 {
		return nil, errors.NewSchemaError(missing)
	}
	return buildDataset(n), nil
}

// ValidateWorkbook validates all three tabs and reports every missing sheet and
// field in a single schema error.
func ValidateWorkbook(wb *Workbook) (*WorkbookDataset, error) {
	shapes := []Shape{DispositionsShape, ProductivityShape, DisconnectionsShape}
	normalized := make([]*Normalized, len(shapes))

	var missing []string
	for i, shape := range shapes {
		sheet, ok := wb.Sheet(shape.Name)
		if !ok {
			missing = append(missing, fmt.Sprintf("sheet %q", shape.Name))
			continue
		}
		normalized[i] = Normalize(sheet)
		for _, field := range Missing(normalized[i], shape) {
			missing = append(missing, shape.Name+"."+field)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaError(missing)
	}

	return &WorkbookDataset{
		Dispositions:   buildDataset(normalized[0]),
		Productivity:   buildDataset(normalized[1]),
		Disconnections: buildDataset(normalized[2]),
	}, nil
}

func buildDataset(n *Normalized) *Dataset {
	ds := &Dataset{
		Sheet:      n.Sheet,
		Resolution: n.Resolution,
	}

	dates := n.Columns[kpi.DateField]
	for i := range n.RowNumbers {
		var raw kpi.Value
		if i < len(dates) {
			raw = dates[i]
		}

		date, ok := ParseDate(raw)
		if !ok {
			ds.Dropped = append(ds.Dropped, ParseError{
				Sheet: n.Sheet,
				Row:   n.RowNumbers[i],
				Field: kpi.DateField,
				Value: raw.Text(),
			})
			continue
		}

		row := make(kpi.Row, len(n.Columns))
		for field, values := range n.Columns {
			if i < len(values) && !values[i].IsEmpty() {
				row[field] = values[i]
			}
		}
		row[kpi.DateField] = kpi.Timestamp(date)
		ds.Rows = append(ds.Rows, row)
	}

	return ds
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
}

// ParseDate interprets a date cell. Excel date cells, Excel serial numbers and the
// layouts in dateLayouts are accepted.
func ParseDate(v kpi.Value) (time.Time, bool) {
	switch v.Kind {
	case kpi.KindTime:
		if v.Time.Year() <= 1900 {
			return time.Time{}, false
		}
		return v.Time, true
	case kpi.KindNumber:
		return serialDate(v.Num)
	case kpi.KindString:
		s := strings.TrimSpace(v.Str)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return serialDate(n)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// serialDate accepts Excel serials from 1900-03-01 through 9999-12-31
func serialDate(n float64) (time.Time, bool) {
	if n < 61 || n > 2958465 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(n, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
