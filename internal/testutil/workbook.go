package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// SheetSpec describes one worksheet of a generated upload. Rows[0] is the header row.
type SheetSpec struct {
	Name string
	Rows [][]any
}

// Workbook builds an .xlsx upload from sheet specs in tab order.
// time.Time cells are written as Excel date cells.
func Workbook(t testing.TB, sheets ...SheetSpec) []byte {
	t.Helper()
	require.NotEmpty(t, sheets, "workbook needs at least one sheet")

	f := excelize.NewFile()
	defer f.Close()

	for i, spec := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", spec.Name))
		} else {
			_, err := f.NewSheet(spec.Name)
			require.NoError(t, err)
		}

		for r, row := range spec.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			values := append([]any(nil), row...)
			require.NoError(t, f.SetSheetRow(spec.Name, cell, &values))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// SingleSheet is a shorthand for a one-sheet upload named "Report"
func SingleSheet(t testing.TB, rows ...[]any) []byte {
	t.Helper()
	return Workbook(t, SheetSpec{Name: "Report", Rows: rows})
}
