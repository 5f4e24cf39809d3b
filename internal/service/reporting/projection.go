package reporting

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/export"
)

// Report column names as exposed by the API and exports
const (
	ColumnID           = "id"
	ColumnUsername     = "username"
	ColumnUploadDate   = "upload_date"
	ColumnTotalRows    = "total_rows"
	ColumnAnswered     = "answered"
	ColumnDropped      = "dropped"
	ColumnAnswerRate   = "answer_rate"
	ColumnAHT          = "aht"
	ColumnAHTAvailable = "aht_available"
	ColumnAHTColumn    = "aht_column"
	ColumnStatusCounts = "status_counts"
	ColumnDistribution = "distributions"
)

type column struct {
	name string
	// tabular columns also appear in spreadsheet exports
	tabular bool
	value   func(r kpi.StoredReport) any
}

var reportColumns = []column{
	{ColumnID, true, func(r kpi.StoredReport) any { return r.ID }},
	{ColumnUsername, true, func(r kpi.StoredReport) any { return r.Uploader }},
	{ColumnUploadDate, true, func(r kpi.StoredReport) any { return r.UploadedAt.UTC() }},
	{ColumnTotalRows, true, func(r kpi.StoredReport) any { return r.TotalRows }},
	{ColumnAnswered, true, func(r kpi.StoredReport) any { return r.AnsweredCount }},
	{ColumnDropped, true, func(r kpi.StoredReport) any { return r.DroppedCount }},
	{ColumnAnswerRate, true, func(r kpi.StoredReport) any { return export.Round(r.AnswerRate(), 2) }},
	{ColumnAHT, true, aht},
	{ColumnAHTAvailable, true, func(r kpi.StoredReport) any { return r.HandleTimeAvailable }},
	{ColumnAHTColumn, true, func(r kpi.StoredReport) any { return r.HandleTimeColumn }},
	{ColumnStatusCounts, false, func(r kpi.StoredReport) any { return r.StatusCounts }},
	{ColumnDistribution, false, func(r kpi.StoredReport) any { return r.Distributions }},
}

// managerColumns is what a Manager may see of a stored report
var managerColumns = map[string]bool{
	ColumnID:         true,
	ColumnUsername:   true,
	ColumnUploadDate: true,
	ColumnAnswered:   true,
	ColumnDropped:    true,
	ColumnAHT:        true,
}

// aht is the rounded handle time, or nil when the upload had none
func aht(r kpi.StoredReport) any {
	if !r.HandleTimeAvailable {
		return nil
	}
	return export.Round(r.AverageHandleTime, 2)
}

func columnsFor(role identity.Role) ([]column, error) {
	switch role {
	case identity.RoleAdmin:
		return reportColumns, nil
	case identity.RoleManager:
		return lo.Filter(reportColumns, func(c column, _ int) bool { return managerColumns[c.name] }), nil
	default:
		return nil, errors.NewForbiddenError(fmt.Sprintf("role %q may not view reports", role))
	}
}

// Project returns one record per stored report holding only the columns role may see.
// Admins see every column; Managers see id, username, upload_date, answered, dropped and aht.
func Project(role identity.Role, reports []kpi.StoredReport) ([]map[string]any, error) {
	cols, err := columnsFor(role)
	if err != nil {
		return nil, err
	}

	return lo.Map(reports, func(r kpi.StoredReport, _ int) map[string]any {
		rec := make(map[string]any, len(cols))
		for _, c := range cols {
			rec[c.name] = c.value(r)
		}
		return rec
	}), nil
}

// ProjectTable is Project laid out as an export table
func ProjectTable(role identity.Role, reports []kpi.StoredReport) (export.Table, error) {
	cols, err := columnsFor(role)
	if err != nil {
		return export.Table{}, err
	}
	cols = lo.Filter(cols, func(c column, _ int) bool { return c.tabular })

	t := export.Table{
		Name:    "Reports",
		Headers: lo.Map(cols, func(c column, _ int) string { return c.name }),
		Rows:    make([][]any, 0, len(reports)),
	}
	for _, r := range reports {
		row := make([]any, len(cols))
		for i, c := range cols {
			v := c.value(r)
			if v == nil {
				v = "n/a"
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
