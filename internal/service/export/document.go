package export

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Document is an already aggregated report laid out for rendering. Formatters never
// compute KPIs, they only place what the document carries.
type Document struct {
	Title   string
	Metrics []Metric
	Tables  []Table
	// Series feeds the chart renderer; Chart holds the rendered PNG
	Series []ChartPoint
	Chart  []byte
}

// Metric is one headline figure
type Metric struct {
	Label string
	Value string
}

// Table is a titled grid. Cells are string, int, int64, float64, bool or time.Time.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// ChartPoint is one bar of a chart
type ChartPoint struct {
	Label string
	Value float64
}

const notAvailable = "n/a"

// Round rounds v half away from zero to places decimals for display
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// FormatFixed renders v with exactly places decimals
func FormatFixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// FromSummary lays out a single-sheet summary: headline metrics, the status
// histogram, and one table per distribution.
func FromSummary(title string, s *kpi.Summary) Document {
	doc := Document{
		Title: title,
		Metrics: []Metric{
			{Label: "Uploaded by", Value: s.Uploader},
			{Label: "Uploaded at", Value: s.UploadedAt.UTC().Format(time.DateTime)},
			{Label: "Total rows", Value: strconv.Itoa(s.TotalRows)},
			{Label: "Answered calls", Value: strconv.Itoa(s.AnsweredCount)},
			{Label: "Dropped calls", Value: strconv.Itoa(s.DroppedCount)},
			{Label: "Answer rate (%)", Value: FormatFixed(s.AnswerRate(), 2)},
			{Label: "Average handle time", Value: handleTime(s.AverageHandleTime, s.HandleTimeAvailable)},
		},
	}

	if len(s.StatusCounts) > 0 {
		statuses := lo.Keys(s.StatusCounts)
		sort.Strings(statuses)

		doc.Tables = append(doc.Tables, Table{
			Name:    "Status counts",
			Headers: []string{"Status", "Count"},
			Rows: lo.Map(statuses, func(st string, _ int) []any {
				return []any{st, s.StatusCounts[st]}
			}),
		})
		doc.Series = lo.Map(statuses, func(st string, _ int) ChartPoint {
			return ChartPoint{Label: st, Value: float64(s.StatusCounts[st])}
		})
	}

	doc.Tables = append(doc.Tables, distributionTables(s.Distributions)...)
	return doc
}

// FromWorkbookSummary lays out a multi-sheet summary
func FromWorkbookSummary(title string, w *kpi.WorkbookSummary) Document {
	p := w.Productivity
	doc := Document{
		Title: title,
		Metrics: []Metric{
			{Label: "Uploaded by", Value: w.Uploader},
			{Label: "Uploaded at", Value: w.UploadedAt.UTC().Format(time.DateTime)},
			{Label: "Disposition rows", Value: strconv.Itoa(w.Dispositions.TotalRows)},
			{Label: "Answered calls", Value: strconv.Itoa(w.Dispositions.AnsweredCount)},
			{Label: "Dropped calls", Value: strconv.Itoa(w.Dispositions.DroppedCount)},
			{Label: "Calls offered", Value: FormatFixed(p.CallsOffered, 0)},
			{Label: "Calls answered", Value: FormatFixed(p.CallsAnswered, 0)},
			{Label: "Answer rate (%)", Value: FormatFixed(p.AnswerRate, 2)},
			{Label: "Average wait time", Value: FormatFixed(p.AverageWaitTime, 2)},
			{Label: "Average handle time", Value: handleTime(p.AverageHandleTime, p.HandleTimeAvailable)},
			{Label: "Disconnection rows", Value: strconv.Itoa(w.Disconnections.TotalRows)},
		},
	}

	if len(p.Daily) > 0 {
		doc.Tables = append(doc.Tables, Table{
			Name:    "Daily productivity",
			Headers: []string{"Date", "Offered", "Answered", "Answer rate (%)", "Avg wait time", "Avg handle time"},
			Rows: lo.Map(p.Daily, func(d kpi.DailyProductivity, _ int) []any {
				return []any{
					d.Date,
					Round(d.CallsOffered, 2),
					Round(d.CallsAnswered, 2),
					Round(d.AnswerRate, 2),
					Round(d.AverageWaitTime, 2),
					Round(d.AverageHandleTime, 2),
				}
			}),
		})
		doc.Series = lo.Map(p.Daily, func(d kpi.DailyProductivity, _ int) ChartPoint {
			return ChartPoint{Label: d.Date.Format(time.DateOnly), Value: d.AnswerRate}
		})
	}

	doc.Tables = append(doc.Tables, distributionTables(w.Dispositions.Distributions)...)
	doc.Tables = append(doc.Tables, distributionTables(w.Disconnections.Distributions)...)
	return doc
}

// FromReports lays out a stored-report listing that has already been projected for the
// caller's role, with the handle-time trend as chart series.
func FromReports(title string, listing Table, trend kpi.TrendSeries) Document {
	available := lo.Filter(trend.Points, func(p kpi.TrendPoint, _ int) bool { return p.Available })

	doc := Document{
		Title: title,
		Metrics: []Metric{
			{Label: "Reports", Value: strconv.Itoa(len(listing.Rows))},
		},
		Tables: []Table{listing},
		Series: lo.Map(available, func(p kpi.TrendPoint, _ int) ChartPoint {
			return ChartPoint{Label: strconv.FormatInt(p.ReportID, 10), Value: p.AHT}
		}),
	}

	if len(available) > 0 {
		mean := lo.SumBy(available, func(p kpi.TrendPoint) float64 { return p.AHT }) / float64(len(available))
		doc.Metrics = append(doc.Metrics, Metric{Label: "Mean handle time", Value: FormatFixed(mean, 2)})
	} else {
		doc.Metrics = append(doc.Metrics, Metric{Label: "Mean handle time", Value: notAvailable})
	}
	return doc
}

// distributionTables renders each distribution as percentages, in name order
func distributionTables(dists map[string]kpi.Distribution) []Table {
	names := lo.Keys(dists)
	sort.Strings(names)

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		d := dists[name]
		cats := d.Categories()

		rows := make([][]any, 0, len(d))
		for _, g := range d.Groups() {
			row := make([]any, 0, len(cats)+1)
			row = append(row, g)
			for _, c := range cats {
				row = append(row, Round(d[g][c]*100, 2))
			}
			rows = append(rows, row)
		}

		tables = append(tables, Table{
			Name:    name,
			Headers: append([]string{"Group"}, lo.Map(cats, func(c string, _ int) string { return c + " (%)" })...),
			Rows:    rows,
		})
	}
	return tables
}

func handleTime(v float64, available bool) string {
	if !available {
		return notAvailable
	}
	return FormatFixed(v, 2)
}

// cellText renders a table cell for text output
func cellText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return FormatFixed(c, 2)
	case time.Time:
		if c.Hour() == 0 && c.Minute() == 0 && c.Second() == 0 {
			return c.Format(time.DateOnly)
		}
		return c.Format(time.DateTime)
	default:
		return fmt.Sprint(c)
	}
}
