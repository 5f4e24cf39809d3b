package analytics

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/ingest"
)

// Aggregator computes KPI summaries from validated datasets. It is pure apart from
// the clock, whose readings it never lets go backwards.
type Aggregator struct {
	clock Clock
	mu    sync.Mutex
	last  time.Time
}

// NewAggregator creates an aggregator stamping summaries with clock
func NewAggregator(clock Clock) *Aggregator {
	if clock == nil {
		clock = SystemClock
	}
	return &Aggregator{clock: clock}
}

// now returns a timestamp no earlier than any previously returned one
func (a *Aggregator) now() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.clock.Now()
	if t.Before(a.last) {
		t = a.last
	}
	a.last = t
	return t
}

// Summarize aggregates a single-sheet dataset
func (a *Aggregator) Summarize(uploader string, ds *ingest.Dataset) (*kpi.Summary, error) {
	if err := validateInput(uploader, ds != nil); err != nil {
		return nil, err
	}

	s := &kpi.Summary{
		Uploader:         uploader,
		UploadedAt:       a.now(),
		TotalRows:        len(ds.Rows),
		HandleTimeColumn: ds.Resolution.HandleTimeHeader,
	}

	s.AnsweredCount, s.DroppedCount, s.StatusCounts = countStatuses(ds.Rows)

	if ds.Resolution.HandleTimeAvailable {
		s.AverageHandleTime, s.HandleTimeAvailable = meanOf(ds.Rows, kpi.HandleTimeField)
	}

	s.Distributions = attach(map[string]kpi.Distribution{
		kpi.DistStatusByDate: Distribution(ds.Rows, DateKey, kpi.StatusField),
		kpi.DistStatusByHour: Distribution(ds.Rows, HourKey, kpi.StatusField),
	})

	return s, nil
}

// SummarizeWorkbook aggregates the three tabs of a multi-sheet upload
func (a *Aggregator) SummarizeWorkbook(uploader string, wb *ingest.WorkbookDataset) (*kpi.WorkbookSummary, error) {
	if err := validateInput(uploader, wb != nil && wb.Dispositions != nil && wb.Productivity != nil && wb.Disconnections != nil); err != nil {
		return nil, err
	}

	out := &kpi.WorkbookSummary{
		Uploader:   uploader,
		UploadedAt: a.now(),
	}

	disp := wb.Dispositions.Rows
	out.Dispositions.TotalRows = len(disp)
	out.Dispositions.AnsweredCount, out.Dispositions.DroppedCount, out.Dispositions.StatusCounts = countStatuses(disp)
	out.Dispositions.Distributions = attach(map[string]kpi.Distribution{
		kpi.DistCodeByDate: Distribution(disp, DateKey, kpi.DispositionField),
		kpi.DistCodeByHour: Distribution(disp, HourKey, kpi.DispositionField),
		kpi.DistCodeTotals: Distribution(disp, AllKey, kpi.DispositionField),
	})

	out.Productivity = summarizeProductivity(wb.Productivity.Rows)

	disc := wb.Disconnections.Rows
	out.Disconnections.TotalRows = len(disc)
	out.Disconnections.Distributions = attach(map[string]kpi.Distribution{
		kpi.DistCauseByDate:  Distribution(disc, DateKey, kpi.CauseField),
		kpi.DistCauseByHour:  Distribution(disc, HourKey, kpi.CauseField),
		kpi.DistCauseByAgent: Distribution(disc, FieldKey(kpi.AgentField), kpi.CauseField),
	})

	return out, nil
}

// Trend lists stored reports in insertion order. Reports without a handle time stay
// in the series flagged unavailable.
func (a *Aggregator) Trend(reports []kpi.StoredReport) kpi.TrendSeries {
	ordered := slices.Clone(reports)
	slices.SortStableFunc(ordered, func(x, y kpi.StoredReport) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		default:
			return 0
		}
	})

	return kpi.TrendSeries{
		Points: lo.Map(ordered, func(r kpi.StoredReport, _ int) kpi.TrendPoint {
			return kpi.TrendPoint{
				ReportID:   r.ID,
				Uploader:   r.Uploader,
				UploadedAt: r.UploadedAt,
				AHT:        r.AverageHandleTime,
				Available:  r.HandleTimeAvailable,
				AnswerRate: r.AnswerRate(),
			}
		}),
	}
}

// Distribution computes per-group relative frequencies of categoryField. Rows without a
// key or category are skipped, so groups that end up empty never appear.
func Distribution(rows []kpi.Row, key KeyFunc, categoryField string) kpi.Distribution {
	counts := make(map[string]map[string]int)
	for _, row := range rows {
		group, ok := key(row)
		if !ok {
			continue
		}
		category := row.Get(categoryField).Text()
		if category == "" {
			continue
		}
		if counts[group] == nil {
			counts[group] = make(map[string]int)
		}
		counts[group][category]++
	}

	dist := make(kpi.Distribution, len(counts))
	for group, cats := range counts {
		total := lo.Sum(lo.Values(cats))
		props := make(map[string]float64, len(cats))
		for cat, n := range cats {
			props[cat] = float64(n) / float64(total)
		}
		dist[group] = props
	}
	return dist
}

// DateKey groups rows by calendar date
func DateKey(row kpi.Row) (string, bool) {
	v := row.Get(kpi.DateField)
	if v.Kind != kpi.KindTime {
		return "", false
	}
	return v.Time.Format(time.DateOnly), true
}

// HourKey groups rows by hour of day, taken from the time column or else from a
// date that carries a clock component
func HourKey(row kpi.Row) (string, bool) {
	if h, ok := row.Get(kpi.TimeField).Hour(); ok {
		return fmt.Sprintf("%02d", h), true
	}

	d := row.Get(kpi.DateField)
	if d.Kind == kpi.KindTime && (d.Time.Hour() != 0 || d.Time.Minute() != 0 || d.Time.Second() != 0) {
		return fmt.Sprintf("%02d", d.Time.Hour()), true
	}
	return "", false
}

// AllKey puts every row in the single group kpi.AllGroup
func AllKey(kpi.Row) (string, bool) {
	return kpi.AllGroup, true
}

// FieldKey groups rows by the text of field
func FieldKey(field string) KeyFunc {
	return func(row kpi.Row) (string, bool) {
		text := row.Get(field).Text()
		return text, text != ""
	}
}

func validateInput(uploader string, present bool) error {
	if strings.TrimSpace(uploader) == "" {
		return errors.NewValidationError("INVALID_REQUEST", "uploader is required")
	}
	if !present {
		return errors.NewValidationError("INVALID_REQUEST", "dataset cannot be nil")
	}
	return nil
}

// countStatuses classifies answered/unanswered case-insensitively and builds the
// histogram of trimmed status labels
func countStatuses(rows []kpi.Row) (answered, dropped int, histogram map[string]int) {
	histogram = make(map[string]int)
	for _, row := range rows {
		status := row.Get(kpi.StatusField).Text()
		if status == "" {
			continue
		}
		histogram[status]++

		switch {
		case strings.EqualFold(status, kpi.StatusAnswered):
			answered++
		case strings.EqualFold(status, kpi.StatusUnanswered):
			dropped++
		}
	}
	return answered, dropped, histogram
}

// meanOf averages the numeric values of field; false when there are none
func meanOf(rows []kpi.Row, field string) (float64, bool) {
	values := numbers(rows, field)
	if len(values) == 0 {
		return 0, false
	}
	return lo.Sum(values) / float64(len(values)), true
}

func numbers(rows []kpi.Row, field string) []float64 {
	return lo.FilterMap(rows, func(row kpi.Row, _ int) (float64, bool) {
		return row.Get(field).Float()
	})
}

func summarizeProductivity(rows []kpi.Row) kpi.ProductivitySummary {
	p := kpi.ProductivitySummary{
		TotalRows:     len(rows),
		CallsOffered:  lo.Sum(numbers(rows, kpi.OfferedField)),
		CallsAnswered: lo.Sum(numbers(rows, kpi.AnsweredField)),
	}
	p.AnswerRate = kpi.Rate(p.CallsAnswered, p.CallsOffered)
	p.AverageWaitTime, _ = meanOf(rows, kpi.WaitTimeField)
	p.AverageHandleTime, p.HandleTimeAvailable = meanOf(rows, kpi.AvgHandleField)

	byDate := lo.GroupBy(
		lo.Filter(rows, func(row kpi.Row, _ int) bool {
			_, ok := DateKey(row)
			return ok
		}),
		func(row kpi.Row) string {
			key, _ := DateKey(row)
			return key
		},
	)

	days := lo.Keys(byDate)
	slices.Sort(days)

	p.Daily = make([]kpi.DailyProductivity, 0, len(days))
	for _, day := range days {
		dayRows := byDate[day]
		date, _ := time.Parse(time.DateOnly, day)
		d := kpi.DailyProductivity{
			Date:          date,
			CallsOffered:  lo.Sum(numbers(dayRows, kpi.OfferedField)),
			CallsAnswered: lo.Sum(numbers(dayRows, kpi.AnsweredField)),
		}
		d.AnswerRate = kpi.Rate(d.CallsAnswered, d.CallsOffered)
		d.AverageWaitTime, _ = meanOf(dayRows, kpi.WaitTimeField)
		d.AverageHandleTime, _ = meanOf(dayRows, kpi.AvgHandleField)
		p.Daily = append(p.Daily, d)
	}

	return p
}

// attach drops empty distributions so summaries only carry groupings that exist
func attach(dists map[string]kpi.Distribution) map[string]kpi.Distribution {
	return lo.PickBy(dists, func(_ string, d kpi.Distribution) bool {
		return len(d) > 0
	})
}
