package kpi

import "time"

// Distribution names attached to summaries
const (
	DistStatusByDate = "status_by_date"
	DistStatusByHour = "status_by_hour"
	DistCodeByDate   = "code_by_date"
	DistCodeByHour   = "code_by_hour"
	DistCodeTotals   = "code_totals"
	DistCauseByDate  = "cause_by_date"
	DistCauseByHour  = "cause_by_hour"
	DistCauseByAgent = "cause_by_agent"
	AllGroup         = "all"
	StatusAnswered   = "answered"
	StatusUnanswered = "unanswered"
	HandleTimeField  = "handle_time"
	DateField        = "date"
	TimeField        = "time"
	StatusField      = "status"
	DispositionField = "disposition code"
	AgentField       = "agent"
	CauseField       = "disconnection by"
	OfferedField     = "calls offered"
	AnsweredField    = "calls answered"
	WaitTimeField    = "avg wait time"
	AvgHandleField   = "avg handle time"
)

// Summary is the KPI record derived from one upload. It is immutable once stored.
type Summary struct {
	Uploader            string                  `json:"uploader"`
	UploadedAt          time.Time               `json:"uploaded_at"`
	TotalRows           int                     `json:"total_rows"`
	AnsweredCount       int                     `json:"answered"`
	DroppedCount        int                     `json:"dropped"`
	AverageHandleTime   float64                 `json:"aht"`
	HandleTimeAvailable bool                    `json:"aht_available"`
	HandleTimeColumn    string                  `json:"aht_column,omitempty"`
	StatusCounts        map[string]int          `json:"status_counts,omitempty"`
	Distributions       map[string]Distribution `json:"distributions,omitempty"`
}

// ClassifiedRows is the number of rows counted as answered or dropped
func (s *Summary) ClassifiedRows() int {
	return s.AnsweredCount + s.DroppedCount
}

// AnswerRate is answered/(answered+dropped) as a percentage, 0 when nothing was classified
func (s *Summary) AnswerRate() float64 {
	return Rate(float64(s.AnsweredCount), float64(s.ClassifiedRows()))
}

// Rate returns part/whole*100, or 0 when whole is 0
func Rate(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

// StoredReport is a persisted Summary with its sequential id
type StoredReport struct {
	ID int64 `json:"id"`
	Summary
}

// DailyProductivity is one day of the productivity series
type DailyProductivity struct {
	Date              time.Time `json:"date"`
	CallsOffered      float64   `json:"calls_offered"`
	CallsAnswered     float64   `json:"calls_answered"`
	AnswerRate        float64   `json:"answer_rate"`
	AverageWaitTime   float64   `json:"avg_wait_time"`
	AverageHandleTime float64   `json:"avg_handle_time"`
}

type DispositionSummary struct {
	TotalRows     int                     `json:"total_rows"`
	AnsweredCount int                     `json:"answered"`
	DroppedCount  int                     `json:"dropped"`
	StatusCounts  map[string]int          `json:"status_counts"`
	Distributions map[string]Distribution `json:"distributions"`
}

type ProductivitySummary struct {
	TotalRows           int                 `json:"total_rows"`
	CallsOffered        float64             `json:"calls_offered"`
	CallsAnswered       float64             `json:"calls_answered"`
	AnswerRate          float64             `json:"answer_rate"`
	AverageWaitTime     float64             `json:"avg_wait_time"`
	AverageHandleTime   float64             `json:"avg_handle_time"`
	HandleTimeAvailable bool                `json:"aht_available"`
	Daily               []DailyProductivity `json:"daily"`
}

type DisconnectionSummary struct {
	TotalRows     int                     `json:"total_rows"`
	Distributions map[string]Distribution `json:"distributions"`
}

// WorkbookSummary is the multi-sheet aggregation result
type WorkbookSummary struct {
	Uploader       string               `json:"uploader"`
	UploadedAt     time.Time            `json:"uploaded_at"`
	Dispositions   DispositionSummary   `json:"dispositions"`
	Productivity   ProductivitySummary  `json:"productivity"`
	Disconnections DisconnectionSummary `json:"disconnections"`
}

// Headline collapses a workbook summary into the Summary persisted for trend views.
// Counts come from the dispositions sheet and handle time from productivity.
func (w *WorkbookSummary) Headline() *Summary {
	dists := make(map[string]Distribution, len(w.Dispositions.Distributions)+len(w.Disconnections.Distributions))
	for k, v := range w.Dispositions.Distributions {
		dists[k] = v
	}
	for k, v := range w.Disconnections.Distributions {
		dists[k] = v
	}

	s := &Summary{
		Uploader:            w.Uploader,
		UploadedAt:          w.UploadedAt,
		TotalRows:           w.Dispositions.TotalRows,
		AnsweredCount:       w.Dispositions.AnsweredCount,
		DroppedCount:        w.Dispositions.DroppedCount,
		StatusCounts:        w.Dispositions.StatusCounts,
		HandleTimeAvailable: w.Productivity.HandleTimeAvailable,
		Distributions:       dists,
	}
	if s.HandleTimeAvailable {
		s.AverageHandleTime = w.Productivity.AverageHandleTime
		s.HandleTimeColumn = AvgHandleField
	}
	return s
}

// TrendPoint is one stored report in a trend series
type TrendPoint struct {
	ReportID   int64     `json:"report_id"`
	Uploader   string    `json:"uploader"`
	UploadedAt time.Time `json:"uploaded_at"`
	AHT        float64   `json:"aht"`
	Available  bool      `json:"aht_available"`
	AnswerRate float64   `json:"answer_rate"`
}

// TrendSeries lists stored reports in insertion order
type TrendSeries struct {
	Points []TrendPoint `json:"points"`
}
