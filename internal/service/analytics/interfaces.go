package analytics

import (
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Clock supplies the upload timestamp stamped on summaries
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads wall time in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// KeyFunc derives a grouping key from a row; false excludes the row
type KeyFunc func(row kpi.Row) (string, bool)
