package kpi

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which field of a Value is populated
type Kind int

const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is one typed spreadsheet cell
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

func String(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{}
	}
	return Value{Kind: KindString, Str: s}
}

func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

func Timestamp(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty
}

// Text renders the value the way it would appear in a grouping key
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return strings.TrimSpace(v.Str)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindTime:
		if v.Time.Hour() == 0 && v.Time.Minute() == 0 && v.Time.Second() == 0 {
			return v.Time.Format(time.DateOnly)
		}
		return v.Time.Format(time.DateTime)
	default:
		return ""
	}
}

// excelEpoch is day zero of the 1900 date system; duration cells decode to times near it
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Float interprets the value as a number. Numeric strings and hh:mm:ss or mm:ss durations
// are accepted; durations are returned in seconds.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindTime:
		if v.Time.Year() <= 1900 {
			return v.Time.Sub(excelEpoch).Seconds(), true
		}
		return 0, false
	case KindString:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return durationSeconds(s)
	default:
		return 0, false
	}
}

func durationSeconds(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		if i > 0 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

var clockLayouts = []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM", "3:04:05PM", "3:04PM"}

// Hour returns the hour of day the value denotes. Times, fractional-day numbers and
// clock strings are understood.
func (v Value) Hour() (int, bool) {
	switch v.Kind {
	case KindTime:
		return v.Time.Hour(), true
	case KindNumber:
		if v.Num < 0 {
			return 0, false
		}
		whole, frac := math.Modf(v.Num)
		if frac == 0 && whole < 24 {
			return int(whole), true
		}
		secs := int(math.Round(frac * 86400))
		return (secs / 3600) % 24, true
	case KindString:
		s := strings.ToUpper(strings.TrimSpace(v.Str))
		for _, layout := range clockLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Hour(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// Row is one normalized spreadsheet row keyed by canonical field name
type Row map[string]Value

// Get returns the value for field, or an empty Value
func (r Row) Get(field string) Value {
	return r[field]
}
