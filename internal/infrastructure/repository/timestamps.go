package repository

import (
	"fmt"
	"strings"
	"time"
)

// nullTime scans timestamps from both drivers: pgx returns time.Time while sqlite may
// hand back the stored text
type nullTime struct {
	Time  time.Time
	Valid bool
}

var textLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.DateTime,
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (n *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	// time.Time.String() output carries a monotonic suffix and zone name
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range append(textLayouts, "2006-01-02 15:04:05.999999999 -0700 MST") {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
