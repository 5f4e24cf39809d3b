package ingest

import (
	"strings"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

// Columns holds each canonical field's values in row order
type Columns map[string][]kpi.Value

// Resolution records how raw headers were mapped onto canonical fields
type Resolution struct {
	// Fields maps each accepted raw header to its canonical name
	Fields map[string]string `json:"fields"`
	// Ignored lists raw headers that normalized to an already-claimed name
	Ignored             []string `json:"ignored,omitempty"`
	HandleTimeAvailable bool     `json:"handle_time_available"`
	HandleTimeHeader    string   `json:"handle_time_header,omitempty"`
}

// Normalized is a sheet after header canonicalization
type Normalized struct {
	Sheet      string
	Columns    Columns
	Resolution Resolution
	RowNumbers []int
}

// Has reports whether a canonical field was resolved
func (n *Normalized) Has(field string) bool {
	_, ok := n.Columns[field]
	return ok
}

// CanonicalHeader trims and lowercases a raw header
func CanonicalHeader(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsHandleTimeHeader reports whether a canonical header names a handle-time column
func IsHandleTimeHeader(canonical string) bool {
	return strings.Contains(canonical, "aht") || strings.Contains(canonical, "handle")
}

// Normalize canonicalizes headers. The first header containing "aht" or "handle" is also
// exposed as kpi.HandleTimeField. It never fails: unresolvable columns are simply absent.
func Normalize(sheet *Sheet) *Normalized {
	n := &Normalized{
		Sheet:   sheet.Name,
		Columns: make(Columns, len(sheet.Headers)+1),
		Resolution: Resolution{
			Fields: make(map[string]string, len(sheet.Headers)),
		},
		RowNumbers: sheet.RowNumbers,
	}

	for i, raw := range sheet.Headers {
		name := CanonicalHeader(raw)
		if name == "" {
			continue
		}

		if _, taken := n.Columns[name]; taken {
			n.Resolution.Ignored = append(n.Resolution.Ignored, raw)
			continue
		}

		var values []kpi.Value
		if i < len(sheet.Columns) {
			values = sheet.Columns[i]
		}
		n.Columns[name] = values
		n.Resolution.Fields[raw] = name

		if !n.Resolution.HandleTimeAvailable && IsHandleTimeHeader(name) {
			n.Resolution.HandleTimeAvailable = true
			n.Resolution.HandleTimeHeader = raw
			if name != kpi.HandleTimeField {
				n.Columns[kpi.HandleTimeField] = values
			}
		}
	}

	return n
}
