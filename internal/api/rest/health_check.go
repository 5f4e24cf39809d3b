package rest

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker checks the health of a dependency
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a ping function into a HealthChecker
type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Label }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthStatus represents the health status
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  HealthStatus            `json:"status"`
	Version string                  `json:"version,omitempty"`
	Checks  map[string]HealthStatus `json:"checks,omitempty"`
	Uptime  string                  `json:"uptime"`
}

type healthHandler struct {
	checkers []HealthChecker
	timeout  time.Duration
	version  string
	started  time.Time
	resp     responder
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out := HealthResponse{
		Status:  HealthStatusPass,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if len(h.checkers) > 0 {
		out.Checks = make(map[string]HealthStatus, len(h.checkers))
	}

	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			h.resp.logger.WarnContext(ctx, "health check failed", "check", c.Name(), "error", err)
			out.Checks[c.Name()] = HealthStatusFail
			out.Status = HealthStatusFail
			continue
		}
		out.Checks[c.Name()] = HealthStatusPass
	}

	status := http.StatusOK
	if out.Status == HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	h.resp.writeJSON(w, r, status, out)
}
