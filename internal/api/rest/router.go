package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
	identitysvc "github.com/davidleathers/workforce-analytics-backend/internal/service/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/reporting"
)

// Config holds API configuration
type Config struct {
	Version        string
	Logger         *slog.Logger
	Metrics        *metrics.Registry
	Tokens         *TokenIssuer
	MaxUploadBytes int64
	// LoginRate and LoginBurst bound login attempts per client address
	LoginRate     float64
	LoginBurst    int
	HealthChecks  []HealthChecker
	HealthTimeout time.Duration
}

// DefaultConfig returns sensible defaults. Tokens must still be set.
func DefaultConfig() Config {
	return Config{
		Version:        "v1",
		Logger:         slog.Default(),
		MaxUploadBytes: 20 << 20,
		LoginRate:      5,
		LoginBurst:     10,
		HealthTimeout:  2 * time.Second,
	}
}

// NewRouter wires the v1 routes, ops endpoints and the middleware chain
func NewRouter(cfg Config, users identitysvc.Service, reports ReportingService) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}

	resp := responder{version: cfg.Version, logger: cfg.Logger}
	h := NewHandlers(users, reports, cfg.Tokens, resp, cfg.MaxUploadBytes)
	auth := NewAuthMiddleware(cfg.Tokens, users, resp)
	limiter := NewIPRateLimiter(cfg.LoginRate, cfg.LoginBurst, resp)

	authed := func(fn http.HandlerFunc, actions ...identity.Action) http.Handler {
		return auth.Require(actions...)(fn)
	}

	mux := http.NewServeMux()

	// Authentication
	mux.Handle("POST /api/v1/auth/login", limiter.Middleware()(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/logout", authed(h.Logout))
	mux.Handle("POST /api/v1/auth/reset-password", limiter.Middleware()(authed(h.ResetPassword)))

	// Account management
	mux.Handle("POST /api/v1/users", authed(h.CreateUser, identity.ActionManageUsers))
	mux.Handle("GET /api/v1/users", authed(h.ListUsers, identity.ActionManageUsers))
	mux.Handle("PUT /api/v1/users/{username}/status", authed(h.SetUserStatus, identity.ActionManageUsers))
	mux.Handle("DELETE /api/v1/users/{username}", authed(h.DeleteUser, identity.ActionManageUsers))
	mux.Handle("GET /api/v1/audit", authed(h.AuditTrail, identity.ActionViewAudit))

	// Reports and exports; the reporting service checks roles itself
	mux.Handle("POST /api/v1/reports", authed(h.UploadReport))
	mux.Handle("GET /api/v1/reports", authed(h.ListReports))
	mux.Handle("GET /api/v1/reports/trend", authed(h.Trend))
	mux.Handle("POST /api/v1/exports/workbook", authed(h.ExportUpload(reporting.FormatXLSX)))
	mux.Handle("POST /api/v1/exports/pdf", authed(h.ExportUpload(reporting.FormatPDF)))
	mux.Handle("GET /api/v1/exports/reports.xlsx", authed(h.ExportReports))

	// Ops
	mux.Handle("GET /health", &healthHandler{
		checkers: cfg.HealthChecks,
		timeout:  cfg.HealthTimeout,
		version:  cfg.Version,
		started:  time.Now(),
		resp:     resp,
	})
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	mux.HandleFunc("GET /openapi.yaml", serveOpenAPI)

	chain := NewMiddlewareChain(
		RecoveryMiddleware(resp),
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(),
		RequestLoggingMiddleware(cfg.Logger),
		MetricsMiddleware(cfg.Metrics),
	)
	return chain.Then(mux)
}
