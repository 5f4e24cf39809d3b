package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/audit"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
	identitysvc "github.com/davidleathers/workforce-analytics-backend/internal/service/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/reporting"
)

// multipartOverhead is allowed on top of the upload limit for form boundaries and headers
const multipartOverhead = 64 << 10

// ReportingService is the reporting facade used by the handlers
type ReportingService interface {
	Upload(ctx context.Context, sess *identity.Session, r io.Reader) (*reporting.UploadResult, error)
	Reports(ctx context.Context, sess *identity.Session) ([]map[string]any, error)
	Trend(ctx context.Context, sess *identity.Session) (kpi.TrendSeries, error)
	ExportUpload(ctx context.Context, sess *identity.Session, r io.Reader, format reporting.Format) ([]byte, error)
	ExportReports(ctx context.Context, sess *identity.Session) ([]byte, error)
}

// Handlers serves the v1 API
type Handlers struct {
	users     identitysvc.Service
	reports   ReportingService
	tokens    *TokenIssuer
	validate  *validator.Validate
	resp      responder
	maxUpload int64
}

func NewHandlers(users identitysvc.Service, reports ReportingService, tokens *TokenIssuer, resp responder, maxUpload int64) *Handlers {
	return &Handlers{
		users:     users,
		reports:   reports,
		tokens:    tokens,
		validate:  newValidator(),
		resp:      resp,
		maxUpload: maxUpload,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	sess, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	token, err := h.tokens.Issue(sess)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	h.resp.writeSuccess(w, r, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
		Username:  sess.Username,
		Role:      sess.Role.String(),
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Logout(r.Context(), SessionFrom(r.Context())); err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	// users change their own password with the current one; Managers may reset anyone's
	sess := SessionFrom(r.Context())
	target := strings.TrimSpace(req.Username)
	var err error
	switch {
	case target == "" || target == sess.Username:
		err = h.users.ChangePassword(r.Context(), sess.Username, req.CurrentPassword, req.NewPassword)
	case sess.Can(identity.ActionManageUsers):
		err = h.users.ResetPassword(r.Context(), target, req.NewPassword)
	default:
		err = errors.NewForbiddenError("your role does not permit resetting another user's password")
	}
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser handles POST /api/v1/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	role := identity.RoleAdmin
	if req.Role != "" {
		role = identity.Role(req.Role)
	}

	sess := SessionFrom(r.Context())
	if err := h.users.CreateUser(r.Context(), req.Username, req.Password, role, sess.Username); err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	h.resp.writeSuccess(w, r, http.StatusCreated, map[string]string{
		"username": req.Username,
		"role":     role.String(),
		"status":   identity.StatusActive.String(),
	})
}

// ListUsers handles GET /api/v1/users?role=
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := identity.RoleAdmin
	if q := r.URL.Query().Get("role"); q != "" {
		parsed, err := identity.ParseRole(q)
		if err != nil {
			h.resp.writeError(w, r, errors.NewValidationError("INVALID_ROLE", err.Error()))
			return
		}
		role = parsed
	}

	users, err := h.users.ListByRole(r.Context(), role)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	h.resp.writeSuccess(w, r, http.StatusOK, users)
}

// SetUserStatus handles PUT /api/v1/users/{username}/status
func (h *Handlers) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		h.resp.writeError(w, r, err)
		return
	}

	username := r.PathValue("username")
	sess := SessionFrom(r.Context())
	if err := h.users.SetStatus(r.Context(), username, identity.Status(req.Status), sess.Username); err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser handles DELETE /api/v1/users/{username}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	sess := SessionFrom(r.Context())
	if err := h.users.Delete(r.Context(), r.PathValue("username"), sess.Username); err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadReport handles POST /api/v1/reports
func (h *Handlers) UploadReport(w http.ResponseWriter, r *http.Request) {
	body, cleanup, err := h.upload(w, r)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	defer cleanup()

	res, err := h.reports.Upload(r.Context(), SessionFrom(r.Context()), body)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	h.resp.writeSuccess(w, r, http.StatusCreated, res)
}

// ListReports handles GET /api/v1/reports
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.Reports(r.Context(), SessionFrom(r.Context()))
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	h.resp.writeSuccess(w, r, http.StatusOK, reports)
}

// Trend handles GET /api/v1/reports/trend
func (h *Handlers) Trend(w http.ResponseWriter, r *http.Request) {
	series, err := h.reports.Trend(r.Context(), SessionFrom(r.Context()))
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	h.resp.writeSuccess(w, r, http.StatusOK, series)
}

// ExportUpload returns a handler for POST /api/v1/exports/{workbook,pdf}
func (h *Handlers) ExportUpload(format reporting.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, cleanup, err := h.upload(w, r)
		if err != nil {
			h.resp.writeError(w, r, err)
			return
		}
		defer cleanup()

		data, err := h.reports.ExportUpload(r.Context(), SessionFrom(r.Context()), body, format)
		if err != nil {
			h.resp.writeError(w, r, err)
			return
		}
		h.resp.writeAttachment(w, "kpi-report."+string(format), format.ContentType(), data)
	}
}

// ExportReports handles GET /api/v1/exports/reports.xlsx
func (h *Handlers) ExportReports(w http.ResponseWriter, r *http.Request) {
	data, err := h.reports.ExportReports(r.Context(), SessionFrom(r.Context()))
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	h.resp.writeAttachment(w, "reports.xlsx", reporting.FormatXLSX.ContentType(), data)
}

// AuditTrail handles GET /api/v1/audit?limit=
func (h *Handlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			h.resp.writeError(w, r, errors.NewValidationError("INVALID_LIMIT", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.users.AuditTrail(r.Context(), limit)
	if err != nil {
		h.resp.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	h.resp.writeSuccess(w, r, http.StatusOK, entries)
}

// upload returns the uploaded spreadsheet: the "file" field of a multipart form,
// or the raw body for any other content type.
func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	noop := func() {}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.Body, noop, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			return nil, noop, errors.NewValidationError("UPLOAD_TOO_LARGE",
				fmt.Sprintf("upload exceeds the limit of %d bytes", h.maxUpload))
		}
		return nil, noop, errors.NewValidationError("MISSING_FILE", `multipart field "file" is required`)
	}

	return file, func() {
		file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}, nil
}
