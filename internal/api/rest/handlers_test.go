package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil"
)

func TestLoginLogout(t *testing.T) {
	api := newAPI(t)
	token := api.login(t, managerName, managerPass)

	rec := api.doJSON(t, http.MethodGet, "/api/v1/reports", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_Failures(t *testing.T) {
	api := newAPI(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"wrong password", LoginRequest{Username: managerName, Password: "nope"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown user", LoginRequest{Username: "ghost", Password: "nope"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing password", map[string]string{"username": managerName}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", map[string]string{"username": managerName, "password": "x", "otp": "1"}, http.StatusBadRequest, "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotEmpty(t, env.Meta.RequestID)
		})
	}

	t.Run("validation names the json field", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": managerName})
		env := decodeEnvelope(t, rec)
		fields, ok := env.Error.Details["fields"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, fields, "password")
	})
}

func TestLogin_RateLimited(t *testing.T) {
	api := newAPI(t, func(c *Config) {
		c.LoginRate = 0.001
		c.LoginBurst = 1
	})

	rec := api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: managerName, Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: managerName, Password: managerPass})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAuthentication(t *testing.T) {
	api := newAPI(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic cm9vdDpyb290"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := api.do(t, req, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("token signed with another secret", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("another-secret-another-secret-xx"), "")
		require.NoError(t, err)

		sess, err := api.users.Login(context.Background(), managerName, managerPass)
		require.NoError(t, err)
		forged, err := other.Issue(sess)
		require.NoError(t, err)

		rec := api.doJSON(t, http.MethodGet, "/api/v1/reports", forged, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminLifecycle(t *testing.T) {
	api := newAPI(t, func(c *Config) { c.LoginBurst = 100 })
	manager := api.login(t, managerName, managerPass)
	admin := api.adminToken(t, manager, "amy")

	t.Run("duplicate username", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodPost, "/api/v1/users", manager, CreateUserRequest{Username: "amy", Password: "x"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_EXISTS", decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("list admins", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/users?role=Admin", manager, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var records []identity.Record
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &records))
		require.Len(t, records, 1)
		assert.Equal(t, "amy", records[0].Username)
		assert.NotNil(t, records[0].LastLogin)
	})

	t.Run("invalid role filter", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/users?role=Agent", manager, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("admins cannot manage users", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/users", admin, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("suspended admin cannot log in", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodPut, "/api/v1/users/amy/status", manager, SetStatusRequest{Status: "Suspended"})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "amy", Password: "amy-password"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		// the token issued before the suspension no longer works
		rec = api.do(t, uploadRequest(t, "/api/v1/reports", sampleUpload(t)), admin)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = api.doJSON(t, http.MethodPut, "/api/v1/users/amy/status", manager, SetStatusRequest{Status: "Active"})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		admin = api.login(t, "amy", "amy-password")
	})

	t.Run("bad status value", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodPut, "/api/v1/users/amy/status", manager, SetStatusRequest{Status: "Paused"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reset password", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", "", ResetPasswordRequest{Username: "amy", NewPassword: "fresh"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", admin, ResetPasswordRequest{Username: managerName, NewPassword: "fresh"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", admin, ResetPasswordRequest{NewPassword: "fresh"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", admin, ResetPasswordRequest{CurrentPassword: "wrong", NewPassword: "fresh"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", admin, ResetPasswordRequest{CurrentPassword: "amy-password", NewPassword: "fresh"})
		require.Equal(t, http.StatusNoContent, rec.Code)

		// the change ends the session that made it
		rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		admin = api.login(t, "amy", "fresh")

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", manager, ResetPasswordRequest{Username: "amy", NewPassword: "amy-password"})
		require.Equal(t, http.StatusNoContent, rec.Code)
		rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		admin = api.login(t, "amy", "amy-password")

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/reset-password", manager, ResetPasswordRequest{Username: "ghost", NewPassword: "fresh"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("audit trail", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/audit?limit=50", manager, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Created Admin: amy")
		assert.Contains(t, rec.Body.String(), "Set status of amy to Suspended")

		rec = api.doJSON(t, http.MethodGet, "/api/v1/audit?limit=zero", manager, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = api.doJSON(t, http.MethodGet, "/api/v1/audit", admin, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("removed admin's token stops working", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodDelete, "/api/v1/users/amy", manager, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = api.do(t, uploadRequest(t, "/api/v1/reports", sampleUpload(t)), admin)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = api.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "amy", Password: "amy-password"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestReportsFlow(t *testing.T) {
	api := newAPI(t)
	manager := api.login(t, managerName, managerPass)
	admin := api.adminToken(t, manager, "amy")

	rec := api.do(t, uploadRequest(t, "/api/v1/reports", sampleUpload(t)), admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var upload struct {
		ReportID int64 `json:"report_id"`
		Mode     string
		Summary  struct {
			Answered int     `json:"answered"`
			Dropped  int     `json:"dropped"`
			AHT      float64 `json:"aht"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &upload))
	assert.Equal(t, int64(1), upload.ReportID)
	assert.Equal(t, "single", upload.Mode)
	assert.Equal(t, 2, upload.Summary.Answered)
	assert.Equal(t, 1, upload.Summary.Dropped)
	assert.InDelta(t, 200.0, upload.Summary.AHT, 1e-9)

	t.Run("raw body upload", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewReader(sampleUpload(t)))
		req.Header.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		rec := api.do(t, req, admin)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("manager projection", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/reports", manager, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []map[string]interface{}
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &rows))
		require.Len(t, rows, 2)
		assert.Len(t, rows[0], 6)
		assert.NotContains(t, rows[0], "answer_rate")
		assert.Equal(t, "amy", rows[0]["username"])
	})

	t.Run("admin projection", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []map[string]interface{}
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &rows))
		assert.Equal(t, 66.67, rows[0]["answer_rate"])
		assert.Contains(t, rows[0], "status_counts")
	})

	t.Run("trend", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodGet, "/api/v1/reports/trend", manager, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"report_id":2`)
	})

	t.Run("manager cannot upload", func(t *testing.T) {
		rec := api.do(t, uploadRequest(t, "/api/v1/reports", sampleUpload(t)), manager)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin with reports cannot be removed", func(t *testing.T) {
		rec := api.doJSON(t, http.MethodDelete, "/api/v1/users/amy", manager, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = api.doJSON(t, http.MethodGet, "/api/v1/users?role=Admin", manager, nil)
		assert.Contains(t, rec.Body.String(), `"username":"amy"`)
	})

	t.Run("admin without reports can be removed", func(t *testing.T) {
		api.adminToken(t, manager, "bob")
		rec := api.doJSON(t, http.MethodDelete, "/api/v1/users/bob", manager, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestUpload_Errors(t *testing.T) {
	api := newAPI(t)
	manager := api.login(t, managerName, managerPass)
	admin := api.adminToken(t, manager, "amy")

	t.Run("schema error", func(t *testing.T) {
		file := testutil.SingleSheet(t,
			[]any{"Date", "Agent"},
			[]any{"2024-01-01", "bo"},
		)
		rec := api.do(t, uploadRequest(t, "/api/v1/reports", file), admin)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		env := decodeEnvelope(t, rec)
		assert.Equal(t, "SCHEMA_MISSING_FIELDS", env.Error.Code)
		assert.Equal(t, []interface{}{"status"}, env.Error.Details["missing"])

		rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
		assert.NotContains(t, rec.Body.String(), `"id"`)
	})

	t.Run("missing file field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader("--x--\r\n"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		rec := api.do(t, req, admin)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_FILE", decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("not a workbook", func(t *testing.T) {
		rec := api.do(t, uploadRequest(t, "/api/v1/reports", []byte("date,status\n")), admin)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExports(t *testing.T) {
	api := newAPI(t)
	manager := api.login(t, managerName, managerPass)
	admin := api.adminToken(t, manager, "amy")

	rec := api.do(t, uploadRequest(t, "/api/v1/exports/pdf", sampleUpload(t)), admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "kpi-report.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = api.do(t, uploadRequest(t, "/api/v1/exports/workbook", sampleUpload(t)), admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = api.do(t, uploadRequest(t, "/api/v1/exports/pdf", sampleUpload(t)), manager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.doJSON(t, http.MethodGet, "/api/v1/exports/reports.xlsx", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")

	rec = api.doJSON(t, http.MethodGet, "/api/v1/reports", admin, nil)
	assert.NotContains(t, rec.Body.String(), `"id"`, "exports never store reports")
}

func TestOpsEndpoints(t *testing.T) {
	t.Run("health passes", func(t *testing.T) {
		api := newAPI(t, func(c *Config) {
			c.HealthChecks = []HealthChecker{CheckFunc{Label: "database", Fn: func(context.Context) error { return nil }}}
		})
		rec := api.doJSON(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, HealthStatusPass, body.Status)
		assert.Equal(t, HealthStatusPass, body.Checks["database"])
	})

	t.Run("health fails", func(t *testing.T) {
		api := newAPI(t, func(c *Config) {
			c.HealthChecks = []HealthChecker{CheckFunc{Label: "redis", Fn: func(context.Context) error { return stderrors.New("down") }}}
		})
		rec := api.doJSON(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics and openapi", func(t *testing.T) {
		api := newAPI(t)
		api.doJSON(t, http.MethodGet, "/api/v1/reports", "", nil)

		rec := api.doJSON(t, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `wfa_api_http_requests_total{handler="GET /api/v1/reports",method="GET",status="Unauthorized"} 1`)

		rec = api.doJSON(t, http.MethodGet, "/openapi.yaml", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
	})

	t.Run("request id and security headers", func(t *testing.T) {
		api := newAPI(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := api.do(t, req, "")

		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "req-123", decodeEnvelope(t, rec).Meta.RequestID)
	})
}
