package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/cache"
	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/analytics"
	identitysvc "github.com/davidleathers/workforce-analytics-backend/internal/service/identity"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/reporting"
	"github.com/davidleathers/workforce-analytics-backend/internal/testutil"
)

const (
	managerName = "root"
	managerPass = "root-password"
)

type apiFixture struct {
	handler http.Handler
	users   identitysvc.Service
	metrics *metrics.Registry
}

func newAPI(t *testing.T, mutate ...func(*Config)) *apiFixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	logger := zaptest.NewLogger(t)

	reportRepo := repository.NewReportRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db)
	users := identitysvc.NewService(
		repository.NewUserRepository(db, logger),
		reportRepo,
		auditRepo,
		cache.NewMemorySessionStore(),
		identitysvc.Config{BcryptCost: bcrypt.MinCost, TokenExpiry: time.Hour},
		logger,
	)
	reports := reporting.NewService(
		analytics.NewAggregator(nil),
		reportRepo,
		auditRepo,
		reporting.Config{Title: "Call Center KPI Report", MaxBytes: 1 << 20, MaxRows: 10000},
		logger,
	)

	created, err := users.BootstrapManager(context.Background(), managerName, managerPass)
	require.NoError(t, err)
	require.True(t, created)

	tokens, err := NewTokenIssuer([]byte("test-secret-test-secret-test-secret"), "")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Tokens = tokens
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Metrics = metrics.NewRegistry()
	cfg.MaxUploadBytes = 1 << 20
	for _, fn := range mutate {
		fn(&cfg)
	}

	return &apiFixture{
		handler: NewRouter(cfg, users, reports),
		users:   users,
		metrics: cfg.Metrics,
	}
}

func (f *apiFixture) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) doJSON(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, newJSONRequest(t, method, path, body), token)
}

func newJSONRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (f *apiFixture) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := f.doJSON(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.Token)
	return env.Data.Token
}

// adminToken creates an Admin through the API and logs in as them
func (f *apiFixture) adminToken(t *testing.T, managerToken, username string) string {
	t.Helper()
	rec := f.doJSON(t, http.MethodPost, "/api/v1/users", managerToken, CreateUserRequest{
		Username: username,
		Password: username + "-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return f.login(t, username, username+"-password")
}

func uploadRequest(t *testing.T, path string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.xlsx")
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sampleUpload(t *testing.T) []byte {
	return testutil.SingleSheet(t,
		[]any{"Date", "Status", "AHT"},
		[]any{"2024-01-01", "Answered", 100},
		[]any{"2024-01-01", "Unanswered", 200},
		[]any{"2024-01-02", "Answered", 300},
	)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorResponse  `json:"error"`
	Meta    ResponseMeta    `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
