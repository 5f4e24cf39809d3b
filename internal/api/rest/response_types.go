package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
)

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// responder writes envelopes stamped with the API version
type responder struct {
	version string
	logger  *slog.Logger
}

func (rs responder) meta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   rs.version,
	}
}

func (rs responder) writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	rs.writeJSON(w, r, status, ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    rs.meta(r),
	})
}

// writeError maps err onto its status code. Errors outside the taxonomy are logged
// and reported as a generic internal error.
func (rs responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		rs.logger.ErrorContext(r.Context(), "unhandled error",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()))
		appErr = errors.NewInternalError("An unexpected error occurred")
	}

	status := errors.GetStatusCode(appErr)
	if status >= http.StatusInternalServerError && ok {
		rs.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"code", appErr.Code,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()))
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}

	rs.writeJSON(w, r, status, ResponseEnvelope{
		Success: false,
		Error: &ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
		Meta: rs.meta(r),
	})
}

// writeJSON writes JSON response with proper headers
func (rs responder) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		rs.logger.WarnContext(r.Context(), "response encoding failed", "error", err)
	}
}

// writeAttachment sends a generated document as a download
func (rs responder) writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
