package rest

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/workforce-analytics-backend/internal/metrics"
)

// Middleware represents a function that wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// MiddlewareChain applies middlewares outermost first
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middlewares: middlewares}
}

// Then wraps the handler with all middleware in the chain
func (c *MiddlewareChain) Then(h http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// statusRecorder captures the status code written by the handler
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// RecoveryMiddleware handles panics gracefully
func RecoveryMiddleware(resp responder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					resp.logger.ErrorContext(r.Context(), "panic recovered",
						"error", rec,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path)
					resp.writeError(w, r, errors.NewInternalError("An unexpected error occurred"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware ensures every request has a unique ID
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), requestID)))
		})
	}
}

// SecurityHeadersMiddleware sets the response hardening headers
func SecurityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}

// RequestLoggingMiddleware logs one line per request
func RequestLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.InfoContext(r.Context(), "http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestID(r.Context()),
				"remote_addr", r.RemoteAddr)
		})
	}
}

// MetricsMiddleware records request counts and latency by route pattern
func MetricsMiddleware(reg *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			// ServeMux records the matched pattern on the request it was handed
			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}
			reg.ObserveHTTP(r.Method, pattern, rec.status, time.Since(start))
		})
	}
}

// minLimiterIdle is the shortest time a client's bucket is kept after its last request
const minLimiterIdle = 10 * time.Minute

// IPRateLimiter keeps one token bucket per client address. Buckets idle long enough
// to have refilled are dropped on a later request.
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
	resp      responder
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(perSecond float64, burst int, resp responder) *IPRateLimiter {
	idle := minLimiterIdle
	if perSecond > 0 {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &IPRateLimiter{
		limiters:  make(map[string]*clientLimiter),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
		resp:      resp,
	}
}

func (l *IPRateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	c, ok := l.limiters[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep drops buckets not used within the idle window. Callers hold mu.
func (l *IPRateLimiter) sweep(now time.Time) {
	for key, c := range l.limiters {
		if now.Sub(c.lastSeen) >= l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests over the limit with 429
func (l *IPRateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.limiter(clientIP(r)).Allow() {
				l.resp.writeError(w, r, errors.NewRateLimitError("Too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
