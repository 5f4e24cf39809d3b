package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogger creates the process-wide structured logger with trace correlation
func SetupLogger(level string) (*slog.Logger, error) {
	return NewLogger(os.Stdout, level), nil
}

// NewLogger builds a JSON slog logger writing to w
func NewLogger(w io.Writer, level string) *slog.Logger {
	logLevel := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	return slog.New(&TracedHandler{
		Handler: slog.NewJSONHandler(w, opts),
	})
}

// NewZapLogger creates the component logger handed to repositories, caches and services.
func NewZapLogger(level, environment string) (*zap.Logger, error) {
	var cfg zap.Config
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		zl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)

	return cfg.Build()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TracedHandler is a slog handler that adds OpenTelemetry trace context
type TracedHandler struct {
	slog.Handler
}

// Handle adds trace context to log records
func (h *TracedHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)

		if span.SpanContext().IsSampled() {
			r.AddAttrs(slog.Bool("sampled", true))
		}
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the trace decoration on derived handlers
func (h *TracedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracedHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the trace decoration on derived handlers
func (h *TracedHandler) WithGroup(name string) slog.Handler {
	return &TracedHandler{Handler: h.Handler.WithGroup(name)}
}
