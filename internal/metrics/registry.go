package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wfa"

// Upload modes and results used as label values
const (
	ModeSingle  = "single"
	ModeMulti   = "multi"
	ModeUnknown = "unknown"

	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultSchema  = "schema_error"
	ResultStorage = "storage_error"
)

// Registry holds the pipeline metrics. A nil *Registry records nothing.
type Registry struct {
	registry *prometheus.Registry

	UploadsTotal        *prometheus.CounterVec
	RowsTotal           *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	ExportsTotal        *prometheus.CounterVec
	ExportDuration      *prometheus.HistogramVec
	ExportBytes         *prometheus.HistogramVec
	ArchiveFailures     prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with the pipeline metrics plus go and process collectors
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "uploads_total",
				Help:      "Total number of report uploads by mode and result",
			},
			[]string{"mode", "result"},
		),

		RowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Rows read from uploads, split into accepted and dropped",
			},
			[]string{"outcome"},
		),

		AggregationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "aggregation_duration_seconds",
				Help:      "Time from workbook read to summary",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"mode"},
		),

		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "documents_total",
				Help:      "Total number of rendered export documents",
			},
			[]string{"format"},
		),

		ExportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "render_duration_seconds",
				Help:      "Export rendering duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"format"},
		),

		ExportBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "document_bytes",
				Help:      "Size of rendered export documents",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB to 16MiB
			},
			[]string{"format"},
		),

		ArchiveFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "archive_failures_total",
				Help:      "Exports that could not be copied to the archive bucket",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "handler", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"method", "handler"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveUpload counts an upload and, when it got as far as aggregation, its duration
func (r *Registry) ObserveUpload(mode, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.UploadsTotal.WithLabelValues(mode, result).Inc()
	if result == ResultOK || result == ResultStorage {
		r.AggregationDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// AddRows counts accepted and dropped rows of one upload
func (r *Registry) AddRows(accepted, dropped int) {
	if r == nil {
		return
	}
	r.RowsTotal.WithLabelValues("accepted").Add(float64(accepted))
	r.RowsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

func (r *Registry) ObserveExport(format string, d time.Duration, size int) {
	if r == nil {
		return
	}
	r.ExportsTotal.WithLabelValues(format).Inc()
	r.ExportDuration.WithLabelValues(format).Observe(d.Seconds())
	r.ExportBytes.WithLabelValues(format).Observe(float64(size))
}

func (r *Registry) ArchiveFailed() {
	if r == nil {
		return
	}
	r.ArchiveFailures.Inc()
}

// ObserveHTTP records one served request
func (r *Registry) ObserveHTTP(method, handler string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, handler, http.StatusText(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, handler).Observe(d.Seconds())
}
