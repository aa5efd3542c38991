package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec
	s3OperationsTotal   *prometheus.CounterVec
	s3OperationDuration *prometheus.HistogramVec
	s3OperationErrors   *prometheus.CounterVec
	codecOperations     *prometheus.CounterVec
	codecDuration       *prometheus.HistogramVec
	codecErrors         *prometheus.CounterVec
	codecBytes          *prometheus.CounterVec
	compressionRatio    prometheus.Histogram
	cacheRequests       *prometheus.CounterVec
	converterFiles      *prometheus.CounterVec
	profileReloads      *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	goroutines          prometheus.Gauge
	memoryAllocBytes    prometheus.Gauge
	memorySysBytes      prometheus.Gauge
}

// NewMetrics creates a metrics instance on the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry creates a metrics instance on a private registry,
// so tests and one-shot CLI runs do not collide on the default one.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP requests",
			},
			[]string{"method", "path"},
		),
		s3OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3_operations_total",
				Help: "Total number of S3 operations",
			},
			[]string{"operation", "bucket"},
		),
		s3OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3_operation_duration_seconds",
				Help:    "S3 operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "bucket"},
		),
		s3OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3_operation_errors_total",
				Help: "Total number of S3 operation errors",
			},
			[]string{"operation", "bucket", "error_type"},
		),
		codecOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_codec_operations_total",
				Help: "Total number of envelope encode/decode operations",
			},
			[]string{"operation"}, // "encode" or "decode"
		),
		codecDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "djbf_codec_duration_seconds",
				Help:    "Envelope encode/decode duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		codecErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_codec_errors_total",
				Help: "Total number of envelope encode/decode errors",
			},
			[]string{"operation", "kind"},
		),
		codecBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_codec_bytes_total",
				Help: "Total bytes read and written by the envelope codec",
			},
			[]string{"operation", "direction"}, // "in" or "out"
		),
		compressionRatio: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "djbf_compression_ratio",
				Help:    "Compressed body size divided by logical payload size",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.1},
			},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_cache_requests_total",
				Help: "Decoded asset cache lookups",
			},
			[]string{"result"}, // "hit" or "miss"
		),
		converterFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_converter_files_total",
				Help: "Files processed by the batch converter",
			},
			[]string{"mode", "result"},
		),
		profileReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "djbf_profile_reloads_total",
				Help: "Key profile reload attempts",
			},
			[]string{"result"},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, bytes int64) {
	m.httpRequestsTotal.WithLabelValues(method, path, http.StatusText(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, http.StatusText(status)).Observe(duration.Seconds())
	m.httpRequestBytes.WithLabelValues(method, path).Add(float64(bytes))
}

// RecordS3Operation records an S3 operation metric.
func (m *Metrics) RecordS3Operation(operation, bucket string, duration time.Duration) {
	m.s3OperationsTotal.WithLabelValues(operation, bucket).Inc()
	m.s3OperationDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
}

// RecordS3Error records an S3 operation error.
func (m *Metrics) RecordS3Error(operation, bucket, errorType string) {
	m.s3OperationErrors.WithLabelValues(operation, bucket, errorType).Inc()
}

// RecordCodecOperation records a successful encode or decode.
func (m *Metrics) RecordCodecOperation(operation string, duration time.Duration, bytesIn, bytesOut int) {
	m.codecOperations.WithLabelValues(operation).Inc()
	m.codecDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.codecBytes.WithLabelValues(operation, "in").Add(float64(bytesIn))
	m.codecBytes.WithLabelValues(operation, "out").Add(float64(bytesOut))
}

// RecordCodecError records a failed encode or decode by error kind.
func (m *Metrics) RecordCodecError(operation, kind string) {
	m.codecErrors.WithLabelValues(operation, kind).Inc()
}

// RecordCompressionRatio observes compressed/logical for a FastLZ body.
// Empty payloads are ignored.
func (m *Metrics) RecordCompressionRatio(compressed, logical int) {
	if logical <= 0 {
		return
	}
	m.compressionRatio.Observe(float64(compressed) / float64(logical))
}

// RecordCacheLookup records a decoded asset cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// RecordConverterFile records one file handled by the batch converter.
func (m *Metrics) RecordConverterFile(mode, result string) {
	m.converterFiles.WithLabelValues(mode, result).Inc()
}

// RecordProfileReload records a key profile reload attempt.
func (m *Metrics) RecordProfileReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.profileReloads.WithLabelValues(result).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections increments the active connections counter.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

// DecrementActiveConnections decrements the active connections counter.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// StartSystemMetricsCollector updates system metrics every interval until
// stop is closed.
func (m *Metrics) StartSystemMetricsCollector(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}
