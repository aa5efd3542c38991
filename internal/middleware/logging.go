package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/metrics"
)

const (
	accessLogMessage = "HTTP request"
	redacted         = "[REDACTED]"
	unmatchedRoute   = "unmatched"
)

// accessFormats maps server.access_log_format to an emitter. Unknown formats
// fall back to logDefault.
var accessFormats = map[string]func(*logrus.Logger, *LogEntry){
	"default": logDefault,
	"json":    logJSON,
	"clf":     logCLF,
}

// LoggingMiddleware writes one access log line per request in the configured
// format. With a non-nil m it also records request metrics, labelled by the
// mux route template rather than the raw asset path.
func LoggingMiddleware(logger *logrus.Logger, cfg *config.ServerConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	emit, ok := accessFormats[cfg.AccessLogFormat]
	if !ok {
		emit = logDefault
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			size := transferSize(r, rw)
			route := routeTemplate(r)

			if m != nil {
				m.RecordHTTPRequest(r.Method, route, rw.statusCode, elapsed, size)
			}

			entry := createLogEntry(r, rw, elapsed, size, cfg)
			entry.Route = route
			emit(logger, entry)
		})
	}
}

// transferSize is the envelope or payload the client sent for encode, decode
// and upload calls, and the response body otherwise.
func transferSize(r *http.Request, rw *responseWriter) int64 {
	if (r.Method == http.MethodPost || r.Method == http.MethodPut) && r.ContentLength > 0 {
		return r.ContentLength
	}
	return rw.bytesWritten
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return unmatchedRoute
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tmpl
}

// responseWriter records the status and body size handed to the client.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LogEntry is one access log record. Headers are only collected for the json
// format.
type LogEntry struct {
	Timestamp  string            `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Route      string            `json:"route,omitempty"`
	Query      string            `json:"query,omitempty"`
	RemoteAddr string            `json:"remote_addr"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Status     int               `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Bytes      int64             `json:"bytes"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func createLogEntry(r *http.Request, rw *responseWriter, elapsed time.Duration, size int64, cfg *config.ServerConfig) *LogEntry {
	entry := &LogEntry{
		Timestamp:  time.Now().Format(time.RFC3339),
		RequestID:  RequestIDFromContext(r.Context()),
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Status:     rw.statusCode,
		DurationMs: elapsed.Milliseconds(),
		Bytes:      size,
	}
	if cfg.AccessLogFormat == "json" {
		entry.Headers = headerSnapshot(r.Header, cfg.RedactHeaders)
	}
	return entry
}

// headerSnapshot flattens h with lower-cased names, masking the listed ones.
// S3 credentials and bearer tokens pass through this gateway.
func headerSnapshot(h http.Header, redact []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if shouldRedactHeader(key, redact) {
			out[key] = redacted
			continue
		}
		out[key] = strings.Join(values, ",")
	}
	return out
}

func shouldRedactHeader(name string, redact []string) bool {
	return slices.ContainsFunc(redact, func(candidate string) bool {
		return strings.EqualFold(candidate, name)
	})
}

func logDefault(logger *logrus.Logger, entry *LogEntry) {
	fields := logrus.Fields{
		"method":      entry.Method,
		"path":        entry.Path,
		"route":       entry.Route,
		"remote_addr": entry.RemoteAddr,
		"status":      entry.Status,
		"duration_ms": entry.DurationMs,
		"bytes":       entry.Bytes,
	}
	for key, value := range map[string]string{
		"request_id": entry.RequestID,
		"query":      entry.Query,
		"user_agent": entry.UserAgent,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	logger.WithFields(fields).Info(accessLogMessage)
}

func logJSON(logger *logrus.Logger, entry *LogEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		logDefault(logger, entry)
		return
	}
	logger.WithField("json", string(raw)).Info(accessLogMessage)
}

// logCLF writes Common Log Format. Identity and user are always "-".
func logCLF(logger *logrus.Logger, entry *LogEntry) {
	target := entry.Path
	if entry.Query != "" {
		target += "?" + entry.Query
	}
	line := fmt.Sprintf(`%s - - [%s] "%s %s HTTP/1.1" %d %d`,
		entry.RemoteAddr, entry.Timestamp, entry.Method, target, entry.Status, entry.Bytes)
	logger.WithField("clf", line).Info(accessLogMessage)
}
