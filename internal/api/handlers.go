package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/cache"
	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/metrics"
	"github.com/kenneth/djbf-gateway/internal/s3"
)

// Handler handles HTTP requests for the DJBF gateway.
type Handler struct {
	codec       *djbf.Codec
	backend     s3.Client // nil when no backend is configured
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	cache       cache.Cache
	auditLogger audit.Logger
	rules       *config.RuleSet
	tracer      trace.Tracer
	config      *config.Config
	started     time.Time
}

// NewHandler creates a gateway handler without a backend or optional features.
func NewHandler(codec *djbf.Codec, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	return NewHandlerWithFeatures(codec, nil, logger, m, nil, nil, nil, nil, nil)
}

// NewHandlerWithFeatures creates a gateway handler. The backend, cache, audit
// logger, rules and tracer are optional.
func NewHandlerWithFeatures(
	codec *djbf.Codec,
	backend s3.Client,
	logger *logrus.Logger,
	m *metrics.Metrics,
	cache cache.Cache,
	auditLogger audit.Logger,
	rules *config.RuleSet,
	tracer trace.Tracer,
	cfg *config.Config,
) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Handler{
		codec:       codec,
		backend:     backend,
		logger:      logger,
		metrics:     m,
		cache:       cache,
		auditLogger: auditLogger,
		rules:       rules,
		tracer:      tracer,
		config:      cfg,
		started:     time.Now(),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleReady).Methods("GET")
	r.HandleFunc("/live", h.handleLive).Methods("GET")
	if h.config.Metrics.Enabled {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/decode", h.handleDecode).Methods("POST")
	v1.HandleFunc("/encode", h.handleEncode).Methods("POST")
	v1.HandleFunc("/inspect", h.handleInspect).Methods("POST")

	r.HandleFunc("/assets/{bucket}/{key:.+}", h.handleGetAsset).Methods("GET")
	r.HandleFunc("/assets/{bucket}/{key:.+}", h.handleHeadAsset).Methods("HEAD")
	r.HandleFunc("/assets/{bucket}/{key:.+}", h.handlePutAsset).Methods("PUT")
	r.HandleFunc("/assets/{bucket}/{key:.+}", h.handleDeleteAsset).Methods("DELETE")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth handles health check requests.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports readiness. The gateway can serve the codec endpoints
// without a backend, so the backend only shows up as a detail.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"backend": h.backend != nil,
		"cache":   h.cache != nil,
	})
}

// handleLive handles liveness check requests.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// writeError logs err and writes it as a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, apiErr *APIError, err error) {
	apiErr = apiErr.with(r.URL.Path, getRequestID(r))

	entry := h.logger.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"method":     r.Method,
		"code":       apiErr.Code,
		"status":     apiErr.HTTPStatus,
		"request_id": apiErr.RequestID,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if apiErr.HTTPStatus >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	apiErr.WriteJSON(w)
}

// decode runs the codec inside a span and records metrics and audit.
func (h *Handler) decode(r *http.Request, data []byte, profile string, rec audit.CodecRecord) ([]byte, *djbf.Header, error) {
	_, span := h.tracer.Start(r.Context(), "djbf.Decode", trace.WithAttributes(
		attribute.Int("djbf.bytes_in", len(data)),
		attribute.String("djbf.profile", profile),
	))
	defer span.End()

	start := time.Now()
	out, hdr, err := h.codec.Decode(data, profile)
	duration := time.Since(start)

	rec.Profile = profile
	rec.BytesIn = len(data)
	if hdr != nil {
		rec.Version = hdr.Version
		rec.Flags = hdr.Flags
		span.SetAttributes(
			attribute.String("djbf.version", formatVersion(hdr.Version)),
			attribute.String("djbf.flags", hdr.Flags.String()),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, djbf.Kind(err))
		h.metrics.RecordCodecError("decode", djbf.Kind(err))
	} else {
		rec.BytesOut = len(out)
		span.SetAttributes(attribute.Int("djbf.bytes_out", len(out)))
		h.metrics.RecordCodecOperation("decode", duration, len(data), len(out))
		if hdr.Flags.Compressed() {
			h.metrics.RecordCompressionRatio(len(data)-djbf.HeaderSize+len(hdr.Suffix), len(out))
		}
	}

	if h.auditLogger != nil {
		h.auditLogger.LogDecode(rec, err, duration)
	}
	return out, hdr, err
}

// encode runs the codec inside a span and records metrics and audit.
func (h *Handler) encode(r *http.Request, payload []byte, opts djbf.EncodeOptions, rec audit.CodecRecord) ([]byte, error) {
	flags := djbf.NormalizeFlags(opts.Version, opts.Flags)
	_, span := h.tracer.Start(r.Context(), "djbf.Encode", trace.WithAttributes(
		attribute.Int("djbf.bytes_in", len(payload)),
		attribute.String("djbf.profile", opts.Profile),
		attribute.String("djbf.version", formatVersion(opts.Version)),
		attribute.String("djbf.flags", flags.String()),
	))
	defer span.End()

	start := time.Now()
	out, err := h.codec.Encode(payload, opts)
	duration := time.Since(start)

	rec.Profile = opts.Profile
	rec.Version = opts.Version
	rec.Flags = flags
	rec.BytesIn = len(payload)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, djbf.Kind(err))
		h.metrics.RecordCodecError("encode", djbf.Kind(err))
	} else {
		rec.BytesOut = len(out)
		span.SetAttributes(attribute.Int("djbf.bytes_out", len(out)))
		h.metrics.RecordCodecOperation("encode", duration, len(payload), len(out))
		if flags.Compressed() {
			h.metrics.RecordCompressionRatio(len(out)-djbf.HeaderSize, len(payload))
		}
	}

	if h.auditLogger != nil {
		h.auditLogger.LogEncode(rec, err, duration)
	}
	return out, err
}
