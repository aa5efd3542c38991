package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/audit"
	"github.com/kenneth/djbf-gateway/internal/cache"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/middleware"
	"github.com/kenneth/djbf-gateway/internal/s3"
)

// Object metadata written with encoded assets.
const (
	metaVersion = "djbf-version"
	metaFlags   = "djbf-flags"
	metaProfile = "djbf-profile"
)

// assetProfile picks the key profile for an asset: the request first, then
// a matching conversion rule, then the server default.
func (h *Handler) assetProfile(r *http.Request, key string) string {
	if p := profileFromRequest(r); p != "" {
		return p
	}
	return h.rules.Resolve(key, h.config.Server.Defaults).Profile
}

// handleGetAsset fetches a DJBF object from the backend and serves the
// decoded payload.
func (h *Handler) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	key := vars["key"]

	if h.backend == nil {
		h.writeError(w, r, ErrBackendUnavailable, nil)
		return
	}

	ctx := r.Context()
	profile := h.assetProfile(r, key)
	cacheKey := cache.Key{Bucket: bucket, Object: key, Profile: profile}

	if h.cache != nil {
		entry, ok := h.cache.Get(ctx, cacheKey)
		h.metrics.RecordCacheLookup(ok)
		if ok {
			h.writeAsset(w, entry.Data, entry.Metadata)
			if h.auditLogger != nil {
				h.auditLogger.LogAccess("get", bucket, key, middleware.ClientIP(r), r.UserAgent(), getRequestID(r), true, nil, time.Since(start))
			}
			return
		}
	}

	reader, _, err := h.backend.GetObject(ctx, bucket, key)
	if err != nil {
		h.metrics.RecordS3Error("GetObject", bucket, s3ErrorType(err))
		h.writeError(w, r, TranslateError(err, bucket, key), err)
		return
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	h.metrics.RecordS3Operation("GetObject", bucket, time.Since(start))
	if err != nil {
		h.writeError(w, r, TranslateError(err, bucket, key), err)
		return
	}

	out, hdr, err := h.decode(r, data, profile, audit.CodecRecord{
		Source:    "s3://" + bucket,
		Asset:     key,
		RequestID: getRequestID(r),
	})
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	headers := envelopeHeaders(hdr)
	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, out, headers, h.config.Cache.DefaultTTL); err != nil {
			h.logger.WithError(err).WithField("asset", cacheKey.String()).Debug("Decoded asset not cached")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"bucket":      bucket,
		"key":         key,
		"profile":     profile,
		"version":     headers["X-Djbf-Version"],
		"flags":       headers["X-Djbf-Flags"],
		"bytes_in":    len(data),
		"bytes_out":   len(out),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Served decoded asset")

	h.writeAsset(w, out, headers)
}

func (h *Handler) writeAsset(w http.ResponseWriter, data []byte, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WithError(err).Debug("Failed to write asset")
	}
}

// handleHeadAsset reports the envelope of an asset without transferring it.
// A cached decode answers with the payload length; otherwise only the
// metadata stored with the object is returned.
func (h *Handler) handleHeadAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	key := vars["key"]

	if h.backend == nil {
		h.writeError(w, r, ErrBackendUnavailable, nil)
		return
	}

	ctx := r.Context()
	if h.cache != nil {
		entry, ok := h.cache.Get(ctx, cache.Key{Bucket: bucket, Object: key, Profile: h.assetProfile(r, key)})
		h.metrics.RecordCacheLookup(ok)
		if ok {
			for k, v := range entry.Metadata {
				w.Header().Set(k, v)
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", strconv.Itoa(len(entry.Data)))
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	meta, err := h.backend.HeadObject(ctx, bucket, key)
	if err != nil {
		h.metrics.RecordS3Error("HeadObject", bucket, s3ErrorType(err))
		h.writeError(w, r, TranslateError(err, bucket, key), err)
		return
	}
	h.metrics.RecordS3Operation("HeadObject", bucket, time.Since(start))

	if v := meta[metaVersion]; v != "" {
		w.Header().Set("X-Djbf-Version", v)
	}
	if f := meta[metaFlags]; f != "" {
		w.Header().Set("X-Djbf-Flags", f)
	}
	if p := meta[metaProfile]; p != "" {
		w.Header().Set(ProfileHeader, p)
	}
	if etag := meta["ETag"]; etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
}

// handleDeleteAsset removes an asset from the backend and the cache.
func (h *Handler) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	key := vars["key"]

	if h.backend == nil {
		h.writeError(w, r, ErrBackendUnavailable, nil)
		return
	}

	ctx := r.Context()
	err := h.backend.DeleteObject(ctx, bucket, key)
	if h.auditLogger != nil {
		h.auditLogger.LogAccess("delete", bucket, key, middleware.ClientIP(r), r.UserAgent(), getRequestID(r), err == nil, err, time.Since(start))
	}
	if err != nil {
		h.metrics.RecordS3Error("DeleteObject", bucket, s3ErrorType(err))
		h.writeError(w, r, TranslateError(err, bucket, key), err)
		return
	}
	h.metrics.RecordS3Operation("DeleteObject", bucket, time.Since(start))

	if h.cache != nil {
		if err := h.cache.Delete(ctx, bucket, key); err != nil {
			h.logger.WithError(err).Warn("Failed to invalidate cached asset")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	}).Info("Deleted asset")
	w.WriteHeader(http.StatusNoContent)
}

// PutAssetResponse describes an asset stored by PUT /assets.
type PutAssetResponse struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Profile string `json:"profile"`
	Version string `json:"version"`
	Flags   string `json:"flags"`
	Size    int    `json:"size"`
	Stored  int    `json:"stored"`
}

// handlePutAsset encodes the request body and stores the envelope in the
// backend. Options come from the query, then a matching rule, then the
// server defaults.
func (h *Handler) handlePutAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	key := vars["key"]

	if h.backend == nil {
		h.writeError(w, r, ErrBackendUnavailable, nil)
		return
	}

	data, err := readBody(w, r, h.config.Server.MaxBodyBytes)
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	base := h.rules.Resolve(key, h.config.Server.Defaults)
	opts, err := encodeConfig(r, base).Options()
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	out, err := h.encode(r, data, opts, audit.CodecRecord{
		Source:    "s3://" + bucket,
		Asset:     key,
		RequestID: getRequestID(r),
	})
	if err != nil {
		h.writeError(w, r, CodecError(err), err)
		return
	}

	flags := djbf.NormalizeFlags(opts.Version, opts.Flags)
	metadata := map[string]string{
		metaVersion: formatVersion(opts.Version),
		metaFlags:   flags.String(),
	}
	if flags.Encrypted() {
		metadata[metaProfile] = opts.Profile
	}

	ctx := r.Context()
	putStart := time.Now()
	if err := h.backend.PutObject(ctx, bucket, key, bytes.NewReader(out), metadata); err != nil {
		h.metrics.RecordS3Error("PutObject", bucket, s3ErrorType(err))
		h.writeError(w, r, TranslateError(err, bucket, key), err)
		return
	}
	h.metrics.RecordS3Operation("PutObject", bucket, time.Since(putStart))

	if h.cache != nil {
		if err := h.cache.Delete(ctx, bucket, key); err != nil {
			h.logger.WithError(err).Warn("Failed to invalidate cached asset")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"bucket":      bucket,
		"key":         key,
		"profile":     opts.Profile,
		"version":     formatVersion(opts.Version),
		"flags":       flags.String(),
		"bytes_in":    len(data),
		"bytes_out":   len(out),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Stored encoded asset")

	writeJSON(w, http.StatusOK, PutAssetResponse{
		Bucket:  bucket,
		Key:     key,
		Profile: opts.Profile,
		Version: formatVersion(opts.Version),
		Flags:   flags.String(),
		Size:    len(data),
		Stored:  len(out),
	})
}

// s3ErrorType labels a backend error for metrics.
func s3ErrorType(err error) string {
	if code := s3.ErrorCode(err); code != "" {
		return code
	}
	return "unknown"
}
