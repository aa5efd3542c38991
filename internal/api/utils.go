package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kenneth/djbf-gateway/internal/config"
	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/middleware"
)

// ProfileHeader selects the key profile when the query does not.
const ProfileHeader = "X-Djbf-Profile"

// getRequestID returns the request ID assigned by the middleware, falling
// back to the caller's header when the handler runs without it.
func getRequestID(r *http.Request) string {
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.RequestIDHeader)
}

// readBody reads the whole request body, bounded by limit.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrEntityTooLarge
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

// encodeConfig applies the profile, version and flags query parameters on
// top of base.
func encodeConfig(r *http.Request, base config.EncodeConfig) config.EncodeConfig {
	out := base
	q := r.URL.Query()
	if p := profileFromRequest(r); p != "" {
		out.Profile = p
	}
	if v := strings.TrimSpace(q.Get("version")); v != "" {
		out.Version = v
	}
	if f := strings.TrimSpace(q.Get("flags")); f != "" {
		out.Flags = f
	}
	return out
}

// profileFromRequest returns the profile named by the query or the profile
// header, or "" when neither is set.
func profileFromRequest(r *http.Request) string {
	if p := strings.TrimSpace(r.URL.Query().Get("profile")); p != "" {
		return p
	}
	return strings.TrimSpace(r.Header.Get(ProfileHeader))
}

// envelopeHeaders describes a decoded envelope for response headers and
// cache metadata.
func envelopeHeaders(h *djbf.Header) map[string]string {
	return map[string]string{
		"X-Djbf-Version":  fmt.Sprintf("0x%04X", h.Version),
		"X-Djbf-Flags":    h.Flags.String(),
		"X-Djbf-Checksum": fmt.Sprintf("%08X", h.Checksum),
	}
}
