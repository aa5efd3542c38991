package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")
			// Enable XSS protection
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			// Strict Transport Security (only if TLS)
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			// Responses are data, never documents
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			// Referrer Policy
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// Permissions Policy
			w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter allows each client a fixed number of requests per window.
type RateLimiter struct {
	mu              sync.Mutex
	requests        map[string]*clientWindow
	limit           int           // requests per window
	window          time.Duration // time window
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *logrus.Logger
}

type clientWindow struct {
	remaining int
	start     time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, period time.Duration, logger *logrus.Logger) *RateLimiter {
	rl := &RateLimiter{
		requests:        make(map[string]*clientWindow),
		limit:           limit,
		window:          period,
		cleanupInterval: period * 2,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically drops clients whose window has long expired.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, w := range rl.requests {
				if now.Sub(w.start) > rl.cleanupInterval {
					delete(rl.requests, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Allow checks if a request from the given key should be allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.requests[key]
	if !exists || now.Sub(w.start) >= rl.window {
		rl.requests[key] = &clientWindow{remaining: rl.limit - 1, start: now}
		return true
	}

	if w.remaining > 0 {
		w.remaining--
		return true
	}

	return false
}

// ClientIP identifies the caller, preferring the first proxy-forwarded address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware creates a middleware that enforces rate limiting.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientIP(r)

			if !limiter.Allow(clientKey) {
				limiter.logger.WithFields(logrus.Fields{
					"client":     clientKey,
					"path":       r.URL.Path,
					"request_id": RequestIDFromContext(r.Context()),
				}).Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the gateway error body.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
