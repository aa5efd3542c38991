package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"
)

// BucketValidationMiddleware rejects asset routes whose {bucket} variable
// matches none of the allowed glob patterns. Routes without a bucket, and
// every route when no pattern is configured, pass through. It must run after
// routing so the mux variables are populated.
func BucketValidationMiddleware(allowed []string, logger *logrus.Logger) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket, ok := mux.Vars(r)["bucket"]
			if !ok || BucketAllowed(allowed, bucket) {
				next.ServeHTTP(w, r)
				return
			}

			logger.WithFields(logrus.Fields{
				"requested_bucket": bucket,
				"allowed_buckets":  allowed,
				"path":             r.URL.Path,
				"method":           r.Method,
				"request_id":       RequestIDFromContext(r.Context()),
			}).Warn("Access denied: bucket is not served by this gateway")

			writeJSONError(w, http.StatusForbidden, "access_denied", "bucket "+bucket+" is not served by this gateway")
		})
	}
}

// BucketAllowed reports whether bucket matches one of the patterns.
func BucketAllowed(patterns []string, bucket string) bool {
	for _, pattern := range patterns {
		if glob.Glob(pattern, bucket) {
			return true
		}
	}
	return false
}
