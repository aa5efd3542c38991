package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware wraps handlers with OpenTelemetry server spans. Incoming
// trace context is honoured. With redactSensitive set, object keys, query
// strings and credentials are kept out of span attributes.
func TracingMiddleware(redactSensitive bool) func(http.Handler) http.Handler {
	tracer := otel.Tracer("djbf-gateway")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route := routeTemplate(r)
			ctx, span := tracer.Start(ctx, getSpanName(r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPRoute(route),
					semconv.HTTPTarget(r.URL.Path),
					attribute.String("http.host", r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.remote_addr", ClientIP(r)),
				),
			)

			vars := mux.Vars(r)
			if bucket := vars["bucket"]; bucket != "" {
				span.SetAttributes(attribute.String("djbf.bucket", bucket))
			}
			if key := vars["key"]; key != "" && !redactSensitive {
				span.SetAttributes(attribute.String("djbf.key", key))
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			if r.URL.RawQuery != "" {
				if redactSensitive {
					span.SetAttributes(attribute.String("http.query", "[REDACTED]"))
				} else {
					span.SetAttributes(attribute.String("http.query", r.URL.RawQuery))
				}
			}

			addHeadersToSpan(span, r.Header, redactSensitive)

			rw := &tracingResponseWriter{ResponseWriter: w}

			defer func() {
				status := rw.statusCode
				if status == 0 {
					status = http.StatusOK
				}
				span.SetAttributes(semconv.HTTPStatusCode(status))
				if status >= 500 {
					span.SetStatus(codes.Error, http.StatusText(status))
				} else {
					span.SetStatus(codes.Ok, "")
				}
				span.End()
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// getSpanName names spans after the route so operations group together.
func getSpanName(method, route string) string {
	switch route {
	case "/v1/decode":
		return "DJBF Decode"
	case "/v1/encode":
		return "DJBF Encode"
	case "/v1/inspect":
		return "DJBF Inspect"
	case "/assets/{bucket}/{key:.+}":
		switch method {
		case http.MethodGet, http.MethodHead:
			return "DJBF GetAsset"
		case http.MethodPut:
			return "DJBF PutAsset"
		}
	}
	return "HTTP " + method + " " + route
}

// addHeadersToSpan adds relevant headers to the span, redacting sensitive ones
func addHeadersToSpan(span trace.Span, headers http.Header, redactSensitive bool) {
	safeHeaders := []string{
		"content-type",
		"content-length",
		"accept",
		"x-djbf-profile",
	}

	sensitiveHeaders := []string{
		"authorization",
		"cookie",
	}

	for _, header := range safeHeaders {
		if value := headers.Get(header); value != "" {
			span.SetAttributes(attribute.String("http.request.header."+header, value))
		}
	}

	for _, header := range sensitiveHeaders {
		if value := headers.Get(header); value != "" {
			if redactSensitive {
				value = "[REDACTED]"
			}
			span.SetAttributes(attribute.String("http.request.header."+header, value))
		}
	}
}

// tracingResponseWriter wraps http.ResponseWriter to capture status code for tracing
type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *tracingResponseWriter) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *tracingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
