package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/kenneth/djbf-gateway/internal/djbf"
	"github.com/kenneth/djbf-gateway/internal/s3"
)

// APIError represents a gateway error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Resource   string `json:"resource,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteJSON writes the error response as JSON.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPStatus)

	if err := json.NewEncoder(w).Encode(e); err != nil {
		http.Error(w, e.Message, e.HTTPStatus)
	}
}

// with returns a copy of e annotated with the request.
func (e *APIError) with(resource, requestID string) *APIError {
	out := *e
	out.Resource = resource
	out.RequestID = requestID
	return &out
}

// codecStatus maps codec error kinds to HTTP status codes. Malformed input
// and unusable options are the caller's fault; a well formed envelope whose
// body does not survive decoding is unprocessable.
var codecStatus = map[string]int{
	djbf.KindInvalidHeader:    http.StatusBadRequest,
	djbf.KindInvalidOptions:   http.StatusBadRequest,
	djbf.KindUnknownProfile:   http.StatusBadRequest,
	djbf.KindChecksumMismatch: http.StatusUnprocessableEntity,
	djbf.KindLZError:          http.StatusUnprocessableEntity,
	djbf.KindCipherError:      http.StatusUnprocessableEntity,
}

// CodecError translates an encode or decode failure.
func CodecError(err error) *APIError {
	kind := djbf.Kind(err)
	status, ok := codecStatus[kind]
	if !ok {
		return &APIError{
			Code:       djbf.KindInternal,
			Message:    "We encountered an internal error. Please try again.",
			HTTPStatus: http.StatusInternalServerError,
		}
	}
	return &APIError{
		Code:       kind,
		Message:    err.Error(),
		HTTPStatus: status,
	}
}

// TranslateError translates S3 backend errors.
func TranslateError(err error, bucket, key string) *APIError {
	if err == nil {
		return nil
	}

	if s3.IsNotFound(err) {
		code := s3.ErrorCode(err)
		if code == "NoSuchBucket" {
			return &APIError{
				Code:       "not_found",
				Message:    fmt.Sprintf("The specified bucket does not exist: %s", bucket),
				HTTPStatus: http.StatusNotFound,
			}
		}
		return &APIError{
			Code:       "not_found",
			Message:    fmt.Sprintf("The specified key does not exist: %s", key),
			HTTPStatus: http.StatusNotFound,
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return &APIError{
				Code:       "backend_access_denied",
				Message:    "The backend denied access to the object",
				HTTPStatus: http.StatusBadGateway,
			}
		case "InvalidBucketName":
			return &APIError{
				Code:       "invalid_bucket",
				Message:    "The specified bucket is not valid.",
				HTTPStatus: http.StatusBadRequest,
			}
		}
		return &APIError{
			Code:       "backend_error",
			Message:    fmt.Sprintf("Backend returned %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
			HTTPStatus: http.StatusBadGateway,
		}
	}

	return &APIError{
		Code:       "backend_error",
		Message:    fmt.Sprintf("Backend request failed: %v", err),
		HTTPStatus: http.StatusBadGateway,
	}
}

// Predefined errors
var (
	ErrInvalidRequest = &APIError{
		Code:       "invalid_request",
		Message:    "Invalid Request",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrEntityTooLarge = &APIError{
		Code:       "entity_too_large",
		Message:    "Request body exceeds the configured limit",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrBackendUnavailable = &APIError{
		Code:       "backend_unavailable",
		Message:    "No S3 backend is configured",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
