package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"download-gateway/internal/storage"
)

// ErrorKind is the stable machine-readable error category exposed in
// every error response body.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindTimeout            ErrorKind = "timeout"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindInternal           ErrorKind = "internal_error"
)

func (k ErrorKind) status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// APIError is a failure with a known category and a message safe to show
// callers. The wrapped cause is for logs and the error sink only.
type APIError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// NewValidationError builds a 400-class error from caller input problems.
func NewValidationError(format string, args ...interface{}) *APIError {
	return &APIError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewInternalError wraps an unexpected failure. The cause never reaches the
// response body.
func NewInternalError(cause error) *APIError {
	return &APIError{Kind: KindInternal, Message: "An internal error occurred", cause: cause}
}

// errorBody is the uniform JSON error response.
type errorBody struct {
	Error     ErrorKind `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	EventID   string    `json:"eventId,omitempty"`
}

// classify maps an arbitrary failure onto the taxonomy. Anything without an
// explicit category is an unhandled internal failure.
func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, storage.ErrStoreUnavailable) {
		return &APIError{Kind: KindStorageUnavailable, Message: "Object storage is unavailable", cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindTimeout, Message: "Request timed out", cause: err}
	}
	return NewInternalError(err)
}

// writeError is the single correlation boundary: it attaches the request and
// trace identifiers, forwards unhandled failures to the external sink and
// renders the uniform error body. Stack detail never reaches the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := classify(err)
	requestID := RequestIDFromContext(r.Context())

	body := errorBody{
		Error:     apiErr.Kind,
		Message:   apiErr.Message,
		RequestID: requestID,
	}

	if apiErr.Kind == KindInternal {
		tags := map[string]string{"request_id": requestID}
		if traceID := w.Header().Get(headerTraceID); traceID != "" {
			tags["trace_id"] = traceID
		}
		body.EventID = s.reporter.CaptureError(err, tags)

		s.logger.Error("unhandled failure", err, fieldsFor(requestID, body.EventID))
	}

	writeJSON(w, apiErr.Kind.status(), body)
}
