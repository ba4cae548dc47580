package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a ProviderError
type ErrorKind string

const (
	KindValidation     ErrorKind = "Validation"
	KindConfiguration  ErrorKind = "Configuration"
	KindUpstream       ErrorKind = "Upstream"
	KindStream         ErrorKind = "Stream"
	KindParsing        ErrorKind = "Parsing"
	KindRateLimited    ErrorKind = "RateLimited"
	KindInitialization ErrorKind = "Initialization"
)

// HTTPStatus maps a kind onto the status code returned before any stream frame is sent
func (k ErrorKind) HTTPStatus() int {
	if k == KindRateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// ProviderError is the only error type that crosses component boundaries
type ProviderError struct {
	Kind       ErrorKind
	Backend    string
	RequestID  string
	StatusCode int // upstream HTTP status, if any
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	prefix := string(e.Kind)
	if e.Backend != "" {
		prefix = fmt.Sprintf("%s/%s", e.Backend, e.Kind)
	}
	msg := fmt.Sprintf("[%s] %s", prefix, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("[%s %d] %s", prefix, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy carrying backend and request id. The kind never changes.
func (e *ProviderError) WithContext(backend, requestID string) *ProviderError {
	cp := *e
	if cp.Backend == "" {
		cp.Backend = backend
	}
	if cp.RequestID == "" {
		cp.RequestID = requestID
	}
	return &cp
}

// NewError builds a ProviderError
func NewError(kind ErrorKind, backend, message string) *ProviderError {
	return &ProviderError{Kind: kind, Backend: backend, Message: message}
}

// WrapError builds a ProviderError around an underlying cause
func WrapError(kind ErrorKind, backend, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Backend: backend, Message: message, Cause: cause}
}

// AsProviderError extracts a ProviderError from err's chain
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns err's kind, or "" when err is not a ProviderError
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return ""
}

// EnsureProviderError converts an arbitrary error into a ProviderError of the fallback kind.
// Existing ProviderErrors keep their kind.
func EnsureProviderError(err error, fallback ErrorKind, backend string) *ProviderError {
	if err == nil {
		return nil
	}
	if pe, ok := AsProviderError(err); ok {
		return pe
	}
	return WrapError(fallback, backend, "unexpected failure", err)
}
