// Package ai wraps the external AI backends behind the verifier and embedder
// ports. Calls are paced to respect provider rate limits and failures are
// classified so the batch driver can tell retryable faults from hard ones.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies an external operation failure.
type ErrorKind string

const (
	// KindTransient marks failures worth retrying: rate limits, timeouts,
	// provider 5xx responses.
	KindTransient ErrorKind = "transient"
	// KindPermanent marks failures retrying cannot fix: bad requests,
	// authentication, missing models.
	KindPermanent ErrorKind = "permanent"
	// KindUnknown marks failures that could not be classified.
	KindUnknown ErrorKind = "unknown"
)

// OperationError is the classified error returned by adapter calls.
type OperationError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying the operation may succeed.
func (e *OperationError) Transient() bool {
	return e.Kind == KindTransient
}

// Transientf creates a transient OperationError.
func Transientf(format string, args ...any) *OperationError {
	return &OperationError{Kind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

// Permanentf creates a permanent OperationError.
func Permanentf(format string, args ...any) *OperationError {
	return &OperationError{Kind: KindPermanent, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a transient OperationError.
func IsTransient(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr) && opErr.Kind == KindTransient
}

// ClassifyStatus maps an HTTP status from the provider to an OperationError.
func ClassifyStatus(statusCode int, body string) *OperationError {
	msg := fmt.Sprintf("provider returned http %d", statusCode)
	if body != "" {
		msg = fmt.Sprintf("provider returned http %d: %s", statusCode, body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode >= 500:
		return &OperationError{Kind: KindTransient, Message: msg, StatusCode: statusCode}
	case statusCode >= 400:
		return &OperationError{Kind: KindPermanent, Message: msg, StatusCode: statusCode}
	default:
		return &OperationError{Kind: KindUnknown, Message: msg, StatusCode: statusCode}
	}
}

// ClassifyTransportError maps a request transport failure to an OperationError.
// Context cancellation passes through unclassified so callers can distinguish
// an operator cancel from a provider fault.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &OperationError{Kind: KindTransient, Message: "request timed out", Cause: err}
	}
	return &OperationError{Kind: KindTransient, Message: "request failed", Cause: err}
}
