// Package errors holds the error taxonomy shared by services, workers and
// HTTP handlers. Each kind wraps a sentinel so callers match with errors.Is;
// the job queues fail a job outright when its error is not Retryable.
package errors

import (
	"errors"
	"fmt"
)

// Request errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrRateLimit    = errors.New("rate limit exceeded")
)

// DomainError carries a sentinel kind, a stable code for API clients and
// structured details for logs.
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code
	}
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches against the wrapped sentinel.
func (e *DomainError) Is(target error) bool {
	return e.Err != nil && errors.Is(e.Err, target)
}

func newError(kind error, code, message string, details map[string]interface{}) *DomainError {
	return &DomainError{Err: kind, Code: code, Message: message, Details: details}
}

// NotFoundError reports a missing resource by name.
func NotFoundError(resource string) *DomainError {
	return newError(ErrNotFound, "NOT_FOUND", resource+" not found",
		map[string]interface{}{"resource": resource})
}

// ValidationError rejects a single input field.
func ValidationError(field, message string) *DomainError {
	return newError(ErrInvalidInput, "VALIDATION_ERROR", message,
		map[string]interface{}{"field": field})
}

// ConflictError reports a uniqueness or state clash on resource.
func ConflictError(resource, reason string) *DomainError {
	return newError(ErrConflict, "CONFLICT", fmt.Sprintf("conflict with %s: %s", resource, reason),
		map[string]interface{}{"resource": resource})
}

// RateLimitError reports a cooldown of limit operations per window.
func RateLimitError(limit int, window string) *DomainError {
	return newError(ErrRateLimit, "RATE_LIMIT_EXCEEDED", "rate limit exceeded",
		map[string]interface{}{"limit": limit, "window": window})
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsRateLimit(err error) bool    { return errors.Is(err, ErrRateLimit) }

// IsRetryable reports whether the first DomainError in the chain is marked retryable.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Retryable
}

// IsPermanent reports whether the first DomainError in the chain is not
// retryable. Errors outside the taxonomy are treated as transient.
func IsPermanent(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && !domainErr.Retryable
}

// GetErrorDetails returns the details of the first DomainError in the chain.
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
