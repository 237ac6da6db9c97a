package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCode categorizes provider and orchestrator errors
type ErrorCode string

const (
	ErrCodeUnknown        ErrorCode = "unknown"
	ErrCodeAuthentication ErrorCode = "authentication"
	ErrCodeRateLimit      ErrorCode = "rate_limit"
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeServerError    ErrorCode = "server_error"
	ErrCodeTimeout        ErrorCode = "timeout"
	ErrCodeNetwork        ErrorCode = "network"

	// ErrCodeUnavailable is a pool-level condition: no eligible credential
	// or an open circuit. It is not a single call's fault and never counts
	// as a circuit breaker failure.
	ErrCodeUnavailable ErrorCode = "provider_unavailable"

	// ErrCodeExhausted is terminal: every provider/credential/attempt
	// combination failed for the request.
	ErrCodeExhausted ErrorCode = "exhausted"
)

// ProviderError represents a standardized, classified error from a provider
type ProviderError struct {
	Code        ErrorCode // Categorized error code
	Message     string    // Human-readable message
	StatusCode  int       // HTTP status code (0 if not applicable)
	Provider    string    // Which provider generated this error
	Operation   string    // What operation failed (e.g., "chat_completion", "ping")
	OriginalErr error     // Wrapped original error
	RetryAfter  int       // Seconds to wait before retry (for rate limits)
	RequestID   string    // Orchestrator request ID if available
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (status=%d, code=%s)", e.Provider, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("[%s] %s (code=%s)", e.Provider, e.Message, e.Code)
}

// Unwrap returns the original error for errors.Is/As
func (e *ProviderError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns true if the error is potentially recoverable by
// retrying with the same provider (possibly a different credential)
func (e *ProviderError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeNetwork, ErrCodeUnknown:
		return true
	}
	return false
}

// WithOperation sets the operation field and returns the error for chaining
func (e *ProviderError) WithOperation(operation string) *ProviderError {
	e.Operation = operation
	return e
}

// WithStatusCode sets the status code field and returns the error for chaining
func (e *ProviderError) WithStatusCode(statusCode int) *ProviderError {
	e.StatusCode = statusCode
	return e
}

// WithOriginalErr sets the original error field and returns the error for chaining
func (e *ProviderError) WithOriginalErr(err error) *ProviderError {
	e.OriginalErr = err
	return e
}

// WithRequestID sets the request ID field and returns the error for chaining
func (e *ProviderError) WithRequestID(requestID string) *ProviderError {
	e.RequestID = requestID
	return e
}

// WithRetryAfter sets the retry after field and returns the error for chaining
func (e *ProviderError) WithRetryAfter(retryAfter int) *ProviderError {
	e.RetryAfter = retryAfter
	return e
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{
		Code:     code,
		Message:  message,
		Provider: provider,
	}
}

// NewAuthError creates a new authentication error
func NewAuthError(provider string, message string) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeAuthentication,
		Message:  message,
		Provider: provider,
	}
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(provider string, retryAfter int) *ProviderError {
	return &ProviderError{
		Code:       ErrCodeRateLimit,
		Message:    "rate limit exceeded",
		Provider:   provider,
		RetryAfter: retryAfter,
	}
}

// NewServerError creates a new server error
func NewServerError(provider string, statusCode int, message string) *ProviderError {
	return &ProviderError{
		Code:       ErrCodeServerError,
		Message:    message,
		Provider:   provider,
		StatusCode: statusCode,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(provider string, message string) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeTimeout,
		Message:  message,
		Provider: provider,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(provider string, message string) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeNetwork,
		Message:  message,
		Provider: provider,
	}
}

// NewUnavailableError creates a new provider-unavailable error
func NewUnavailableError(provider string, message string) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeUnavailable,
		Message:  message,
		Provider: provider,
	}
}

// ClassifyHTTPError determines error code from HTTP status
func ClassifyHTTPError(statusCode int) ErrorCode {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeAuthentication
	case http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return ErrCodeInvalidRequest
	case http.StatusRequestTimeout:
		return ErrCodeTimeout
	default:
		if statusCode >= 500 {
			return ErrCodeServerError
		}
		return ErrCodeUnknown
	}
}

// Classify maps an arbitrary transport error to an ErrorCode. Errors already
// shaped as *ProviderError keep their code; context and net timeouts map to
// ErrCodeTimeout; everything else is ErrCodeUnknown and treated as transient.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrCodeUnknown
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrCodeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrCodeTimeout
		}
		return ErrCodeNetwork
	}

	return ErrCodeUnknown
}
