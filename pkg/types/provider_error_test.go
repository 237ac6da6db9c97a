package types

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name: "error with status code",
			err: &ProviderError{
				Provider:   "gemini",
				Message:    "request failed",
				StatusCode: 401,
				Code:       ErrCodeAuthentication,
			},
			expected: "[gemini] request failed (status=401, code=authentication)",
		},
		{
			name: "error without status code",
			err: &ProviderError{
				Provider: "openrouter",
				Message:  "network timeout",
				Code:     ErrCodeTimeout,
			},
			expected: "[openrouter] network timeout (code=timeout)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	originalErr := errors.New("underlying error")
	providerErr := NewServerError("gemini", 503, "upstream unavailable").WithOriginalErr(originalErr)

	assert.Equal(t, originalErr, providerErr.Unwrap())
	assert.True(t, errors.Is(providerErr, originalErr))
}

func TestProviderError_IsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		expected bool
	}{
		{"rate limit is retryable", ErrCodeRateLimit, true},
		{"server error is retryable", ErrCodeServerError, true},
		{"timeout is retryable", ErrCodeTimeout, true},
		{"network error is retryable", ErrCodeNetwork, true},
		{"unknown is retryable", ErrCodeUnknown, true},
		{"authentication is not retryable", ErrCodeAuthentication, false},
		{"invalid request is not retryable", ErrCodeInvalidRequest, false},
		{"unavailable is not retryable", ErrCodeUnavailable, false},
		{"exhausted is not retryable", ErrCodeExhausted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProviderError("gemini", tt.code, "test")
			assert.Equal(t, tt.expected, err.IsRetryable())
		})
	}
}

func TestProviderError_Chaining(t *testing.T) {
	original := errors.New("boom")
	err := NewRateLimitError("openrouter", 30).
		WithOperation("chat_completion").
		WithStatusCode(429).
		WithRequestID("req-1").
		WithOriginalErr(original)

	assert.Equal(t, ErrCodeRateLimit, err.Code)
	assert.Equal(t, 30, err.RetryAfter)
	assert.Equal(t, "chat_completion", err.Operation)
	assert.Equal(t, 429, err.StatusCode)
	assert.Equal(t, "req-1", err.RequestID)
	assert.Equal(t, original, err.OriginalErr)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorCode
	}{
		{http.StatusUnauthorized, ErrCodeAuthentication},
		{http.StatusForbidden, ErrCodeAuthentication},
		{http.StatusTooManyRequests, ErrCodeRateLimit},
		{http.StatusBadRequest, ErrCodeInvalidRequest},
		{http.StatusNotFound, ErrCodeInvalidRequest},
		{http.StatusRequestTimeout, ErrCodeTimeout},
		{http.StatusInternalServerError, ErrCodeServerError},
		{http.StatusBadGateway, ErrCodeServerError},
		{http.StatusServiceUnavailable, ErrCodeServerError},
		{http.StatusTeapot, ErrCodeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyHTTPError(tt.status), "status %d", tt.status)
	}
}

func TestClassify(t *testing.T) {
	t.Run("provider error keeps its code", func(t *testing.T) {
		err := NewAuthError("gemini", "bad key")
		assert.Equal(t, ErrCodeAuthentication, Classify(err))
	})

	t.Run("wrapped provider error keeps its code", func(t *testing.T) {
		err := NewRateLimitError("openrouter", 10)
		wrapped := errors.Join(errors.New("outer"), err)
		assert.Equal(t, ErrCodeRateLimit, Classify(wrapped))
	})

	t.Run("context deadline maps to timeout", func(t *testing.T) {
		assert.Equal(t, ErrCodeTimeout, Classify(context.DeadlineExceeded))
	})

	t.Run("context canceled maps to timeout", func(t *testing.T) {
		assert.Equal(t, ErrCodeTimeout, Classify(context.Canceled))
	})

	t.Run("plain error maps to unknown", func(t *testing.T) {
		assert.Equal(t, ErrCodeUnknown, Classify(errors.New("mystery")))
	})

	t.Run("nil maps to unknown", func(t *testing.T) {
		assert.Equal(t, ErrCodeUnknown, Classify(nil))
	})
}

func TestExhaustedError(t *testing.T) {
	err := &ExhaustedError{
		RequestID: "req-42",
		Tried:     []string{"gemini", "openrouter"},
		LastFailures: map[string]*ProviderError{
			"gemini":     NewRateLimitError("gemini", 60),
			"openrouter": NewTimeoutError("openrouter", "request timed out"),
		},
	}

	require.Equal(t, ErrCodeExhausted, err.Code())
	msg := err.Error()
	assert.Contains(t, msg, "all providers exhausted")
	assert.Contains(t, msg, "gemini: rate_limit")
	assert.Contains(t, msg, "openrouter: timeout")

	// Raw transport error text must never leak into the message.
	assert.NotContains(t, msg, "request timed out")
}
