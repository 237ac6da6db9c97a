// Package transport provides HTTP implementations of the provider transport
// capability: an OpenAI-compatible chat transport (OpenRouter and friends)
// and a Gemini transport. Transports classify upstream failures into the
// orchestrator's error taxonomy and apply client-side per-credential
// throttling; they hold no routing state of their own.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

const defaultTimeout = 60 * time.Second

// newHTTPClient builds a pooled HTTP client suitable for many parallel
// in-flight requests
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// limiterRegistry holds one client-side rate limiter per credential label.
// A zero RPM disables throttling.
type limiterRegistry struct {
	mu       sync.Mutex
	rpm      int
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry(rpm int) *limiterRegistry {
	return &limiterRegistry{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait blocks until the credential's limiter admits a request or the
// context is done
func (r *limiterRegistry) wait(ctx context.Context, label string) error {
	if r.rpm <= 0 {
		return nil
	}

	r.mu.Lock()
	limiter, ok := r.limiters[label]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rpm)), r.rpm)
		r.limiters[label] = limiter
	}
	r.mu.Unlock()

	return limiter.Wait(ctx)
}

// parseRetryAfter extracts a Retry-After header value in seconds, 0 if absent
func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}

// upstreamErrorBody is the common {"error": {"message": ...}} envelope used
// by OpenAI-compatible APIs and Gemini alike
type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	} `json:"error"`
}

// classifyResponse maps a non-2xx upstream response to a ProviderError.
// The upstream's own message is kept on the wrapped error only; the
// classified message stays generic so raw provider text never propagates.
func classifyResponse(provider string, statusCode int, body []byte, headers http.Header) *types.ProviderError {
	code := types.ClassifyHTTPError(statusCode)

	var parsed upstreamErrorBody
	var original error
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		original = errors.New(parsed.Error.Message)
	}

	perr := types.NewProviderError(provider, code, fmt.Sprintf("upstream returned %d", statusCode)).
		WithStatusCode(statusCode).
		WithOriginalErr(original)
	if code == types.ErrCodeRateLimit {
		perr = perr.WithRetryAfter(parseRetryAfter(headers))
	}
	return perr
}

// classifyTransportError maps an http.Client error to a ProviderError
func classifyTransportError(ctx context.Context, provider string, err error) *types.ProviderError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeoutError(provider, "request deadline exceeded").WithOriginalErr(err)
	}
	switch types.Classify(err) {
	case types.ErrCodeTimeout:
		return types.NewTimeoutError(provider, "request timed out").WithOriginalErr(err)
	default:
		return types.NewNetworkError(provider, "request failed").WithOriginalErr(err)
	}
}
