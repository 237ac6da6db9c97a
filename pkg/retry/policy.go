// Package retry provides the pure backoff policy used between orchestrator
// attempts: exponential delay with a cap and optional uniform jitter.
package retry

import (
	"math/rand"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// Policy configures exponential backoff behavior
type Policy struct {
	BaseDelay   time.Duration // Initial delay for the first retry
	MaxDelay    time.Duration // Maximum delay cap
	Multiplier  float64       // Exponential multiplier (typically 2.0)
	MaxAttempts int           // Maximum number of attempts per provider
	Jitter      bool          // Add uniform random jitter in [0, delay)
}

// DefaultPolicy returns sensible defaults for exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 3,
		Jitter:      true,
	}
}

// Delay returns the backoff delay before the given retry.
// attempt is 1-indexed (first retry is attempt 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}

	// Safe bit shifting to prevent overflow
	if attempt > 30 {
		attempt = 30
	}

	multiplier := float64(int(1) << uint(attempt-1)) // #nosec G115 -- attempt is capped at 30, safe conversion
	if p.Multiplier > 0 {
		multiplier *= p.Multiplier / 2.0
	}
	delay := time.Duration(float64(p.BaseDelay) * multiplier)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter && delay > 0 {
		// Uniform jitter desynchronizes concurrent retriers.
		delay = time.Duration(rand.Int63n(int64(delay) + 1)) // #nosec G404 -- jitter does not need crypto randomness
	}

	return delay
}

// ShouldRetry reports whether a failure with the given classification is
// worth another attempt against the same provider. Rate limits are handled
// by the caller through credential rotation, not the delay schedule, so
// they are excluded here.
func (p Policy) ShouldRetry(attempt int, code types.ErrorCode) bool {
	if attempt >= p.MaxAttempts {
		return false
	}

	switch code {
	case types.ErrCodeTimeout, types.ErrCodeNetwork, types.ErrCodeServerError, types.ErrCodeUnknown:
		return true
	}
	return false
}
