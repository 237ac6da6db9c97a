package types

import (
	"fmt"
	"strings"
	"time"
)

// ExhaustedError is returned when every provider in the trial order failed.
// It records which providers were tried and the last classified failure per
// provider, so the calling layer can build a user-facing message without
// ever seeing raw transport error text.
type ExhaustedError struct {
	// RequestID is the orchestrator-assigned ID for the logical request.
	RequestID string

	// Tried lists the providers in the order they were attempted.
	Tried []string

	// LastFailures maps provider name to the last classified failure
	// observed for that provider during this request.
	LastFailures map[string]*ProviderError
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Tried))
	for _, provider := range e.Tried {
		if failure, ok := e.LastFailures[provider]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", provider, failure.Code))
		} else {
			parts = append(parts, provider)
		}
	}
	return fmt.Sprintf("all providers exhausted (%s)", strings.Join(parts, ", "))
}

// Code returns the terminal classification for an exhausted request
func (e *ExhaustedError) Code() ErrorCode {
	return ErrCodeExhausted
}

// HealthStatus summarizes a provider's operational condition.
type HealthStatus string

const (
	// HealthOK means the circuit is closed and credentials are eligible.
	HealthOK HealthStatus = "ok"

	// HealthDegraded means the provider is usable but impaired: circuit
	// half-open, some credentials ineligible, or a failing probe.
	HealthDegraded HealthStatus = "degraded"

	// HealthDown means the provider cannot serve requests: circuit open
	// or no eligible credentials remain.
	HealthDown HealthStatus = "down"
)

// CredentialUsage is a point-in-time view of one credential's counters.
type CredentialUsage struct {
	Label             string    `json:"label"`
	State             string    `json:"state"`
	Requests          int64     `json:"requests"`
	Errors            int64     `json:"errors"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastUsed          time.Time `json:"last_used,omitempty"`
}

// ProviderUsage aggregates one provider's counters and its credentials.
type ProviderUsage struct {
	Requests    int64             `json:"requests"`
	Successes   int64             `json:"successes"`
	Failures    int64             `json:"failures"`
	Credentials []CredentialUsage `json:"credentials"`
}

// UsageSnapshot is an aggregated, point-in-time read of all credential and
// provider counters. It is computed on demand and never stored, so counts
// have a single source of truth.
type UsageSnapshot struct {
	Timestamp time.Time                `json:"timestamp"`
	Requests  int64                    `json:"requests"`
	Successes int64                    `json:"successes"`
	Failures  int64                    `json:"failures"`
	Providers map[string]ProviderUsage `json:"providers"`
}
