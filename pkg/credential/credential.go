// Package credential provides per-provider credential pooling with health
// tracking and shuffled round-robin selection. Each credential tracks its
// own state (active, rate-limited, disabled) under a per-credential lock so
// unrelated credentials never serialize on each other.
package credential

import (
	"context"
	"sync"
	"time"
)

// State identifies a credential's health state
type State int

const (
	// StateActive means the credential is eligible for selection
	StateActive State = iota
	// StateRateLimited means the credential is cooling down until a deadline
	StateRateLimited
	// StateDisabled means the credential was permanently rejected (bad auth)
	StateDisabled
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRateLimited:
		return "rate_limited"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// TokenFunc produces the secret for a transport call. OAuth-backed
// credentials may refresh under the hood, so the call accepts a context.
type TokenFunc func(ctx context.Context) (string, error)

// Credential is one API key or token source belonging to a provider.
// Created once at startup from configuration, mutated on every invocation
// outcome, never deleted; permanent failures only mark it disabled.
type Credential struct {
	provider string
	label    string
	token    TokenFunc

	mu                sync.Mutex
	state             State
	rateLimitedUntil  time.Time
	consecutiveErrors int
	requests          int64
	errors            int64
}

// New creates a credential backed by a static API key
func New(provider, label, key string) *Credential {
	return NewWithTokenFunc(provider, label, func(context.Context) (string, error) {
		return key, nil
	})
}

// NewWithTokenFunc creates a credential backed by a dynamic token source,
// e.g. an OAuth refresh flow
func NewWithTokenFunc(provider, label string, token TokenFunc) *Credential {
	return &Credential{
		provider: provider,
		label:    label,
		token:    token,
		state:    StateActive,
	}
}

// Provider returns the owning provider's name
func (c *Credential) Provider() string {
	return c.provider
}

// Label returns the human-readable credential identity (never the secret)
func (c *Credential) Label() string {
	return c.label
}

// Token returns the secret to authenticate with
func (c *Credential) Token(ctx context.Context) (string, error) {
	return c.token(ctx)
}

// State returns the credential's current state, applying the lazy
// rate-limit expiry
func (c *Credential) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(time.Now())
	return c.state
}

// Status is a point-in-time view of one credential's state and counters
type Status struct {
	Label             string
	State             State
	RateLimitedUntil  time.Time
	Requests          int64
	Errors            int64
	ConsecutiveErrors int
}

// Status returns a snapshot of the credential's state and counters
func (c *Credential) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(time.Now())
	return Status{
		Label:             c.label,
		State:             c.state,
		RateLimitedUntil:  c.rateLimitedUntil,
		Requests:          c.requests,
		Errors:            c.errors,
		ConsecutiveErrors: c.consecutiveErrors,
	}
}

// refreshLocked applies the lazy RateLimited expiry: once the current time
// passes the cooldown deadline the credential becomes active again. There
// is no background timer; this runs at selection and inspection time.
// Callers must hold c.mu.
func (c *Credential) refreshLocked(now time.Time) {
	if c.state == StateRateLimited && !now.Before(c.rateLimitedUntil) {
		c.state = StateActive
		c.rateLimitedUntil = time.Time{}
	}
}

// eligibleLocked reports whether the credential may be selected.
// Callers must hold c.mu.
func (c *Credential) eligibleLocked(now time.Time) bool {
	c.refreshLocked(now)
	return c.state == StateActive
}
