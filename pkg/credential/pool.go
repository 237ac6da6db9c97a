package credential

import (
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// DefaultCooldown is how long a rate-limited credential sits out before
// becoming eligible again. Fixed rather than exponential: provider rate
// windows are typically fixed-size.
const DefaultCooldown = 60 * time.Second

// Pool owns the ordered set of credentials for one provider and decides
// which credential to try next. Selection order is a round-robin over a
// pre-shuffled copy of the configured order; the shuffle is computed once
// at construction so the first-configured key gets no systematic bias.
type Pool struct {
	provider string
	cooldown time.Duration
	creds    []*Credential
	next     atomic.Uint32
}

// NewPool creates a pool for the named provider. The credential order is
// shuffled once here; a cooldown of zero falls back to DefaultCooldown.
// Returns nil if no credentials are supplied.
func NewPool(provider string, creds []*Credential, cooldown time.Duration) *Pool {
	if len(creds) == 0 {
		return nil
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	shuffled := make([]*Credential, len(creds))
	copy(shuffled, creds)
	rand.Shuffle(len(shuffled), func(i, j int) { // #nosec G404 -- fairness shuffle, not security
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return &Pool{
		provider: provider,
		cooldown: cooldown,
		creds:    shuffled,
	}
}

// Provider returns the provider name this pool serves
func (p *Pool) Provider() string {
	return p.provider
}

// Size returns the total number of credentials, including ineligible ones
func (p *Pool) Size() int {
	return len(p.creds)
}

// NextCandidate returns the next eligible credential in round-robin order.
// It returns false when every credential is disabled or still cooling down;
// callers treat that as the whole provider being unavailable for this
// request. O(pool size) worst case, acceptable for pools of tens of keys.
func (p *Pool) NextCandidate() (*Credential, bool) {
	n := uint32(len(p.creds)) // #nosec G115 -- pool sizes are small
	start := p.next.Add(1)
	now := time.Now()

	for i := uint32(0); i < n; i++ {
		c := p.creds[(start+i)%n]
		c.mu.Lock()
		eligible := c.eligibleLocked(now)
		c.mu.Unlock()
		if eligible {
			return c, true
		}
	}
	return nil, false
}

// FirstEligible returns an eligible credential without advancing the
// round-robin cursor. Used by the health probe so probing does not perturb
// selection fairness.
func (p *Pool) FirstEligible() (*Credential, bool) {
	now := time.Now()
	for _, c := range p.creds {
		c.mu.Lock()
		eligible := c.eligibleLocked(now)
		c.mu.Unlock()
		if eligible {
			return c, true
		}
	}
	return nil, false
}

// HasEligible reports whether at least one credential may be selected
func (p *Pool) HasEligible() bool {
	_, ok := p.FirstEligible()
	return ok
}

// RecordSuccess resets the credential's consecutive-error counter and
// increments its request counter
func (p *Pool) RecordSuccess(c *Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.consecutiveErrors = 0
}

// RecordFailure records a classified failure against the credential.
// Rate limits start the fixed cooldown; authentication failures disable the
// credential permanently and are logged loudly since they silently shrink
// capacity; anything else only bumps the consecutive-error counter.
func (p *Pool) RecordFailure(c *Credential, code types.ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	c.errors++
	c.consecutiveErrors++

	switch code {
	case types.ErrCodeRateLimit:
		c.state = StateRateLimited
		c.rateLimitedUntil = time.Now().Add(p.cooldown)
		log.Printf("[CredentialPool] %s: rate limited, cooling down for %v", c.label, p.cooldown)
	case types.ErrCodeAuthentication:
		if c.state != StateDisabled {
			c.state = StateDisabled
			log.Printf("[CredentialPool] ALERT: %s: authentication rejected, credential disabled permanently; pool capacity for %s reduced to %d, operator action required",
				c.label, p.provider, p.eligibleCount())
		}
	}
}

// eligibleCount counts eligible credentials for the disable alert. The
// caller already holds the lock of the credential being disabled, so that
// one is skipped rather than re-locked.
func (p *Pool) eligibleCount() int {
	now := time.Now()
	count := 0
	for _, other := range p.creds {
		if other.mu.TryLock() {
			if other.eligibleLocked(now) {
				count++
			}
			other.mu.Unlock()
		}
	}
	return count
}

// Snapshot returns the status of every credential in configured pool order
func (p *Pool) Snapshot() []Status {
	statuses := make([]Status, 0, len(p.creds))
	for _, c := range p.creds {
		statuses = append(statuses, c.Status())
	}
	return statuses
}
