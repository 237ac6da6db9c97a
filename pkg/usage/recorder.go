// Package usage provides thread-safe request/error counters per provider
// and per credential, with point-in-time snapshots computed on demand.
package usage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// Recorder collects per-provider and per-credential usage counters.
// Counters are atomics so the hot path never takes the recorder lock;
// the mutex only guards registration and last-used timestamps.
type Recorder struct {
	mu        sync.RWMutex
	providers map[string]*providerCounters

	totalRequests  atomic.Int64
	totalSuccesses atomic.Int64
	totalFailures  atomic.Int64
}

type providerCounters struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64

	credentials map[string]*credentialCounters
}

type credentialCounters struct {
	requests atomic.Int64
	errors   atomic.Int64

	mu       sync.Mutex
	lastUsed time.Time
}

// NewRecorder creates an empty usage recorder
func NewRecorder() *Recorder {
	return &Recorder{
		providers: make(map[string]*providerCounters),
	}
}

// Register pre-creates counters for a provider's credentials so recording
// never mutates the maps concurrently
func (r *Recorder) Register(provider string, credentialLabels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[provider]
	if !ok {
		p = &providerCounters{credentials: make(map[string]*credentialCounters)}
		r.providers[provider] = p
	}
	for _, label := range credentialLabels {
		if _, ok := p.credentials[label]; !ok {
			p.credentials[label] = &credentialCounters{}
		}
	}
}

func (r *Recorder) lookup(provider, label string) (*providerCounters, *credentialCounters) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[provider]
	if !ok {
		return nil, nil
	}
	return p, p.credentials[label]
}

// RecordSuccess records a successful call served by the given credential
func (r *Recorder) RecordSuccess(provider, credentialLabel string) {
	p, c := r.lookup(provider, credentialLabel)
	if p == nil {
		return
	}

	r.totalRequests.Add(1)
	r.totalSuccesses.Add(1)
	p.requests.Add(1)
	p.successes.Add(1)

	if c != nil {
		c.requests.Add(1)
		c.touch()
	}
}

// RecordFailure records a failed call attempted with the given credential
func (r *Recorder) RecordFailure(provider, credentialLabel string) {
	p, c := r.lookup(provider, credentialLabel)
	if p == nil {
		return
	}

	r.totalRequests.Add(1)
	r.totalFailures.Add(1)
	p.requests.Add(1)
	p.failures.Add(1)

	if c != nil {
		c.requests.Add(1)
		c.errors.Add(1)
		c.touch()
	}
}

func (c *credentialCounters) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Snapshot computes an aggregated point-in-time view of all counters.
// Credential state fields are filled in by the orchestrator, which owns the
// pools; the recorder only knows counts.
func (r *Recorder) Snapshot() types.UsageSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := types.UsageSnapshot{
		Timestamp: time.Now(),
		Requests:  r.totalRequests.Load(),
		Successes: r.totalSuccesses.Load(),
		Failures:  r.totalFailures.Load(),
		Providers: make(map[string]types.ProviderUsage, len(r.providers)),
	}

	for name, p := range r.providers {
		pu := types.ProviderUsage{
			Requests:    p.requests.Load(),
			Successes:   p.successes.Load(),
			Failures:    p.failures.Load(),
			Credentials: make([]types.CredentialUsage, 0, len(p.credentials)),
		}
		for label, c := range p.credentials {
			c.mu.Lock()
			lastUsed := c.lastUsed
			c.mu.Unlock()
			pu.Credentials = append(pu.Credentials, types.CredentialUsage{
				Label:    label,
				Requests: c.requests.Load(),
				Errors:   c.errors.Load(),
				LastUsed: lastUsed,
			})
		}
		snap.Providers[name] = pu
	}
	return snap
}
