// Package orchestrator is the single entry point the application calls to
// execute an AI request. It owns provider routing, credential selection,
// retry with exponential backoff, circuit breaking, and provider fallback,
// so callers see one Execute call and one classified outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/quotedesk/ai-orchestrator/pkg/breaker"
	"github.com/quotedesk/ai-orchestrator/pkg/credential"
	"github.com/quotedesk/ai-orchestrator/pkg/retry"
	"github.com/quotedesk/ai-orchestrator/pkg/types"
	"github.com/quotedesk/ai-orchestrator/pkg/usage"
)

// Provider bundles one upstream's transport, credential pool, and circuit
// breaker. The orchestrator is the only component that touches all three.
type Provider struct {
	name      string
	transport types.Transport
	pool      *credential.Pool
	breaker   *breaker.Breaker
}

// NewProvider assembles a provider from its parts. A nil breaker gets the
// default thresholds.
func NewProvider(transport types.Transport, pool *credential.Pool, b *breaker.Breaker) *Provider {
	if b == nil {
		b = breaker.New(transport.Name(), breaker.DefaultConfig())
	}
	return &Provider{
		name:      transport.Name(),
		transport: transport,
		pool:      pool,
		breaker:   b,
	}
}

// Name returns the provider's routing name
func (p *Provider) Name() string {
	return p.name
}

// Options configures orchestrator-level behavior
type Options struct {
	// PreferredProvider is tried first when the caller passes no preference.
	PreferredProvider string

	// Retry is the per-provider backoff schedule. The zero value falls back
	// to retry.DefaultPolicy.
	Retry retry.Policy
}

// Orchestrator routes requests across providers. Safe for concurrent use;
// a single instance is shared by all request handlers.
type Orchestrator struct {
	providers map[string]*Provider
	names     []string
	preferred string
	policy    retry.Policy
	recorder  *usage.Recorder

	probe *HealthProbe
}

// New creates an orchestrator over the given providers
func New(providers []*Provider, opts Options) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	o := &Orchestrator{
		providers: make(map[string]*Provider, len(providers)),
		names:     make([]string, 0, len(providers)),
		preferred: opts.PreferredProvider,
		policy:    policy,
		recorder:  usage.NewRecorder(),
	}

	for _, p := range providers {
		if p.pool == nil {
			return nil, fmt.Errorf("provider %q has no credentials", p.name)
		}
		if _, dup := o.providers[p.name]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.name)
		}
		o.providers[p.name] = p
		o.names = append(o.names, p.name)

		labels := make([]string, 0, p.pool.Size())
		for _, st := range p.pool.Snapshot() {
			labels = append(labels, st.Label)
		}
		o.recorder.Register(p.name, labels)
	}

	if o.preferred != "" {
		if _, ok := o.providers[o.preferred]; !ok {
			return nil, fmt.Errorf("preferred provider %q is not registered", o.preferred)
		}
	}

	return o, nil
}

// Execute runs a request through the provider chain and returns the first
// successful response. preferred overrides the configured preferred provider
// for this call; empty means use the configured one.
//
// Failures come back classified: a *types.ProviderError for a terminal
// single-provider outcome (invalid request, caller deadline), or a
// *types.ExhaustedError when every provider failed.
func (o *Orchestrator) Execute(ctx context.Context, req types.Request, preferred string) (*types.Response, error) {
	reqID := uuid.NewString()
	if preferred == "" {
		preferred = o.preferred
	}

	order := o.trialOrder(preferred)
	tried := make([]string, 0, len(order))
	lastFailures := make(map[string]*types.ProviderError, len(order))

	for _, name := range order {
		p := o.providers[name]

		resp, perr := o.tryProvider(ctx, p, req, reqID)
		if perr == nil {
			resp.RequestID = reqID
			return resp, nil
		}

		tried = append(tried, name)
		lastFailures[name] = perr

		// A request the provider rejected as malformed will not fare better
		// elsewhere; surface it to the caller directly.
		if perr.Code == types.ErrCodeInvalidRequest {
			return nil, perr
		}

		// Once the caller's deadline is gone there is no budget left for
		// another provider.
		if ctx.Err() != nil {
			if perr.Code == types.ErrCodeTimeout {
				return nil, perr
			}
			return nil, types.NewTimeoutError(name, "request deadline exceeded").
				WithOriginalErr(ctx.Err()).
				WithRequestID(reqID)
		}
	}

	log.Printf("[Orchestrator] request %s: all providers exhausted, tried %v", reqID, tried)
	return nil, &types.ExhaustedError{
		RequestID:    reqID,
		Tried:        tried,
		LastFailures: lastFailures,
	}
}

// trialOrder returns the providers to try, in order. The base order is
// shuffled per request so fallback load spreads evenly; the preferred
// provider moves to the front unless its circuit is open, in which case it
// keeps its shuffled slot and the breaker decides when it is called.
func (o *Orchestrator) trialOrder(preferred string) []string {
	order := make([]string, len(o.names))
	copy(order, o.names)
	rand.Shuffle(len(order), func(i, j int) { // #nosec G404 -- load spreading, not security
		order[i], order[j] = order[j], order[i]
	})

	if p, ok := o.providers[preferred]; ok && p.breaker.State() != breaker.StateOpen {
		for i, name := range order {
			if name == preferred {
				order[0], order[i] = order[i], order[0]
				break
			}
		}
	}
	return order
}

// tryProvider runs the attempt loop against a single provider: breaker
// admission, credential selection, the transport call, outcome recording,
// and the backoff schedule. It returns the response on success or the last
// classified failure once the provider is given up on.
func (o *Orchestrator) tryProvider(ctx context.Context, p *Provider, req types.Request, reqID string) (*types.Response, *types.ProviderError) {
	attempt := 1
	for {
		ok, probe := p.breaker.Allow()
		if !ok {
			return nil, types.NewUnavailableError(p.name, "circuit breaker open").WithRequestID(reqID)
		}

		cred, found := p.pool.NextCandidate()
		if !found {
			// No transport call happened, so an acquired probe slot is
			// released rather than settled. An empty pool is a pool-level
			// condition and never counts as a breaker failure.
			if probe {
				p.breaker.CancelProbe()
			}
			return nil, types.NewUnavailableError(p.name, "no eligible credentials").WithRequestID(reqID)
		}

		resp, err := p.transport.Send(ctx, cred, req)
		if err == nil {
			p.breaker.RecordSuccess()
			p.pool.RecordSuccess(cred)
			o.recorder.RecordSuccess(p.name, cred.Label())
			return resp, nil
		}

		perr := classifyFailure(p.name, err).WithRequestID(reqID)
		p.pool.RecordFailure(cred, perr.Code)
		o.recorder.RecordFailure(p.name, cred.Label())

		switch perr.Code {
		case types.ErrCodeRateLimit, types.ErrCodeAuthentication:
			// Credential-level rejections say nothing about provider
			// health: the pool has already cooled down or disabled the
			// credential, so rotate to the next one immediately. These do
			// not consume the retry budget and never count against the
			// breaker.
			if probe {
				p.breaker.CancelProbe()
			}
			continue
		case types.ErrCodeInvalidRequest:
			if probe {
				p.breaker.CancelProbe()
			}
			return nil, perr
		}

		p.breaker.RecordFailure()

		if probe {
			// The failed probe just re-opened the circuit; further attempts
			// here would only bounce off it.
			return nil, perr
		}
		if !o.policy.ShouldRetry(attempt, perr.Code) {
			return nil, perr
		}

		delay := o.policy.Delay(attempt)
		log.Printf("[Orchestrator] request %s: %s attempt %d failed (%s), retrying in %v",
			reqID, p.name, attempt, perr.Code, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, types.NewTimeoutError(p.name, "request deadline exceeded during backoff").
				WithOriginalErr(ctx.Err()).
				WithRequestID(reqID)
		}
		attempt++
	}
}

// classifyFailure normalizes a transport failure into a *ProviderError.
// Transports already return classified errors; anything else is mapped by
// shape (context deadline, net timeout) and otherwise treated as unknown.
func classifyFailure(provider string, err error) *types.ProviderError {
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return types.NewProviderError(provider, types.Classify(err), "request failed").WithOriginalErr(err)
}

// Providers returns the registered provider names in registration order
func (o *Orchestrator) Providers() []string {
	out := make([]string, len(o.names))
	copy(out, o.names)
	return out
}

// Stats returns a point-in-time usage snapshot with current credential
// states merged in from the pools
func (o *Orchestrator) Stats() types.UsageSnapshot {
	snap := o.recorder.Snapshot()

	for name, p := range o.providers {
		pu, ok := snap.Providers[name]
		if !ok {
			continue
		}
		byLabel := make(map[string]credential.Status, p.pool.Size())
		for _, st := range p.pool.Snapshot() {
			byLabel[st.Label] = st
		}
		for i := range pu.Credentials {
			if st, ok := byLabel[pu.Credentials[i].Label]; ok {
				pu.Credentials[i].State = st.State.String()
				pu.Credentials[i].ConsecutiveErrors = st.ConsecutiveErrors
			}
		}
		snap.Providers[name] = pu
	}
	return snap
}
