package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/breaker"
	"github.com/quotedesk/ai-orchestrator/pkg/credential"
	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// Health is one provider's operational condition as reported by HealthCheck
type Health struct {
	Status              types.HealthStatus `json:"status"`
	Breaker             string             `json:"breaker"`
	EligibleCredentials int                `json:"eligible_credentials"`
	TotalCredentials    int                `json:"total_credentials"`
	ProbeError          string             `json:"probe_error,omitempty"`
}

// HealthCheck reports the condition of every provider without touching the
// network. A provider is down when its circuit is open or no credential is
// eligible; degraded when the circuit is half-open, some credentials are
// ineligible, or the background probe last failed; otherwise ok.
func (o *Orchestrator) HealthCheck() map[string]Health {
	out := make(map[string]Health, len(o.providers))
	for name, p := range o.providers {
		state := p.breaker.State()

		eligible := 0
		for _, st := range p.pool.Snapshot() {
			if st.State == credential.StateActive {
				eligible++
			}
		}

		h := Health{
			Breaker:             state.String(),
			EligibleCredentials: eligible,
			TotalCredentials:    p.pool.Size(),
		}
		if o.probe != nil {
			h.ProbeError = o.probe.lastError(name)
		}

		switch {
		case state == breaker.StateOpen || eligible == 0:
			h.Status = types.HealthDown
		case state == breaker.StateHalfOpen || eligible < h.TotalCredentials || h.ProbeError != "":
			h.Status = types.HealthDegraded
		default:
			h.Status = types.HealthOK
		}
		out[name] = h
	}
	return out
}

// HealthProbe periodically pings every provider with one eligible credential.
// It is read-only with respect to routing state: probe outcomes are reported
// through HealthCheck but never touch breakers, pools, or usage counters.
type HealthProbe struct {
	o        *Orchestrator
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	lastErr map[string]string

	stop chan struct{}
	done chan struct{}
}

// probeTimeout bounds a single ping
const probeTimeout = 10 * time.Second

// StartHealthProbe launches the background probe loop. Providers are probed
// on every interval tick until Stop is called. Calling it twice returns the
// already-running probe.
func (o *Orchestrator) StartHealthProbe(interval time.Duration) *HealthProbe {
	if o.probe != nil {
		return o.probe
	}
	hp := &HealthProbe{
		o:        o,
		interval: interval,
		timeout:  probeTimeout,
		lastErr:  make(map[string]string),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.probe = hp
	go hp.run()
	return hp
}

// Stop halts the probe loop and waits for it to exit
func (hp *HealthProbe) Stop() {
	select {
	case <-hp.stop:
	default:
		close(hp.stop)
	}
	<-hp.done
}

func (hp *HealthProbe) run() {
	defer close(hp.done)

	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hp.probeAll()
		case <-hp.stop:
			return
		}
	}
}

func (hp *HealthProbe) probeAll() {
	for name, p := range hp.o.providers {
		hp.record(name, hp.probeOne(p))
	}
}

// probeOne pings the provider with its first eligible credential. It uses
// FirstEligible rather than NextCandidate so probing does not advance the
// round-robin cursor that serves real requests.
func (hp *HealthProbe) probeOne(p *Provider) error {
	cred, ok := p.pool.FirstEligible()
	if !ok {
		return types.NewUnavailableError(p.name, "no eligible credentials")
	}

	ctx, cancel := context.WithTimeout(context.Background(), hp.timeout)
	defer cancel()
	return p.transport.Ping(ctx, cred)
}

func (hp *HealthProbe) record(name string, err error) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if err == nil {
		delete(hp.lastErr, name)
		return
	}
	if _, alreadyFailing := hp.lastErr[name]; !alreadyFailing {
		log.Printf("[HealthProbe] %s: probe failed: %v", name, err)
	}
	hp.lastErr[name] = err.Error()
}

func (hp *HealthProbe) lastError(name string) string {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return hp.lastErr[name]
}
