package orchestrator

import (
	"fmt"

	"github.com/quotedesk/ai-orchestrator/pkg/breaker"
	"github.com/quotedesk/ai-orchestrator/pkg/config"
	"github.com/quotedesk/ai-orchestrator/pkg/credential"
	"github.com/quotedesk/ai-orchestrator/pkg/retry"
	"github.com/quotedesk/ai-orchestrator/pkg/transport"
	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// NewFromConfig assembles a complete orchestrator from configuration:
// transports, credential pools, breakers, and the retry schedule. When a
// health probe interval is configured the probe is started; the caller owns
// stopping it via StopHealthProbe on shutdown.
func NewFromConfig(cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Orchestrator.BreakerFailureThreshold,
		OpenDuration:     cfg.Orchestrator.BreakerOpenDuration.Std(),
	}

	providers := make([]*Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		tr, err := buildTransport(pc)
		if err != nil {
			return nil, err
		}

		pool := credential.NewPool(pc.Name, buildCredentials(pc), cfg.Orchestrator.RateLimitCooldown.Std())
		providers = append(providers, NewProvider(tr, pool, breaker.New(pc.Name, breakerCfg)))
	}

	policy := retry.DefaultPolicy()
	if cfg.Orchestrator.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Orchestrator.MaxAttempts
	}
	if d := cfg.Orchestrator.BaseDelay.Std(); d > 0 {
		policy.BaseDelay = d
	}
	if d := cfg.Orchestrator.MaxDelay.Std(); d > 0 {
		policy.MaxDelay = d
	}
	if cfg.Orchestrator.Jitter != nil {
		policy.Jitter = *cfg.Orchestrator.Jitter
	}

	o, err := New(providers, Options{
		PreferredProvider: cfg.Orchestrator.PreferredProvider,
		Retry:             policy,
	})
	if err != nil {
		return nil, err
	}

	if interval := cfg.Orchestrator.HealthProbeInterval.Std(); interval > 0 {
		o.StartHealthProbe(interval)
	}
	return o, nil
}

// StopHealthProbe stops the background probe if one is running
func (o *Orchestrator) StopHealthProbe() {
	if o.probe != nil {
		o.probe.Stop()
		o.probe = nil
	}
}

func buildTransport(pc config.ProviderConfig) (types.Transport, error) {
	switch pc.Type {
	case config.ProviderTypeGemini:
		return transport.NewGemini(transport.GeminiConfig{
			Name:         pc.Name,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			AuthStyle:    transport.AuthStyle(pc.AuthStyle),
			RateLimitRPM: pc.RateLimitRPM,
		}), nil
	case config.ProviderTypeOpenAI:
		return transport.NewOpenAI(transport.OpenAIConfig{
			Name:         pc.Name,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			RateLimitRPM: pc.RateLimitRPM,
		}), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", pc.Name, pc.Type)
	}
}

// buildCredentials turns a provider's configured keys and OAuth entries into
// labeled credentials. Labels carry the provider name and a stable suffix so
// logs and stats identify a credential without ever printing the secret.
func buildCredentials(pc config.ProviderConfig) []*credential.Credential {
	creds := make([]*credential.Credential, 0, pc.CredentialCount())

	for i, key := range pc.APIKeys {
		label := fmt.Sprintf("%s:key_%d", pc.Name, i+1)
		creds = append(creds, credential.New(pc.Name, label, key))
	}

	for i, oc := range pc.OAuthCredentials {
		id := oc.ID
		if id == "" {
			id = fmt.Sprintf("oauth_%d", i+1)
		}
		label := fmt.Sprintf("%s:%s", pc.Name, id)
		tokenFunc := transport.NewOAuthTokenFunc(transport.OAuthCredentialConfig{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			TokenURL:     oc.TokenURL,
			RefreshToken: oc.RefreshToken,
			Scopes:       oc.Scopes,
		})
		creds = append(creds, credential.NewWithTokenFunc(pc.Name, label, tokenFunc))
	}

	return creds
}
