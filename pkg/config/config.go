// Package config provides YAML configuration loading for the orchestrator:
// the provider list, their credentials, and the routing/retry/breaker
// tuning knobs. Configuration is loaded once at process start; there is no
// dynamic credential reload.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider type identifiers accepted in configuration
const (
	ProviderTypeGemini = "gemini"
	ProviderTypeOpenAI = "openai"
)

// Duration wraps time.Duration so YAML values like "60s" parse naturally
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete orchestrator configuration
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Providers    []ProviderConfig   `yaml:"providers"`
}

// OrchestratorConfig holds routing, retry, and breaker tuning
type OrchestratorConfig struct {
	// PreferredProvider is tried first when the caller states no
	// preference of its own. Empty means randomized order.
	PreferredProvider string `yaml:"preferred_provider,omitempty"`

	// Retry schedule
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
	BaseDelay   Duration `yaml:"base_delay,omitempty"`
	MaxDelay    Duration `yaml:"max_delay,omitempty"`
	Jitter      *bool    `yaml:"jitter,omitempty"`

	// Circuit breaker thresholds
	BreakerFailureThreshold int      `yaml:"breaker_failure_threshold,omitempty"`
	BreakerOpenDuration     Duration `yaml:"breaker_open_duration,omitempty"`

	// RateLimitCooldown is how long a rate-limited credential sits out.
	RateLimitCooldown Duration `yaml:"rate_limit_cooldown,omitempty"`

	// HealthProbeInterval is how often each provider is pinged.
	// Zero disables the probe.
	HealthProbeInterval Duration `yaml:"health_probe_interval,omitempty"`
}

// ProviderConfig describes one upstream provider and its credentials
type ProviderConfig struct {
	// Name identifies the provider in routing and stats (e.g. "gemini").
	Name string `yaml:"name"`

	// Type selects the transport implementation: "gemini" or "openai".
	Type string `yaml:"type"`

	// BaseURL overrides the transport's default API root.
	BaseURL string `yaml:"base_url,omitempty"`

	// DefaultModel is used when a request does not name a model.
	DefaultModel string `yaml:"default_model,omitempty"`

	// AuthStyle is passed to the Gemini transport ("api_key" or "bearer").
	AuthStyle string `yaml:"auth_style,omitempty"`

	// RateLimitRPM enables client-side throttling per credential.
	RateLimitRPM int `yaml:"rate_limit_rpm,omitempty"`

	// APIKeys are the static credentials, in configured order.
	APIKeys []string `yaml:"api_keys,omitempty"`

	// OAuthCredentials are refresh-token credentials, usable alongside
	// or instead of static keys.
	OAuthCredentials []OAuthCredentialConfig `yaml:"oauth_credentials,omitempty"`
}

// OAuthCredentialConfig holds one set of refresh-token credentials
type OAuthCredentialConfig struct {
	ID           string   `yaml:"id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	RefreshToken string   `yaml:"refresh_token"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// CredentialCount returns the total number of credentials configured for
// the provider
func (p ProviderConfig) CredentialCount() int {
	return len(p.APIKeys) + len(p.OAuthCredentials)
}

// Load reads and validates configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for operator mistakes
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case ProviderTypeGemini, ProviderTypeOpenAI:
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}

		if p.CredentialCount() == 0 {
			return fmt.Errorf("provider %q: at least one credential is required", p.Name)
		}

		for j, oc := range p.OAuthCredentials {
			if oc.RefreshToken == "" || oc.TokenURL == "" {
				return fmt.Errorf("provider %q: oauth credential %d: refresh_token and token_url are required", p.Name, j)
			}
		}
	}

	if pref := c.Orchestrator.PreferredProvider; pref != "" && !seen[pref] {
		return fmt.Errorf("preferred provider %q is not configured", pref)
	}

	if c.Orchestrator.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}

	return nil
}
