// Package types defines the shared types and interfaces for the AI orchestrator.
// It includes the normalized request/response formats, the transport capability
// interface, error classification, and introspection snapshots used across
// all orchestrator components.
package types

import (
	"context"
	"time"
)

// Message roles used in chat-style requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message in a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents a logical AI call as built by the application.
// The orchestrator treats it as opaque beyond the model override; prompt
// construction and response interpretation belong to the caller.
type Request struct {
	// Messages is the chat transcript to send.
	Messages []Message `json:"messages"`

	// Model overrides the provider's configured default model when set.
	Model string `json:"model,omitempty"`

	// Generation parameters
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage reports token consumption for a single completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized successful outcome of an orchestrated call.
// Provider and CredentialLabel identify which upstream served the request.
type Response struct {
	// RequestID is the orchestrator-assigned ID for the logical request.
	RequestID string `json:"request_id"`

	// Content is the assistant's reply text.
	Content string `json:"content"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// Provider is the name of the provider that served the request.
	Provider string `json:"provider"`

	// CredentialLabel identifies the credential used (e.g. "gemini:key_3").
	// The secret itself is never included.
	CredentialLabel string `json:"credential_label"`

	// Usage is the provider-reported token usage, if available.
	Usage Usage `json:"usage"`

	// Latency is the duration of the successful transport call.
	Latency time.Duration `json:"latency"`
}

// CredentialSource supplies the secret for a transport call. Static API keys
// and OAuth-refreshed tokens both satisfy this interface, so transports do
// not need to know how a credential is backed.
type CredentialSource interface {
	// Label returns the human-readable credential identity (never the secret).
	Label() string

	// Token returns the secret to authenticate with. OAuth-backed sources
	// may perform a refresh, so the call accepts a context.
	Token(ctx context.Context) (string, error)
}

// Transport is the per-provider capability to deliver a request upstream.
// Implementations classify their failures as *ProviderError so the
// orchestrator can route on the error code; any other error shape is
// treated as an unknown transient failure.
type Transport interface {
	// Name returns the provider name this transport serves.
	Name() string

	// Send delivers the request using the given credential and returns the
	// normalized response. The context carries the caller's deadline; an
	// abandoned caller must cancel the underlying call.
	Send(ctx context.Context, cred CredentialSource, req Request) (*Response, error)

	// Ping performs a low-cost reachability check with the given credential.
	// Used by the health probe; must not issue a billable completion.
	Ping(ctx context.Context, cred CredentialSource) error
}
