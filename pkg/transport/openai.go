package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// OpenAIConfig configures an OpenAI-compatible chat transport. OpenRouter,
// OpenAI itself, and most aggregators share this wire format.
type OpenAIConfig struct {
	// Name is the provider name reported in outcomes (e.g. "openrouter").
	Name string

	// BaseURL is the API root, e.g. "https://openrouter.ai/api/v1".
	BaseURL string

	// DefaultModel is used when the request does not override the model.
	DefaultModel string

	// Timeout bounds a single upstream call. Zero means 60s.
	Timeout time.Duration

	// RateLimitRPM enables client-side throttling per credential.
	// Zero disables it.
	RateLimitRPM int
}

// OpenAI is an OpenAI-compatible implementation of types.Transport
type OpenAI struct {
	cfg      OpenAIConfig
	client   *http.Client
	limiters *limiterRegistry
}

// NewOpenAI creates an OpenAI-compatible transport
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openrouter"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenAI{
		cfg:      cfg,
		client:   newHTTPClient(cfg.Timeout),
		limiters: newLimiterRegistry(cfg.RateLimitRPM),
	}
}

// Name returns the provider name this transport serves
func (t *OpenAI) Name() string {
	return t.cfg.Name
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Send delivers a chat completion request upstream
func (t *OpenAI) Send(ctx context.Context, cred types.CredentialSource, req types.Request) (*types.Response, error) {
	if err := t.limiters.wait(ctx, cred.Label()); err != nil {
		return nil, types.NewTimeoutError(t.cfg.Name, "canceled waiting for client-side rate limiter").WithOriginalErr(err)
	}

	token, err := cred.Token(ctx)
	if err != nil {
		return nil, types.NewAuthError(t.cfg.Name, "credential token unavailable").WithOriginalErr(err)
	}

	model := req.Model
	if model == "" {
		model = t.cfg.DefaultModel
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, t.cfg.Name, err).WithOperation("chat_completion")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewNetworkError(t.cfg.Name, "failed to read response body").
			WithOriginalErr(err).WithOperation("chat_completion")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(t.cfg.Name, resp.StatusCode, respBody, resp.Header).WithOperation("chat_completion")
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, types.NewProviderError(t.cfg.Name, types.ErrCodeUnknown, "malformed response body").
			WithOriginalErr(err).WithOperation("chat_completion")
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewProviderError(t.cfg.Name, types.ErrCodeUnknown, "response contained no choices").
			WithOperation("chat_completion")
	}

	return &types.Response{
		Content:         parsed.Choices[0].Message.Content,
		Model:           parsed.Model,
		Provider:        t.cfg.Name,
		CredentialLabel: cred.Label(),
		Usage: types.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Ping checks reachability and credential validity via the models listing,
// which is free and cheap on OpenAI-compatible APIs
func (t *OpenAI) Ping(ctx context.Context, cred types.CredentialSource) error {
	token, err := cred.Token(ctx)
	if err != nil {
		return types.NewAuthError(t.cfg.Name, "credential token unavailable").WithOriginalErr(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(ctx, t.cfg.Name, err).WithOperation("ping")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyResponse(t.cfg.Name, resp.StatusCode, body, resp.Header).WithOperation("ping")
	}
	return nil
}
