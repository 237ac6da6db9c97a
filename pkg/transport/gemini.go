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

// AuthStyle selects how a Gemini credential is presented on the wire
type AuthStyle string

const (
	// AuthStyleAPIKey sends the secret in the x-goog-api-key header
	AuthStyleAPIKey AuthStyle = "api_key"
	// AuthStyleBearer sends the secret as an OAuth bearer token
	AuthStyleBearer AuthStyle = "bearer"
)

// GeminiConfig configures the Gemini transport
type GeminiConfig struct {
	// Name is the provider name reported in outcomes. Defaults to "gemini".
	Name string

	// BaseURL is the API root, e.g.
	// "https://generativelanguage.googleapis.com".
	BaseURL string

	// DefaultModel is used when the request does not override the model.
	DefaultModel string

	// AuthStyle selects API-key or OAuth bearer authentication.
	// Defaults to AuthStyleAPIKey.
	AuthStyle AuthStyle

	// Timeout bounds a single upstream call. Zero means 60s.
	Timeout time.Duration

	// RateLimitRPM enables client-side throttling per credential.
	// Zero disables it.
	RateLimitRPM int
}

// Gemini implements types.Transport for the Gemini generateContent API
type Gemini struct {
	cfg      GeminiConfig
	client   *http.Client
	limiters *limiterRegistry
}

// NewGemini creates a Gemini transport
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.AuthStyle == "" {
		cfg.AuthStyle = AuthStyleAPIKey
	}
	return &Gemini{
		cfg:      cfg,
		client:   newHTTPClient(cfg.Timeout),
		limiters: newLimiterRegistry(cfg.RateLimitRPM),
	}
}

// Name returns the provider name this transport serves
func (t *Gemini) Name() string {
	return t.cfg.Name
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// buildGenerateRequest converts the normalized chat request to Gemini's
// contents format. System messages become the systemInstruction; assistant
// messages map to the "model" role.
func buildGenerateRequest(req types.Request) geminiGenerateRequest {
	out := geminiGenerateRequest{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleSystem:
			out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
		case types.RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	if req.MaxTokens > 0 || req.Temperature > 0 {
		out.GenerationConfig = &struct {
			MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
			Temperature     float64 `json:"temperature,omitempty"`
		}{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return out
}

func (t *Gemini) authorize(httpReq *http.Request, token string) {
	if t.cfg.AuthStyle == AuthStyleBearer {
		httpReq.Header.Set("Authorization", "Bearer "+token)
		return
	}
	httpReq.Header.Set("x-goog-api-key", token)
}

// Send delivers a generateContent request upstream
func (t *Gemini) Send(ctx context.Context, cred types.CredentialSource, req types.Request) (*types.Response, error) {
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

	body, err := json.Marshal(buildGenerateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.authorize(httpReq, token)

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, t.cfg.Name, err).WithOperation("generate_content")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewNetworkError(t.cfg.Name, "failed to read response body").
			WithOriginalErr(err).WithOperation("generate_content")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(t.cfg.Name, resp.StatusCode, respBody, resp.Header).WithOperation("generate_content")
	}

	var parsed geminiGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, types.NewProviderError(t.cfg.Name, types.ErrCodeUnknown, "malformed response body").
			WithOriginalErr(err).WithOperation("generate_content")
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, types.NewProviderError(t.cfg.Name, types.ErrCodeUnknown, "response contained no candidates").
			WithOperation("generate_content")
	}

	var content string
	for _, part := range parsed.Candidates[0].Content.Parts {
		content += part.Text
	}

	return &types.Response{
		Content:         content,
		Model:           model,
		Provider:        t.cfg.Name,
		CredentialLabel: cred.Label(),
		Usage: types.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
		Latency: time.Since(start),
	}, nil
}

// Ping checks reachability and credential validity via the models listing
func (t *Gemini) Ping(ctx context.Context, cred types.CredentialSource) error {
	token, err := cred.Token(ctx)
	if err != nil {
		return types.NewAuthError(t.cfg.Name, "credential token unavailable").WithOriginalErr(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.authorize(httpReq, token)

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
