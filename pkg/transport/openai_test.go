package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/ai-orchestrator/pkg/credential"
	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

func testRequest() types.Request {
	return types.Request{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "You are a quoting assistant."},
			{Role: types.RoleUser, Content: "Summarize this RFQ."},
		},
		MaxTokens:   256,
		Temperature: 0.2,
	}
}

func TestOpenAI_Send_Success(t *testing.T) {
	var gotAuth string
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "qwen/qwen3-coder",
			"choices": [{"message": {"role": "assistant", "content": "Summary here."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL, DefaultModel: "qwen/qwen3-coder"})
	cred := credential.New("openrouter", "openrouter:key_1", "sk-or-test")

	resp, err := tr.Send(context.Background(), cred, testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-or-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Summary here.", resp.Content)
	assert.Equal(t, "openrouter", resp.Provider)
	assert.Equal(t, "openrouter:key_1", resp.CredentialLabel)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestOpenAI_Send_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		body       string
		expectCode types.ErrorCode
		retryAfter int
	}{
		{
			name:       "401 maps to authentication",
			status:     http.StatusUnauthorized,
			body:       `{"error": {"message": "invalid api key"}}`,
			expectCode: types.ErrCodeAuthentication,
		},
		{
			name:       "429 maps to rate limit with retry-after",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "30"},
			body:       `{"error": {"message": "rate limit exceeded"}}`,
			expectCode: types.ErrCodeRateLimit,
			retryAfter: 30,
		},
		{
			name:       "500 maps to server error",
			status:     http.StatusInternalServerError,
			body:       `{"error": {"message": "internal"}}`,
			expectCode: types.ErrCodeServerError,
		},
		{
			name:       "400 maps to invalid request",
			status:     http.StatusBadRequest,
			body:       `{"error": {"message": "bad payload"}}`,
			expectCode: types.ErrCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL})
			cred := credential.New("openrouter", "openrouter:key_1", "sk-or-test")

			_, err := tr.Send(context.Background(), cred, testRequest())
			require.Error(t, err)

			var perr *types.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.expectCode, perr.Code)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.retryAfter, perr.RetryAfter)

			// Upstream error text stays on the wrapped error, never in the
			// classified message.
			assert.NotContains(t, perr.Message, "invalid api key")
		})
	}
}

func TestOpenAI_Send_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL})
	cred := credential.New("openrouter", "openrouter:key_1", "sk-or-test")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, cred, testRequest())
	require.Error(t, err)

	var perr *types.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, types.ErrCodeTimeout, perr.Code)
}

func TestOpenAI_Send_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL})
	cred := credential.New("openrouter", "openrouter:key_1", "sk-or-test")

	_, err := tr.Send(context.Background(), cred, testRequest())
	require.Error(t, err)

	var perr *types.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, types.ErrCodeUnknown, perr.Code)
}

func TestOpenAI_Ping(t *testing.T) {
	t.Run("healthy endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			_, _ = w.Write([]byte(`{"data": []}`))
		}))
		defer server.Close()

		tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL})
		cred := credential.New("openrouter", "openrouter:key_1", "sk-or-test")
		assert.NoError(t, tr.Ping(context.Background(), cred))
	})

	t.Run("auth rejection classified", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		tr := NewOpenAI(OpenAIConfig{Name: "openrouter", BaseURL: server.URL})
		cred := credential.New("openrouter", "openrouter:key_1", "sk-or-bad")

		err := tr.Ping(context.Background(), cred)
		var perr *types.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, types.ErrCodeAuthentication, perr.Code)
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("seconds value", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "42")
		assert.Equal(t, 42, parseRetryAfter(h))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, 0, parseRetryAfter(http.Header{}))
	})

	t.Run("http date value", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
		got := parseRetryAfter(h)
		assert.InDelta(t, 90, got, 2)
	})

	t.Run("garbage value", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "soon")
		assert.Equal(t, 0, parseRetryAfter(h))
	})
}

func TestLimiterRegistry(t *testing.T) {
	t.Run("zero rpm is a no-op", func(t *testing.T) {
		reg := newLimiterRegistry(0)
		assert.NoError(t, reg.wait(context.Background(), "any"))
		assert.Empty(t, reg.limiters)
	})

	t.Run("limiters are per credential label", func(t *testing.T) {
		reg := newLimiterRegistry(60)
		require.NoError(t, reg.wait(context.Background(), "openrouter:key_1"))
		require.NoError(t, reg.wait(context.Background(), "openrouter:key_2"))
		assert.Len(t, reg.limiters, 2)
	})

	t.Run("canceled context aborts the wait", func(t *testing.T) {
		reg := newLimiterRegistry(1)
		// Burn the burst allowance so the next wait must block.
		require.NoError(t, reg.wait(context.Background(), "openrouter:key_1"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, reg.wait(ctx, "openrouter:key_1"))
	})
}
