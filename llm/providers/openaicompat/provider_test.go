package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/llm/providers"
	"github.com/BaSui01/structflow/llm/retry"
)

func schemaFormat() *llm.ResponseFormat {
	return &llm.ResponseFormat{
		Type: llm.ResponseFormatJSONSchema,
		JSONSchema: &llm.JSONSchemaFormat{
			Name:   "Person",
			Strict: true,
			Schema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"],"additionalProperties":false}`),
		},
	}
}

func completionServer(t *testing.T, handle func(w http.ResponseWriter, body providers.OpenAICompatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body providers.OpenAICompatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handle(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
		ID:      "cmpl-1",
		Model:   "gpt-test",
		Created: 1700000000,
		Choices: []providers.OpenAICompatChoice{{Index: 0, FinishReason: "stop", Message: providers.OpenAICompatMessage{Role: "assistant", Content: content}}},
		Usage:   &providers.OpenAICompatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{ProviderName: "test"}, nil)
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.Cfg.ModelsEndpoint)
	assert.Equal(t, 60*time.Second, p.Client.Timeout)
	assert.Equal(t, "test", p.Name())
	assert.NotNil(t, p.Logger)
}

func TestCompletion_SendsResponseFormat(t *testing.T) {
	var got providers.OpenAICompatRequest
	srv := completionServer(t, func(w http.ResponseWriter, body providers.OpenAICompatRequest) {
		got = body
		writeCompletion(w, `{"name":"Ada"}`)
	})

	p := New(Config{ProviderName: "openai", APIKey: "sk-test", BaseURL: srv.URL, FallbackModel: "gpt-test"}, zap.NewNop())
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "who?"}},
		Temperature:    0.2,
		ResponseFormat: schemaFormat(),
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, llm.ResponseFormatJSONSchema, got.ResponseFormat.Type)
	assert.Equal(t, "Person", got.ResponseFormat.JSONSchema.Name)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
	assert.JSONEq(t, string(schemaFormat().JSONSchema.Schema), string(got.ResponseFormat.JSONSchema.Schema))

	assert.Equal(t, `{"name":"Ada"}`, resp.Choices[0].Message.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, time.Unix(1700000000, 0), resp.CreatedAt)
}

func TestCompletion_NoResponseFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		writeCompletion(w, "hello")
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "x", BaseURL: srv.URL, DefaultModel: "m"}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.NotContains(t, raw, "response_format")
	assert.Equal(t, "m", raw["model"])
}

func TestCompletion_DowngradesForJSONObjectOnly(t *testing.T) {
	var got providers.OpenAICompatRequest
	srv := completionServer(t, func(w http.ResponseWriter, body providers.OpenAICompatRequest) {
		got = body
		writeCompletion(w, "{}")
	})

	p := New(Config{ProviderName: "deepseek", APIKey: "sk-test", BaseURL: srv.URL, JSONObjectOnly: true}, nil)
	req := &llm.ChatRequest{ResponseFormat: schemaFormat()}
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, llm.ResponseFormatJSONObject, got.ResponseFormat.Type)
	assert.Nil(t, got.ResponseFormat.JSONSchema)
	// the caller's request is not modified
	assert.Equal(t, llm.ResponseFormatJSONSchema, req.ResponseFormat.Type)
}

func TestCompletion_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		code      llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, llm.ErrUnauthorized, false},
		{http.StatusTooManyRequests, `{"error":{"message":"slow"}}`, llm.ErrRateLimited, true},
		{http.StatusBadRequest, `{"error":{"message":"schema invalid","type":"invalid_request_error"}}`, llm.ErrInvalidRequest, false},
		{http.StatusServiceUnavailable, `down`, llm.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New(Config{ProviderName: "x", BaseURL: srv.URL}, nil)
			_, err := p.Completion(context.Background(), &llm.ChatRequest{})
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.code, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, "x", llmErr.Provider)
		})
	}
}

func TestCompletion_MalformedBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := New(Config{ProviderName: "x", BaseURL: srv.URL}, nil).Completion(context.Background(), &llm.ChatRequest{})
	assert.True(t, retry.IsTransient(err))
}

func TestCompletion_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(Config{ProviderName: "x", BaseURL: srv.URL}, nil).
		Completion(context.Background(), &llm.ChatRequest{Timeout: 20 * time.Millisecond})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamTimeout, llmErr.Code)
}

func TestCompletion_RetriedThroughRetryProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeCompletion(w, "ok")
	}))
	defer srv.Close()

	p := retry.WrapProvider(New(Config{ProviderName: "x", BaseURL: srv.URL}, nil),
		retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	status, err := New(Config{ProviderName: "x", BaseURL: srv.URL}, nil).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	status, err = New(Config{ProviderName: "x", BaseURL: srv.URL, ModelsEndpoint: "/missing"}, nil).HealthCheck(context.Background())
	assert.Error(t, err)
	assert.False(t, status.Healthy)
}

func TestBuildHeadersAndHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		assert.Equal(t, "trace-9", r.Header.Get("X-Request-ID"))
		var body providers.OpenAICompatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "hooked", body.Model)
		writeCompletion(w, "ok")
	}))
	defer srv.Close()

	p := New(Config{
		ProviderName: "azure",
		APIKey:       "key-1",
		BaseURL:      srv.URL,
		BuildHeaders: func(r *http.Request, key string) { r.Header.Set("api-key", key) },
		RequestHook: func(_ *llm.ChatRequest, body *providers.OpenAICompatRequest) {
			body.Model = "hooked"
		},
	}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{TraceID: "trace-9"})
	require.NoError(t, err)
}

func TestNewFromPreset(t *testing.T) {
	p, err := NewFromPreset("deepseek", Options{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.deepseek.com", p.Cfg.BaseURL)
	assert.Equal(t, "/chat/completions", p.Cfg.EndpointPath)
	assert.True(t, p.Cfg.JSONObjectOnly)

	p, err = NewFromPreset("openai", Options{BaseURL: "http://proxy", Model: "gpt-x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy", p.Cfg.BaseURL)
	assert.Equal(t, "gpt-x", p.Cfg.DefaultModel)

	p, err = NewFromPreset("local", Options{BaseURL: "http://localhost:8000"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)

	_, err = NewFromPreset("unknown", Options{}, nil)
	assert.Error(t, err)

	assert.Contains(t, Presets(), "qwen")
}
