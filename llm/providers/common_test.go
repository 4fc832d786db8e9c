package providers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/structflow/llm"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		msg       string
		code      llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, "bad key", llm.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, "policy", llm.ErrForbidden, false},
		{"rate limited", http.StatusTooManyRequests, "slow down", llm.ErrRateLimited, true},
		{"quota", http.StatusBadRequest, "Your QUOTA is exhausted", llm.ErrQuotaExceeded, false},
		{"credit", http.StatusBadRequest, "insufficient credit", llm.ErrQuotaExceeded, false},
		{"bad request", http.StatusBadRequest, "invalid schema", llm.ErrInvalidRequest, false},
		{"gateway timeout", http.StatusGatewayTimeout, "", llm.ErrUpstreamTimeout, true},
		{"bad gateway", http.StatusBadGateway, "", llm.ErrUpstreamError, true},
		{"unavailable", http.StatusServiceUnavailable, "", llm.ErrUpstreamError, true},
		{"overloaded", 529, "", llm.ErrModelOverloaded, true},
		{"internal", http.StatusInternalServerError, "", llm.ErrUpstreamError, true},
		{"not found", http.StatusNotFound, "", llm.ErrUpstreamError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, tt.msg, "p")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "p", err.Provider)
			assert.Equal(t, tt.msg, err.Message)
		})
	}
}

func TestMapHTTPError_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(400, 599).Draw(t, "status")
		msg := rapid.String().Draw(t, "msg")
		err := MapHTTPError(status, msg, "p")
		assert.NotEmpty(t, err.Code)
		if status >= 500 {
			assert.True(t, err.Retryable, "status %d", status)
		}
	})
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad schema (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad schema","type":"invalid_request_error"}}`)))
	assert.Equal(t, "plain", ReadErrorMessage(strings.NewReader(`{"error":{"message":"plain"}}`)))
	assert.Equal(t, "upstream exploded", ReadErrorMessage(strings.NewReader("upstream exploded\n")))
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.ChatRequest{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
}

func TestConversions(t *testing.T) {
	msgs := ConvertMessagesToOpenAI([]llm.Message{{Role: llm.RoleSystem, Content: "s"}, {Role: llm.RoleUser, Content: "u", Name: "n"}})
	assert.Equal(t, []OpenAICompatMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "u", Name: "n"}}, msgs)

	resp := ToLLMChatResponse(OpenAICompatResponse{
		ID:      "id",
		Model:   "m",
		Choices: []OpenAICompatChoice{{Index: 0, FinishReason: "stop", Message: OpenAICompatMessage{Role: "assistant", Content: "{}"}}},
		Usage:   &OpenAICompatUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, "p")
	assert.Equal(t, "p", resp.Provider)
	assert.Equal(t, "{}", resp.Choices[0].Message.Content)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}
