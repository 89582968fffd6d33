package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/provider"
)

func TestChat_ToolCallsAndUsage(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m","done":true,"prompt_eval_count":7,"eval_count":3,
			"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"read_file","arguments":{"path":"a.go"}}}]}}`))
	}))
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL, Model: "llama"})
	resp, err := p.Chat(context.Background(), provider.ChatRequest{
		Model: "ollama:qwen",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "hi"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c0", Name: "shell", Arguments: `{"command":"ls"}`}}},
			{Role: provider.RoleTool, Content: "a.go", ToolCallID: "c0"},
		},
		Tools: []provider.Tool{{Type: "function", Function: provider.ToolFunction{Name: "read_file", Parameters: json.RawMessage(`{"type":"object"}`)}}},
	})

	require.NoError(t, err)
	assert.Equal(t, "qwen", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "ls", got.Messages[1].ToolCalls[0].Function.Arguments["command"])
	require.Len(t, got.Tools, 1)

	assert.Equal(t, provider.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"a.go"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, &provider.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, resp.Usage)
}

func TestChat_DropsToolHistoryWithoutTools(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"done":true,"message":{"role":"assistant","content":"done"}}`))
	}))
	defer srv.Close()

	resp, err := New(Config{Endpoint: srv.URL}).Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "hi"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c0", Name: "shell"}}},
			{Role: provider.RoleTool, Content: "out"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, provider.FinishReasonStop, resp.FinishReason)
	assert.Nil(t, resp.Usage)
}

func TestChat_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   provider.ErrorCode
	}{
		{"missing model", http.StatusNotFound, `{"error":"model \"x\" not found"}`, provider.ErrCodeModelNotFound},
		{"overloaded", http.StatusServiceUnavailable, `busy`, provider.ErrCodeServiceUnavailable},
		{"unauthorized", http.StatusUnauthorized, `{}`, provider.ErrCodeAuthFailed},
		{"garbage", http.StatusOK, `not json`, provider.ErrCodeInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{Endpoint: srv.URL}).Chat(context.Background(), provider.ChatRequest{})

			var pe *provider.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, "ollama", pe.Provider)
		})
	}
}

func TestChat_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Endpoint: url}).Chat(context.Background(), provider.ChatRequest{})

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.ErrCodeNetworkError, pe.Code)
	assert.True(t, pe.ShouldAutoRetry())
}

func TestChat_CancelledIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Endpoint: srv.URL}).Chat(ctx, provider.ChatRequest{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelsAndPing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"qwen"}]}`))
	}))
	defer srv.Close()

	p := New(Config{Endpoint: srv.URL + "/"})
	assert.Equal(t, []string{"llama3.2", "qwen"}, p.Models())
	assert.Equal(t, []string{"llama3.2", "qwen"}, p.Models())
	assert.Equal(t, int32(1), hits.Load())
	assert.NoError(t, p.Ping(context.Background()))
}
