package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"agentcore/internal/provider"
	"agentcore/pkg/logger"
)

const providerName = "ollama"

// modelsTTL bounds how long the /api/tags result is reused.
const modelsTTL = 5 * time.Minute

// Provider talks to the Ollama chat API without streaming.
type Provider struct {
	endpoint   string
	model      string
	keepAlive  string
	httpClient *http.Client

	modelsMu    sync.RWMutex
	modelsCache []string
	modelsTime  time.Time
}

// New creates a new Ollama provider, filling unset fields with defaults.
func New(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Provider{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		keepAlive:  cfg.KeepAlive,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

// Models returns the installed models, cached for a few minutes. On failure
// the last known list is returned.
func (p *Provider) Models() []string {
	p.modelsMu.RLock()
	if time.Since(p.modelsTime) < modelsTTL && len(p.modelsCache) > 0 {
		models := p.modelsCache
		p.modelsMu.RUnlock()
		return models
	}
	p.modelsMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := p.fetchModels(ctx)
	p.modelsMu.Lock()
	defer p.modelsMu.Unlock()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch ollama models, returning cached")
		return p.modelsCache
	}
	p.modelsCache = models
	p.modelsTime = time.Now()
	return models
}

// Chat sends a chat completion request and returns the response.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, err.Error(), providerName, false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, err.Error(), providerName, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Debug().Int("status", resp.StatusCode).Str("body", string(data)).Msg("ollama error response")
		return nil, provider.FromHTTPStatus(providerName, resp.StatusCode, errorMessage(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		pe := provider.NewProviderError(provider.ErrCodeInvalidResponse, "malformed chat response", providerName, true)
		pe.Cause = err
		return nil, pe
	}
	return convertResponse(&out), nil
}

// Ping checks that the server answers.
func (p *Provider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := p.fetchModels(ctx)
	return err
}

func (p *Provider) buildRequest(req provider.ChatRequest) *chatRequest {
	model := strings.TrimPrefix(req.Model, providerName+":")
	if model == "" {
		model = p.model
	}
	hasTools := len(req.Tools) > 0

	out := &chatRequest{
		Model:     model,
		Messages:  make([]message, 0, len(req.Messages)),
		KeepAlive: p.keepAlive,
	}

	for _, msg := range req.Messages {
		// Without tool definitions the model rejects tool turns in history.
		if !hasTools && (msg.Role == provider.RoleTool || (msg.Role == provider.RoleAssistant && len(msg.ToolCalls) > 0 && msg.Content == "")) {
			continue
		}
		m := message{Role: msg.Role, Content: msg.Content}
		if hasTools {
			for _, tc := range msg.ToolCalls {
				var c toolCall
				c.ID = tc.ID
				c.Function.Name = tc.Name
				c.Function.Arguments = map[string]any{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &c.Function.Arguments)
				}
				m.ToolCalls = append(m.ToolCalls, c)
			}
		}
		out.Messages = append(out.Messages, m)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, tool{
			Type: t.Type,
			Function: toolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	if req.Temperature > 0 || req.MaxTokens > 0 {
		out.Options = &modelOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return out
}

func convertResponse(resp *chatResponse) *provider.ChatResponse {
	out := &provider.ChatResponse{
		Content:      resp.Message.Content,
		FinishReason: provider.FinishReasonStop,
	}
	if resp.DoneReason == provider.FinishReasonLength {
		out.FinishReason = provider.FinishReasonLength
	}

	for i, tc := range resp.Message.ToolCalls {
		args := "{}"
		if tc.Function.Arguments != nil {
			if b, err := json.Marshal(tc.Function.Arguments); err == nil {
				args = string(b)
			}
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishReasonToolCalls
	}

	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		out.Usage = &provider.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return out
}

func (p *Provider) fetchModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidRequest, err.Error(), providerName, false)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, provider.FromHTTPStatus(providerName, resp.StatusCode, errorMessage(data))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// classifyTransport maps client-side failures. Caller cancellation is
// returned as is so it stays silent upstream.
func (p *Provider) classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var pe *provider.ProviderError
	var netTimeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netTimeout) && netTimeout.Timeout()) {
		pe = provider.NewProviderError(provider.ErrCodeTimeout, "request timed out", providerName, true)
	} else {
		pe = provider.NewProviderError(provider.ErrCodeNetworkError, "cannot reach ollama server at "+p.endpoint, providerName, true)
	}
	pe.Cause = err
	return pe
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
