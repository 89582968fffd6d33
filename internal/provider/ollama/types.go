// Package ollama implements the Provider interface for a local Ollama server.
package ollama

import (
	"encoding/json"
	"time"

	"agentcore/internal/config"
)

// Default configuration values.
const (
	DefaultEndpoint  = "http://localhost:11434"
	DefaultModel     = "llama3.2"
	DefaultTimeout   = 5 * time.Minute
	DefaultKeepAlive = "5m"
)

// Config holds Ollama provider configuration.
type Config struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	KeepAlive string
}

// ConfigFrom converts the application config section.
func ConfigFrom(c config.OllamaConfig) Config {
	return Config{
		Endpoint:  c.Endpoint,
		Model:     c.Model,
		Timeout:   c.Timeout,
		KeepAlive: c.KeepAlive,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []message     `json:"messages"`
	Stream    bool          `json:"stream"`
	Tools     []tool        `json:"tools,omitempty"`
	Options   *modelOptions `json:"options,omitempty"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Ollama sends and expects arguments as a JSON object rather than a string.
type toolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type modelOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model           string  `json:"model"`
	Message         message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type errorResponse struct {
	Error string `json:"error"`
}
