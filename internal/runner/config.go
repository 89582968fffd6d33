package runner

import (
	"time"

	"agentcore/internal/config"
)

// Config holds the limits of one agent loop.
type Config struct {
	// Model overrides the provider's default model when set.
	Model string `json:"model,omitempty"`

	// MaxIterations bounds LLM calls per run. Default is 25.
	MaxIterations int `json:"max_iterations"`

	// MaxTokens is the maximum number of tokens for model output.
	// Default is 8000.
	MaxTokens int `json:"max_tokens"`

	// MaxMessages and MaxContextTokens bound the history sent to the model.
	// Defaults are 100 messages and 100000 tokens.
	MaxMessages      int `json:"max_messages"`
	MaxContextTokens int `json:"max_context_tokens"`

	// Timeout is the maximum duration for a single run. Default is 20 minutes.
	Timeout time.Duration `json:"timeout"`

	// Temperature controls the randomness of the model output.
	// Default is 0.7.
	Temperature float64 `json:"temperature"`

	// SystemPrompt replaces the default base prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    25,
		MaxTokens:        8000,
		MaxMessages:      100,
		MaxContextTokens: 100000,
		Timeout:          20 * time.Minute,
		Temperature:      0.7,
	}
}

// ConfigFromAgent derives loop limits from an agent section.
func ConfigFromAgent(ac config.AgentConfig) Config {
	c := DefaultConfig()
	c.Model = ac.Model
	c.MaxIterations = ac.GetMaxIterations()
	c.Timeout = ac.GetTimeout()
	c.SystemPrompt = ac.SystemPrompt
	return c
}

// WithMaxIterations returns a copy of the config with the specified max iterations.
func (c Config) WithMaxIterations(n int) Config {
	c.MaxIterations = n
	return c
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithSystemPrompt returns a copy of the config with the specified system prompt.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// normalized fills zero values with defaults and clamps the temperature.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = d.MaxContextTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	return c
}
