// Package config loads and persists agentcore configuration through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Log      LogConfig              `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig          `mapstructure:"storage" yaml:"storage"`
	Provider ProviderConfig         `mapstructure:"provider" yaml:"provider"`
	Ollama   OllamaConfig           `mapstructure:"ollama" yaml:"ollama"`
	Retry    RetryConfig            `mapstructure:"retry" yaml:"retry"`
	Agent    AgentConfig            `mapstructure:"agent" yaml:"agent"`
	Agents   map[string]AgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
	Delegate DelegateConfig         `mapstructure:"delegate" yaml:"delegate"`
	Process  ProcessConfig          `mapstructure:"process" yaml:"process"`
	Approval ApprovalConfig         `mapstructure:"approval" yaml:"approval"`
	Policy   PolicyConfig           `mapstructure:"policy" yaml:"policy"`
	Hooks    HooksConfig            `mapstructure:"hooks" yaml:"hooks"`
	MCP      MCPConfig              `mapstructure:"mcp" yaml:"mcp"`
	Server   ServerConfig           `mapstructure:"server" yaml:"server"`
}

// LogConfig mirrors logger.LogConfig so the config package stays import-free.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// StorageConfig controls the sqlite checkpoint store.
type StorageConfig struct {
	Path          string        `mapstructure:"path" yaml:"path"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	PruneAfter    time.Duration `mapstructure:"prune_after" yaml:"prune_after"`
}

// ProviderConfig selects the LLM backend.
type ProviderConfig struct {
	Default string `mapstructure:"default" yaml:"default"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string        `mapstructure:"model" yaml:"model"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive string        `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// RetryConfig is the bounded retry policy wrapped around the LLM executor.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter       float64       `mapstructure:"jitter" yaml:"jitter"`
}

// AgentConfig describes the main agent or a named sub-agent.
type AgentConfig struct {
	Enabled       *bool    `json:"enabled,omitempty" mapstructure:"enabled" yaml:"enabled,omitempty"`
	Description   string   `json:"description" mapstructure:"description" yaml:"description,omitempty"`
	Model         string   `json:"model" mapstructure:"model" yaml:"model,omitempty"`
	SystemPrompt  string   `json:"system_prompt" mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Tools         []string `json:"tools" mapstructure:"tools" yaml:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations" mapstructure:"max_iterations" yaml:"max_iterations,omitempty"`
	Timeout       string   `json:"timeout" mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// IsEnabled reports whether the agent is enabled. A nil flag means enabled.
func (c *AgentConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetTimeout parses Timeout, falling back to 20 minutes.
func (c *AgentConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 20 * time.Minute
	}
	return d
}

// GetMaxIterations returns the tool-loop bound, 25 when unset.
func (c *AgentConfig) GetMaxIterations() int {
	if c.MaxIterations <= 0 {
		return 25
	}
	return c.MaxIterations
}

// DelegateConfig holds delegation defaults.
type DelegateConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	MaxDepth int  `mapstructure:"max_depth" yaml:"max_depth"`
}

// GetMaxDepth returns the nesting bound, 1 by default and never above 5.
func (c *DelegateConfig) GetMaxDepth() int {
	switch {
	case c.MaxDepth <= 0:
		return 1
	case c.MaxDepth > 5:
		return 5
	default:
		return c.MaxDepth
	}
}

// ProcessConfig controls shell execution.
type ProcessConfig struct {
	Shell          string        `mapstructure:"shell" yaml:"shell,omitempty"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxIdleTimeout time.Duration `mapstructure:"max_idle_timeout" yaml:"max_idle_timeout"`
	RetainOutput   time.Duration `mapstructure:"retain_output" yaml:"retain_output"`
	MaxBackground  int           `mapstructure:"max_background" yaml:"max_background"`
	MaxOutputChars int           `mapstructure:"max_output_chars" yaml:"max_output_chars"`
}

// ApprovalConfig controls the approval gate.
type ApprovalConfig struct {
	// AutoApprove marks every new session as auto-approved.
	AutoApprove bool `mapstructure:"auto_approve" yaml:"auto_approve"`
	// AuditLog is a JSON lines file recording every request and decision.
	AuditLog string `mapstructure:"audit_log" yaml:"audit_log"`
}

// PolicyConfig holds permission rules of the form Tool or Tool(specifier)
// and gitignore-style globs for paths no tool may touch.
type PolicyConfig struct {
	Allow  []string `mapstructure:"allow" yaml:"allow,omitempty"`
	Ask    []string `mapstructure:"ask" yaml:"ask,omitempty"`
	Deny   []string `mapstructure:"deny" yaml:"deny,omitempty"`
	Ignore []string `mapstructure:"ignore" yaml:"ignore,omitempty"`
	// Scrub redacts extra patterns from tool output before it reaches the model.
	Scrub []ScrubRule `mapstructure:"scrub" yaml:"scrub,omitempty"`
}

// ScrubRule is a named redaction pattern. An empty Replacement keeps the
// first four characters of each match.
type ScrubRule struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Pattern     string `mapstructure:"pattern" yaml:"pattern"`
	Replacement string `mapstructure:"replacement" yaml:"replacement,omitempty"`
	Disabled    bool   `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// HookConfig is one configured hook.
type HookConfig struct {
	Command   string `mapstructure:"command" yaml:"command,omitempty"`
	Script    string `mapstructure:"script" yaml:"script,omitempty"`
	Matcher   string `mapstructure:"matcher" yaml:"matcher,omitempty"`
	Timeout   int    `mapstructure:"timeout" yaml:"timeout,omitempty"` // seconds
	LoopLimit int    `mapstructure:"loop_limit" yaml:"loop_limit,omitempty"`
	Disabled  bool   `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// HooksConfig maps each hook event to its hooks.
type HooksConfig struct {
	BeforeToolUse        []HookConfig `mapstructure:"before_tool_use" yaml:"before_tool_use,omitempty"`
	AfterToolUse         []HookConfig `mapstructure:"after_tool_use" yaml:"after_tool_use,omitempty"`
	SubagentStart        []HookConfig `mapstructure:"subagent_start" yaml:"subagent_start,omitempty"`
	SubagentStop         []HookConfig `mapstructure:"subagent_stop" yaml:"subagent_stop,omitempty"`
	BeforeShellExecution []HookConfig `mapstructure:"before_shell_execution" yaml:"before_shell_execution,omitempty"`
	AfterShellExecution  []HookConfig `mapstructure:"after_shell_execution" yaml:"after_shell_execution,omitempty"`
	BeforeReadFile       []HookConfig `mapstructure:"before_read_file" yaml:"before_read_file,omitempty"`
	AfterFileEdit        []HookConfig `mapstructure:"after_file_edit" yaml:"after_file_edit,omitempty"`
	Stop                 []HookConfig `mapstructure:"stop" yaml:"stop,omitempty"`

	// Audit records every tool call through the built-in audit handler.
	Audit     bool            `mapstructure:"audit" yaml:"audit,omitempty"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
}

// RateLimitConfig bounds tool calls per session. Zero MaxCalls disables it.
type RateLimitConfig struct {
	MaxCalls int           `mapstructure:"max_calls" yaml:"max_calls,omitempty"`
	Window   time.Duration `mapstructure:"window" yaml:"window,omitempty"`
}

// MCPServerConfig describes one capability server.
type MCPServerConfig struct {
	Name      string            `mapstructure:"name" yaml:"name"`
	Transport string            `mapstructure:"transport" yaml:"transport"` // stdio, http
	Command   string            `mapstructure:"command" yaml:"command,omitempty"`
	Args      []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env       map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	URL       string            `mapstructure:"url" yaml:"url,omitempty"`
	Headers   map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout   time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
	// Version is an optional semver constraint on the server's reported version.
	Version string `mapstructure:"version" yaml:"version,omitempty"`
}

// MCPConfig lists capability servers by id.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers" yaml:"servers,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads configuration with precedence env > file > defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()
	viper.SetEnvPrefix("AGENTCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expanded
		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("parse config %s: %w", expanded, err)
			}
			if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("read config %s: %w", expanded, err)
				}
			}
		}
	}

	cfg, err := unmarshal()
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration when the file changes and hands the new
// value to onChange. It is a no-op without a config file.
func Watch(onChange func(*Config)) {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	if path == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		cfg, err := unmarshal()
		if err == nil {
			globalConfig = cfg
		}
		mu.Unlock()
		if err == nil && onChange != nil {
			onChange(cfg)
		}
	})
	viper.WatchConfig()
}

// GetConfig returns the loaded configuration, or nil before Load.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the file backing the configuration, if any.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// SaveTo writes cfg as YAML to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Reset clears global state (tests).
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig installs cfg as the global configuration (tests).
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
