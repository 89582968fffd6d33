package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers the default value of every configuration key.
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	viper.SetDefault("storage.path", "~/.agentcore/agentcore.db")
	viper.SetDefault("storage.prune_schedule", "@every 1h")
	viper.SetDefault("storage.prune_after", 7*24*time.Hour)

	viper.SetDefault("provider.default", "ollama")
	viper.SetDefault("ollama.endpoint", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.2")
	viper.SetDefault("ollama.timeout", 5*time.Minute)
	viper.SetDefault("ollama.keep_alive", "5m")

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay", 500*time.Millisecond)
	viper.SetDefault("retry.max_delay", 10*time.Second)
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitter", 0.2)

	viper.SetDefault("agent.max_iterations", 25)

	viper.SetDefault("delegate.enabled", true)
	viper.SetDefault("delegate.max_depth", 1)

	viper.SetDefault("process.idle_timeout", 60*time.Second)
	viper.SetDefault("process.max_idle_timeout", 10*time.Minute)
	viper.SetDefault("process.retain_output", 30*time.Second)
	viper.SetDefault("process.max_background", 32)
	viper.SetDefault("process.max_output_chars", 30000)

	viper.SetDefault("approval.auto_approve", false)

	viper.SetDefault("policy.ask", []string{
		"shell(find * -delete*)",
		"shell(find * -exec*)",
		"shell(find * -fprint*)",
		"shell(find * -fls*)",
		"shell(find * -fprintf*)",
		"shell(find * -ok*)",
		"shell(sort --output=*)",
		"shell(sort -o *)",
		"shell(tree -o *)",
	})

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 7420)
}
