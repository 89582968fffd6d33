package delegate

import (
	"sort"
	"strings"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/tools/builtin"
)

// Built-in sub-agent types.
const (
	GeneralPurpose = "general-purpose"
	Explore        = "explore"
)

// Definition describes a sub-agent type.
type Definition struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	// Tools restricts the child's tools; empty means every parent tool.
	Tools         []string
	MaxIterations int
	Timeout       time.Duration
}

// BuiltinDefinitions returns the sub-agent types that always exist.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Name:        GeneralPurpose,
			Description: "General-purpose agent for researching complex questions, searching for code, and executing multi-step tasks.",
			SystemPrompt: "You are a sub-agent executing a concrete task for another agent. " +
				"Work autonomously and finish with a complete, self-contained report of what you did and found.",
		},
		{
			Name:        Explore,
			Description: "Fast agent specialized for exploring codebases. It cannot modify files.",
			SystemPrompt: "You are a read-only sub-agent exploring a codebase for another agent. " +
				"Never modify files. Finish with the relevant paths, symbols and findings.",
			Tools: []string{builtin.ReadFileName, builtin.ShellName, builtin.ShellOutputName, builtin.KillShellName},
		},
	}
}

// Resolve finds the definition for subagentType. Built-in names match
// case-insensitively and take overrides from an agents entry of the same
// name; other names must match an enabled configured agent.
func Resolve(subagentType string, agents map[string]config.AgentConfig) (Definition, bool) {
	key := strings.ToLower(strings.TrimSpace(subagentType))
	if key == "" {
		return Definition{}, false
	}

	for _, def := range BuiltinDefinitions() {
		if def.Name != key {
			continue
		}
		if ac, ok := lookupAgent(agents, key); ok {
			if !ac.IsEnabled() {
				return Definition{}, false
			}
			def = overlay(def, ac)
		}
		return def, true
	}

	ac, ok := lookupAgent(agents, key)
	if !ok || !ac.IsEnabled() {
		return Definition{}, false
	}
	return overlay(Definition{Name: key}, ac), true
}

// AvailableNames lists the built-in types followed by the enabled configured
// agents, sorted.
func AvailableNames(agents map[string]config.AgentConfig) []string {
	names := []string{}
	builtins := map[string]bool{}
	for _, def := range BuiltinDefinitions() {
		builtins[def.Name] = true
		if ac, ok := lookupAgent(agents, def.Name); ok && !ac.IsEnabled() {
			continue
		}
		names = append(names, def.Name)
	}

	var custom []string
	for name, ac := range agents {
		if builtins[strings.ToLower(name)] || !ac.IsEnabled() {
			continue
		}
		custom = append(custom, strings.ToLower(name))
	}
	sort.Strings(custom)
	return append(names, custom...)
}

func lookupAgent(agents map[string]config.AgentConfig, key string) (config.AgentConfig, bool) {
	if ac, ok := agents[key]; ok {
		return ac, true
	}
	for name, ac := range agents {
		if strings.EqualFold(name, key) {
			return ac, true
		}
	}
	return config.AgentConfig{}, false
}

func overlay(def Definition, ac config.AgentConfig) Definition {
	if ac.Description != "" {
		def.Description = ac.Description
	}
	if ac.SystemPrompt != "" {
		def.SystemPrompt = ac.SystemPrompt
	}
	if ac.Model != "" {
		def.Model = ac.Model
	}
	if len(ac.Tools) > 0 {
		def.Tools = ac.Tools
	}
	def.MaxIterations = ac.GetMaxIterations()
	def.Timeout = ac.GetTimeout()
	return def
}
