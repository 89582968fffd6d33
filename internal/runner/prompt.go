package runner

import (
	"fmt"
	"sort"
	"strings"

	"agentcore/internal/tools"
)

const defaultBasePrompt = `You are a coding agent working inside the user's workspace.
You can read, write and edit files, run shell commands and delegate focused work to sub-agents.

When using tools:
1. Read the relevant files before changing them.
2. Prefer edit_file for small changes and write_file for new files.
3. Wait for the tool result before proceeding.
4. If a tool call fails or is denied, explain what happened and try another approach or stop.
5. After tool results arrive, answer in plain language. Never return raw tool output as the final answer.

Be accurate and concise.`

// PromptBuilder builds system prompts with tool information.
type PromptBuilder struct {
	basePrompt string
	registry   *tools.Registry
	workDir    string
}

// NewPromptBuilder creates a new PromptBuilder.
func NewPromptBuilder(registry *tools.Registry) *PromptBuilder {
	return &PromptBuilder{
		registry:   registry,
		basePrompt: defaultBasePrompt,
	}
}

// SetBasePrompt sets a custom base prompt. An empty prompt keeps the default.
func (pb *PromptBuilder) SetBasePrompt(prompt string) {
	if prompt != "" {
		pb.basePrompt = prompt
	}
}

// SetWorkDir sets the workspace directory mentioned in the prompt.
func (pb *PromptBuilder) SetWorkDir(dir string) {
	pb.workDir = dir
}

// Build generates the complete system prompt including tool descriptions.
func (pb *PromptBuilder) Build() string {
	var builder strings.Builder

	builder.WriteString(pb.basePrompt)
	builder.WriteString("\n\n")

	if pb.workDir != "" {
		fmt.Fprintf(&builder, "## Workspace\n\nThe working directory is `%s`. Relative paths resolve against it.\n\n", pb.workDir)
	}

	if pb.registry == nil {
		return builder.String()
	}
	toolsList := pb.registry.List()
	if len(toolsList) == 0 {
		return builder.String()
	}

	builder.WriteString("## Available Tools\n\n")
	for _, tool := range toolsList {
		fmt.Fprintf(&builder, "### %s\n%s\n", tool.Name(), tool.Description())

		params := tool.Parameters()
		if props, ok := params["properties"].(map[string]any); ok && len(props) > 0 {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)

			builder.WriteString("\n**Parameters:**\n")
			for _, name := range names {
				if propMap, ok := props[name].(map[string]any); ok {
					fmt.Fprintf(&builder, "- `%s` (%v): %v\n", name, propMap["type"], propMap["description"])
				}
			}
		}
		if required := requiredNames(params["required"]); len(required) > 0 {
			fmt.Fprintf(&builder, "\n**Required:** %s\n", strings.Join(required, ", "))
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// BuildWithContext generates a system prompt with additional context.
func (pb *PromptBuilder) BuildWithContext(context string) string {
	base := pb.Build()
	if context == "" {
		return base
	}
	return base + "\n\n## Additional Context\n\n" + context
}

// requiredNames accepts both []string schemas built in Go and []any decoded
// from JSON.
func requiredNames(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
