package policy

import "strings"

// ToolGroups defines predefined groups of related tools usable as the tool
// part of a rule, e.g. "group:fs(secrets/**)".
var ToolGroups = map[string][]string{
	"group:fs": {
		"read_file",
		"write_file",
		"edit_file",
	},
	"group:shell": {
		"shell",
		"shell_output",
		"kill_shell",
	},
	"group:delegate": {
		"task",
	},
}

// toolAliases maps the capitalized names found in shared permission files
// onto tool names.
var toolAliases = map[string]string{
	"bash":  "shell",
	"read":  "read_file",
	"write": "write_file",
	"edit":  "edit_file",
	"task":  "task",
}

// CanonicalTool normalizes a rule's tool name, resolving aliases.
func CanonicalTool(name string) string {
	n := NormalizeName(name)
	if alias, ok := toolAliases[n]; ok {
		return alias
	}
	return n
}

// ExpandGroups expands group references in a list of tool patterns.
// For example, ["group:fs", "shell"] -> ["read_file", "write_file", "edit_file", "shell"]
func ExpandGroups(patterns []string) []string {
	var result []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		for _, tool := range expandSinglePattern(pattern) {
			if !seen[tool] {
				seen[tool] = true
				result = append(result, tool)
			}
		}
	}

	return result
}

func expandSinglePattern(pattern string) []string {
	if IsGroupReference(pattern) {
		if tools, ok := ToolGroups[pattern]; ok {
			return tools
		}
		// Unknown group, return as-is (will not match anything)
		return []string{pattern}
	}
	return []string{pattern}
}

// NormalizeName normalizes a tool name for matching.
// Converts to lowercase and trims whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsGroupReference returns true if the pattern is a group reference.
func IsGroupReference(pattern string) bool {
	return strings.HasPrefix(pattern, "group:")
}
