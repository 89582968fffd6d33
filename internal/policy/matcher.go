package policy

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher matches rules against tool names and targets. Compiled wildcard
// patterns are cached.
type Matcher struct {
	regexCache sync.Map
}

// NewMatcher creates a new Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// MatchTool checks if a tool name matches a rule's tool part.
// Supports:
// - Exact match: "shell" matches "shell"
// - Wildcard: "mcp_*" matches "mcp_github"
// - Group references: "group:fs" matches "read_file"
func (m *Matcher) MatchTool(toolName, pattern string) bool {
	name := NormalizeName(toolName)
	for _, p := range expandSinglePattern(NormalizeName(pattern)) {
		if p == name {
			return true
		}
		if strings.Contains(p, "*") && m.MatchWildcard(p, name) {
			return true
		}
	}
	return false
}

// MatchRule reports whether r applies to toolName and any of targets.
func (m *Matcher) MatchRule(r Rule, toolName string, targets []string) bool {
	if !m.MatchTool(toolName, r.Tool) {
		return false
	}
	if r.Specifier == "" || r.Specifier == "*" {
		return true
	}
	for _, t := range targets {
		if m.matchSpecifier(r, t) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchSpecifier(r Rule, target string) bool {
	switch {
	case r.Prefix:
		return strings.HasPrefix(target, r.Specifier)
	case strings.Contains(r.Specifier, "*"):
		return m.MatchWildcard(r.Specifier, target)
	default:
		return target == r.Specifier
	}
}

// MatchWildcard performs anchored wildcard matching where * matches any run
// of characters, including path separators.
func (m *Matcher) MatchWildcard(pattern, s string) bool {
	re := m.compile(pattern)
	return re != nil && re.MatchString(s)
}

func (m *Matcher) compile(pattern string) *regexp.Regexp {
	if cached, ok := m.regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil
	}
	m.regexCache.Store(pattern, re)
	return re
}
