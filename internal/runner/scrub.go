package runner

import (
	"fmt"
	"regexp"
	"strings"

	"agentcore/internal/config"
)

// CompiledScrubRule is a configured redaction rule. An empty Replacement
// keeps the first four characters of each match.
type CompiledScrubRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

func (r CompiledScrubRule) apply(s string) string {
	if r.Replacement != "" {
		return r.Pattern.ReplaceAllString(s, r.Replacement)
	}
	return r.Pattern.ReplaceAllStringFunc(s, partialRedact)
}

// credentialPattern is a built-in detector. redact rewrites one match.
type credentialPattern struct {
	name    string
	pattern *regexp.Regexp
	redact  func(match string) string
}

// builtinPatterns run before any configured rule, in this order.
var builtinPatterns = []credentialPattern{
	{
		name:    "env-secret",
		pattern: regexp.MustCompile(`(?i)(API_KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL|AUTH|PRIVATE[._]KEY)\s*[=:]\s*['"]?(\S{8,})`),
		redact:  redactAssignment,
	},
	{
		name:    "bearer",
		pattern: regexp.MustCompile(`(?i)Bearer\s+([A-Za-z0-9\-._~+/]{20,}=*)`),
		redact:  redactBearer,
	},
	{name: "openai-key", pattern: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{name: "github-token", pattern: regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{36}`)},
	{name: "aws-access-key", pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{
		name:    "hex-secret",
		pattern: regexp.MustCompile(`(?i)(secret|key|token)['":\s]+[0-9a-f]{32,}`),
		redact:  redactLabeledHex,
	},
}

// ScrubCredentials redacts credentials in tool output before the model sees
// it: built-in detectors first, then customRules.
func ScrubCredentials(input string, customRules ...CompiledScrubRule) string {
	out := input
	for _, p := range builtinPatterns {
		redact := p.redact
		if redact == nil {
			redact = partialRedact
		}
		out = p.pattern.ReplaceAllStringFunc(out, redact)
	}
	for _, r := range customRules {
		out = r.apply(out)
	}
	return out
}

// CompileScrubRules compiles the enabled configured rules. An invalid
// pattern is an error.
func CompileScrubRules(rules []config.ScrubRule) ([]CompiledScrubRule, error) {
	var compiled []CompiledScrubRule
	for _, r := range rules {
		if r.Disabled || r.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("scrub rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, CompiledScrubRule{Name: r.Name, Pattern: re, Replacement: r.Replacement})
	}
	return compiled, nil
}

// redactAssignment keeps the "NAME=" part of NAME=value.
func redactAssignment(match string) string {
	i := strings.IndexAny(match, "=:")
	if i < 0 {
		return partialRedact(match)
	}
	val := strings.Trim(strings.TrimSpace(match[i+1:]), `'"`)
	return match[:i+1] + " " + partialRedact(val)
}

func redactBearer(match string) string {
	scheme, token, ok := strings.Cut(match, " ")
	if !ok {
		return partialRedact(match)
	}
	return scheme + " " + partialRedact(token)
}

// redactLabeledHex keeps the label in front of a hex secret.
func redactLabeledHex(match string) string {
	i := strings.IndexAny(match, `'"=: `)
	if i < 0 {
		return partialRedact(match)
	}
	return match[:i+1] + partialRedact(strings.TrimLeft(match[i+1:], `'"=: `))
}

// partialRedact keeps the first four characters.
func partialRedact(s string) string {
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return s[:4] + "...[REDACTED]"
}
