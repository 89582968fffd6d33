// Package policy decides whether a tool call may run, must be approved, or
// is refused, from permission rules and ignored paths.
package policy

import "strings"

// Decision is the outcome of evaluating permission rules.
type Decision int

const (
	// DecisionNone means no rule matched; the tool applies its default.
	DecisionNone Decision = iota
	DecisionAllow
	DecisionAsk
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionAsk:
		return "ask"
	case DecisionDeny:
		return "deny"
	default:
		return "none"
	}
}

// Rule is a parsed permission entry: "Tool" or "Tool(specifier)".
// A rule without a specifier matches every target of the tool.
type Rule struct {
	Raw       string
	Tool      string
	Specifier string
	// Prefix is set for the "Tool(prefix:*)" form.
	Prefix bool
}

// ParseRule parses a permission entry. Malformed entries report false.
func ParseRule(raw string) (Rule, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Rule{}, false
	}
	open := strings.IndexByte(trimmed, '(')
	if open < 0 {
		return Rule{Raw: raw, Tool: CanonicalTool(trimmed)}, true
	}
	end := strings.LastIndexByte(trimmed, ')')
	if open == 0 || end < open {
		return Rule{}, false
	}
	tool := strings.TrimSpace(trimmed[:open])
	spec := strings.TrimSpace(trimmed[open+1 : end])
	r := Rule{Raw: raw, Tool: CanonicalTool(tool), Specifier: spec}
	if r.Specifier == "" {
		r.Specifier = "*"
	}
	if strings.HasSuffix(r.Specifier, ":*") {
		r.Specifier = strings.TrimSuffix(r.Specifier, ":*")
		r.Prefix = true
	}
	return r, true
}

// ParseRules parses entries, dropping malformed ones.
func ParseRules(raw []string) []Rule {
	out := make([]Rule, 0, len(raw))
	for _, entry := range raw {
		if r, ok := ParseRule(entry); ok {
			out = append(out, r)
		}
	}
	return out
}

// Result is a policy verdict for one call.
type Result struct {
	Decision Decision
	// Reason is the message returned to the model when Decision is deny.
	Reason string
	// Rule is the raw entry that decided, if any.
	Rule string
}

// Denied reports whether the call must not run.
func (r Result) Denied() bool { return r.Decision == DecisionDeny }

// SkipApproval reports whether an allow rule lets the call bypass the gate.
func (r Result) SkipApproval() bool { return r.Decision == DecisionAllow }
