package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"agentcore/internal/config"
)

// Message returned when a shell command reads or writes an ignored path.
const ignoredCommandReason = "Command denied by policy: access to ignored files is blocked"

// Policy evaluates permission rules and ignore patterns for one project.
// It is immutable after construction and safe for concurrent use.
type Policy struct {
	baseDir string
	allow   []Rule
	ask     []Rule
	deny    []Rule
	ignore  *IgnoreMatcher
	matcher *Matcher
}

// New builds a Policy from configuration. Relative paths are resolved
// against baseDir.
func New(cfg config.PolicyConfig, baseDir string) *Policy {
	p := &Policy{
		baseDir: baseDir,
		allow:   ParseRules(cfg.Allow),
		ask:     ParseRules(cfg.Ask),
		deny:    ParseRules(cfg.Deny),
		ignore:  NewIgnoreMatcher(baseDir, cfg.Ignore),
		matcher: NewMatcher(),
	}
	log.Debug().
		Int("allow", len(p.allow)).
		Int("ask", len(p.ask)).
		Int("deny", len(p.deny)).
		Str("base_dir", baseDir).
		Msg("policy loaded")
	return p
}

// Permissive returns a policy with no rules.
func Permissive() *Policy {
	return New(config.PolicyConfig{}, "")
}

// Evaluate applies the rule lists in precedence order deny, ask, allow.
func (p *Policy) Evaluate(tool string, targets ...string) (Decision, string) {
	if p == nil {
		return DecisionNone, ""
	}
	if r, ok := p.first(p.deny, tool, targets); ok {
		return DecisionDeny, r.Raw
	}
	if r, ok := p.first(p.ask, tool, targets); ok {
		return DecisionAsk, r.Raw
	}
	if r, ok := p.first(p.allow, tool, targets); ok {
		return DecisionAllow, r.Raw
	}
	return DecisionNone, ""
}

func (p *Policy) first(rules []Rule, tool string, targets []string) (Rule, bool) {
	for _, r := range rules {
		if p.matcher.MatchRule(r, tool, targets) {
			return r, true
		}
	}
	return Rule{}, false
}

// HasAllowRules reports whether any allow rule names tool.
func (p *Policy) HasAllowRules(tool string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.allow {
		if p.matcher.MatchTool(tool, r.Tool) {
			return true
		}
	}
	return false
}

// IsIgnored reports whether path matches an ignore pattern.
func (p *Policy) IsIgnored(path string) bool {
	return p != nil && p.ignore.Match(p.abs(path))
}

// CheckPath evaluates a file tool call. Ignored paths are reported as
// missing so their existence is not disclosed. When allow rules exist for
// the tool, a path none of them covers is denied.
func (p *Policy) CheckPath(tool, path string) Result {
	if p.IsIgnored(path) {
		return Result{Decision: DecisionDeny, Reason: "File not found: " + path}
	}
	d, rule := p.Evaluate(tool, p.PathTargets(path)...)
	switch {
	case d == DecisionDeny:
		return Result{Decision: d, Rule: rule, Reason: fmt.Sprintf("Access denied by permissions.deny for %s", tool)}
	case d == DecisionNone && p.HasAllowRules(tool):
		return Result{Decision: DecisionDeny, Reason: fmt.Sprintf("Access denied by permissions.allow for %s", tool)}
	default:
		return Result{Decision: d, Rule: rule}
	}
}

// CheckShell evaluates a shell command run from workDir. Allow rules let a
// command skip approval; they never restrict other commands.
func (p *Policy) CheckShell(tool, command, workDir string) Result {
	if p == nil {
		return Result{}
	}
	if !p.ignore.Empty() {
		for _, candidate := range CommandPaths(command) {
			if p.ignore.Match(absFrom(workDir, p.baseDir, candidate)) {
				log.Info().Str("command", command).Str("path", candidate).Msg("shell command touches ignored path")
				return Result{Decision: DecisionDeny, Reason: ignoredCommandReason}
			}
		}
	}
	cmd := strings.TrimSpace(command)
	d, rule := p.Evaluate(tool, cmd)
	if d == DecisionDeny {
		return Result{Decision: d, Rule: rule, Reason: fmt.Sprintf("Access denied by permissions.deny for %s", tool)}
	}
	return Result{Decision: d, Rule: rule}
}

// PathTargets lists the spellings a path rule may be written against: as
// given, cleaned, base name, and relative to the project with and without a
// leading "./".
func (p *Policy) PathTargets(path string) []string {
	targets := []string{path}
	add := func(s string) {
		if s == "" {
			return
		}
		for _, t := range targets {
			if t == s {
				return
			}
		}
		targets = append(targets, s)
	}

	cleaned := filepath.ToSlash(filepath.Clean(path))
	add(cleaned)
	add(filepath.Base(cleaned))
	if p != nil && p.baseDir != "" {
		base := strings.TrimRight(filepath.ToSlash(p.baseDir), "/")
		abs := filepath.ToSlash(p.abs(path))
		if rel, ok := strings.CutPrefix(abs, base+"/"); ok && rel != "" {
			add(rel)
			add("./" + rel)
		}
	}
	return targets
}

func (p *Policy) abs(path string) string {
	return absFrom("", p.baseDir, path)
}

func absFrom(workDir, baseDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	dir := workDir
	if dir == "" {
		dir = baseDir
	}
	if dir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
