package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"agentcore/internal/config"
)

func testPolicy(cfg config.PolicyConfig) *Policy {
	return New(cfg, filepath.FromSlash("/work/proj"))
}

func TestEvaluate_Precedence(t *testing.T) {
	p := testPolicy(config.PolicyConfig{
		Allow: []string{"Bash(git *)"},
		Ask:   []string{"Bash(git push:*)"},
		Deny:  []string{"Bash(git push --force*)"},
	})

	d, _ := p.Evaluate("shell", "git status")
	assert.Equal(t, DecisionAllow, d)
	d, _ = p.Evaluate("shell", "git push origin")
	assert.Equal(t, DecisionAsk, d)
	d, rule := p.Evaluate("shell", "git push --force origin")
	assert.Equal(t, DecisionDeny, d)
	assert.Equal(t, "Bash(git push --force*)", rule)
	d, _ = p.Evaluate("shell", "ls")
	assert.Equal(t, DecisionNone, d)
}

func TestCheckPath(t *testing.T) {
	p := testPolicy(config.PolicyConfig{
		Allow:  []string{"Read(./src/*)"},
		Deny:   []string{"Read(blocked-read.txt)"},
		Ignore: []string{".env"},
	})

	r := p.CheckPath("read_file", "/work/proj/blocked-read.txt")
	assert.True(t, r.Denied())
	assert.Equal(t, "Access denied by permissions.deny for read_file", r.Reason)

	r = p.CheckPath("read_file", "/work/proj/docs/notes.txt")
	assert.True(t, r.Denied())
	assert.Equal(t, "Access denied by permissions.allow for read_file", r.Reason)

	r = p.CheckPath("read_file", "/work/proj/src/main/allowed.txt")
	assert.Equal(t, DecisionAllow, r.Decision)
	assert.True(t, r.SkipApproval())

	r = p.CheckPath("read_file", "/work/proj/.env")
	assert.True(t, r.Denied())
	assert.Equal(t, "File not found: /work/proj/.env", r.Reason)

	r = p.CheckPath("write_file", "/work/proj/docs/notes.txt")
	assert.Equal(t, DecisionNone, r.Decision)
}

func TestCheckShell(t *testing.T) {
	p := testPolicy(config.PolicyConfig{
		Allow:  []string{"Bash(echo *)"},
		Deny:   []string{"Bash(git push *)"},
		Ask:    []string{"shell(find * -delete*)"},
		Ignore: []string{"secrets/**"},
	})

	assert.Equal(t, DecisionAllow, p.CheckShell("shell", "echo OK", "").Decision)
	assert.Equal(t, DecisionNone, p.CheckShell("shell", "git status", "").Decision)
	assert.Equal(t, DecisionAsk, p.CheckShell("shell", "find . -name x -delete", "").Decision)

	r := p.CheckShell("shell", "git push origin main", "")
	assert.True(t, r.Denied())
	assert.Equal(t, "Access denied by permissions.deny for shell", r.Reason)

	r = p.CheckShell("shell", "cat /work/proj/secrets/token.txt", "")
	assert.True(t, r.Denied())
	assert.Equal(t, "Command denied by policy: access to ignored files is blocked", r.Reason)

	r = p.CheckShell("shell", "cat token.txt", filepath.FromSlash("/work/proj/secrets"))
	assert.True(t, r.Denied())
}

func TestPathTargets(t *testing.T) {
	p := testPolicy(config.PolicyConfig{})

	assert.Equal(t,
		[]string{"/work/proj/src/a.go", "a.go", "src/a.go", "./src/a.go"},
		p.PathTargets("/work/proj/src/a.go"))
}

func TestNilPolicyIsPermissive(t *testing.T) {
	var p *Policy
	d, _ := p.Evaluate("shell", "rm -rf /")
	assert.Equal(t, DecisionNone, d)
	assert.False(t, p.IsIgnored("/x"))
	assert.Equal(t, DecisionNone, p.CheckShell("shell", "ls", "").Decision)
	assert.False(t, Permissive().HasAllowRules("shell"))
}
