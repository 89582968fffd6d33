package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnoreMatcher(t *testing.T) {
	base := filepath.FromSlash("/work/proj")

	tests := []struct {
		name     string
		patterns []string
		path     string
		expected bool
	}{
		{"dotfile at root", []string{".env"}, "/work/proj/.env", true},
		{"dotfile nested", []string{".env"}, "/work/proj/app/.env", true},
		{"extension any depth", []string{"*.pem"}, "/work/proj/app/certs/private.pem", true},
		{"doublestar extension", []string{"**/*.pem"}, "/work/proj/certs/private.pem", true},
		{"deep dir", []string{"secrets/**"}, "/work/proj/secrets/token.txt", true},
		{"nested build dir", []string{"build/"}, "/work/proj/app/build/reports/test.txt", true},
		{"rooted dir", []string{"app/src/main/**"}, "/work/proj/app/src/main/Test.kt", true},
		{"relative path", []string{"secrets/**"}, "secrets/a", true},
		{"not ignored", []string{"secrets/**"}, "/work/proj/src/ok.txt", false},
		{"prefix only", []string{"build/"}, "/work/proj/builder/x", false},
		{"braces", []string{"*.{key,pem}"}, "/work/proj/id.key", true},
		{"no patterns", nil, "/work/proj/.env", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(base, tt.patterns)
			assert.Equal(t, tt.expected, m.Match(filepath.FromSlash(tt.path)))
		})
	}
}

func TestCommandPaths(t *testing.T) {
	assert.Equal(t, []string{"secrets/token.txt"}, CommandPaths("cat secrets/token.txt"))
	assert.Equal(t, []string{".env"}, CommandPaths("cat .env"))
	assert.Equal(t, []string{"out.txt"}, CommandPaths("echo hi >out.txt"))
	assert.Equal(t, []string{"list.txt"}, CommandPaths("grep -f list.txt"))
	assert.Equal(t, []string{"a b/c"}, CommandPaths(`ls "a b/c"`))
	assert.Empty(t, CommandPaths("git status"))
	assert.Equal(t, []string{"echo", "it's ok"}, Tokenize(`echo "it's ok"`))
}
