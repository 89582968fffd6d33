package policy

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// IgnoreMatcher matches paths against gitignore-style globs. Patterns not
// starting with "/" match at any depth; a trailing "/" or "/**" covers the
// whole directory.
type IgnoreMatcher struct {
	baseDir    string
	patterns   []string
	compiled   []*regexp.Regexp
	ignoreCase bool
}

// NewIgnoreMatcher compiles patterns relative to baseDir. Patterns that do
// not compile are dropped.
func NewIgnoreMatcher(baseDir string, patterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{
		baseDir:    toSlash(baseDir),
		ignoreCase: runtime.GOOS == "windows",
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(globToRegex(p, m.ignoreCase))
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, p)
		m.compiled = append(m.compiled, re)
	}
	return m
}

// Empty reports whether no pattern is configured.
func (m *IgnoreMatcher) Empty() bool {
	return m == nil || len(m.compiled) == 0
}

// Match reports whether path is ignored. Relative paths are resolved
// against the base directory.
func (m *IgnoreMatcher) Match(path string) bool {
	if m.Empty() || path == "" {
		return false
	}
	abs := path
	if !filepath.IsAbs(abs) && m.baseDir != "" {
		abs = filepath.Join(filepath.FromSlash(m.baseDir), abs)
	}
	full := toSlash(filepath.Clean(abs))
	rel := full
	if m.baseDir != "" && strings.HasPrefix(full, m.baseDir) {
		rel = strings.TrimPrefix(strings.TrimPrefix(full, m.baseDir), "/")
	}
	if m.ignoreCase {
		full, rel = strings.ToLower(full), strings.ToLower(rel)
	}

	for i, re := range m.compiled {
		pattern := m.patterns[i]
		if m.ignoreCase {
			pattern = strings.ToLower(pattern)
		}
		if simpleMatch(rel, pattern) || simpleMatch(full, pattern) || re.MatchString(rel) || re.MatchString(full) {
			return true
		}
	}
	return false
}

func globToRegex(glob string, ignoreCase bool) string {
	g := glob
	deep := strings.HasSuffix(g, "/**")
	dir := strings.HasSuffix(g, "/")
	g = strings.TrimSuffix(g, "/**")
	g = strings.TrimRight(g, "/")

	var sb strings.Builder
	if ignoreCase {
		sb.WriteString("(?i)")
	}
	sb.WriteByte('^')
	if !strings.HasPrefix(g, "/") {
		sb.WriteString("(?:.*/)?")
	}
	for i := 0; i < len(g); i++ {
		c := g[i]
		switch c {
		case '*':
			if i+1 < len(g) && g[i+1] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteByte('.')
		case '{':
			sb.WriteByte('(')
		case '}':
			sb.WriteByte(')')
		case ',':
			sb.WriteByte('|')
		case '[', ']':
			sb.WriteByte(c)
		case '.', '(', ')', '+', '|', '^', '$', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	if deep || dir {
		sb.WriteString("(/.*)?")
	}
	sb.WriteByte('$')
	return sb.String()
}

// simpleMatch covers directory and dotfile patterns the regex form misses
// for nested locations.
func simpleMatch(path, pattern string) bool {
	p := strings.TrimLeft(path, "/")
	pat := strings.TrimSpace(pattern)
	if pat == p {
		return true
	}
	if strings.HasSuffix(pat, "/**") || strings.HasSuffix(pat, "/") {
		d := strings.TrimRight(strings.TrimSuffix(pat, "/**"), "/")
		if p == d || strings.HasPrefix(p, d+"/") || strings.Contains(p, "/"+d+"/") {
			return true
		}
	}
	if !strings.Contains(pat, "/") && strings.HasPrefix(pat, ".") {
		if p[strings.LastIndexByte(p, '/')+1:] == pat {
			return true
		}
	}
	return false
}

func toSlash(p string) string {
	return strings.TrimRight(filepath.ToSlash(p), "/")
}
