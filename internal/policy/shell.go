package policy

import (
	"strings"
	"unicode"
)

// readerCommands are commands whose operands are file paths.
var readerCommands = map[string]bool{
	"cat": true, "grep": true, "rg": true, "sed": true, "awk": true,
	"head": true, "tail": true, "less": true, "more": true, "wc": true,
	"stat": true, "file": true,
}

// CommandPaths extracts the tokens of a shell command that refer to files:
// operands of reader commands, redirection targets, -f/--file= arguments
// and anything that looks like a path.
func CommandPaths(command string) []string {
	var paths []string
	lastWasReader := false
	expectFile := false

	for _, t := range Tokenize(command) {
		if strings.HasPrefix(t, "-") {
			if t == "-f" {
				expectFile = true
			} else if v, ok := strings.CutPrefix(t, "--file="); ok && v != "" {
				paths = append(paths, v)
			}
			continue
		}
		if expectFile {
			paths = append(paths, t)
			expectFile = false
			continue
		}
		if i := strings.LastIndexAny(t, "<>"); i >= 0 && i < len(t)-1 {
			paths = append(paths, t[i+1:])
		}
		isReader := readerCommands[t]
		if lastWasReader && !isReader {
			paths = append(paths, t)
		} else if !isReader && looksLikePath(t) {
			paths = append(paths, t)
		}
		lastWasReader = isReader
	}
	return paths
}

// Tokenize splits a command on whitespace honoring single and double
// quotes. Quotes are removed; no other shell syntax is interpreted.
func Tokenize(s string) []string {
	var out []string
	var sb strings.Builder
	var quote rune
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				sb.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case unicode.IsSpace(c):
			if sb.Len() > 0 {
				out = append(out, sb.String())
				sb.Reset()
			}
		default:
			sb.WriteRune(c)
		}
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}

func looksLikePath(t string) bool {
	return strings.Contains(t, "/")
}
