package bridge

import (
	"fmt"
	"regexp"
	"strings"
)

// Discovered is a tool one attached server advertises.
type Discovered struct {
	ServerID   string
	ServerName string
	Tool       string
}

// ExposeNames picks the name each discovered tool is exposed under, in the
// order given. Names shared by tools of different attachments (compared
// case-insensitively) get the normalized server name appended; a name that
// is still taken gets _2, _3 and so on. Unique names pass through.
func ExposeNames(discovered []Discovered) []string {
	counts := make(map[string]int, len(discovered))
	for _, d := range discovered {
		counts[strings.ToLower(d.Tool)]++
	}

	used := make(map[string]bool, len(discovered))
	names := make([]string, len(discovered))
	for i, d := range discovered {
		base := d.Tool
		if counts[strings.ToLower(d.Tool)] > 1 {
			server := d.ServerName
			if strings.TrimSpace(server) == "" {
				server = d.ServerID
			}
			base = d.Tool + "_" + NormalizeName(server)
		}
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lowercases s and collapses everything but letters and digits
// into single underscores.
func NormalizeName(s string) string {
	n := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "_"), "_")
	if n == "" {
		return "server"
	}
	return n
}
