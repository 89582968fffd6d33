package approval

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines kept around each hunk.
const contextLines = 3

// ShellPayload describes a command awaiting approval.
type ShellPayload struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Background  bool   `json:"background,omitempty"`
}

// FilePayload describes a write or edit awaiting approval.
type FilePayload struct {
	Path    string `json:"path"`
	Created bool   `json:"created,omitempty"`
	Diff    string `json:"diff"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
}

// BuildEditPayload renders the change from before to after as a unified
// diff.
func BuildEditPayload(path, before, after string) FilePayload {
	diff, added, deleted := UnifiedDiff(path, before, after)
	return FilePayload{Path: path, Diff: diff, Added: added, Deleted: deleted}
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// UnifiedDiff computes a line-level unified diff between two texts.
func UnifiedDiff(path, before, after string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	a, b, lines := encodeLines(before, after)
	diffs := diffmatchpatch.New().DiffMainRunes(a, b, false)

	var all []diffLine
	added, deleted := 0, 0
	for _, d := range diffs {
		for _, r := range d.Text {
			all = append(all, diffLine{op: d.Type, text: lines[lineIndex(r)]})
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				deleted++
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)

	oldLine, newLine := 1, 1
	for i := 0; i < len(all); {
		if all[i].op == diffmatchpatch.DiffEqual {
			oldLine++
			newLine++
			i++
			continue
		}
		// Hunk start with leading context.
		start := i
		for start > 0 && i-start < contextLines && all[start-1].op == diffmatchpatch.DiffEqual {
			start--
		}
		oldStart, newStart := oldLine-(i-start), newLine-(i-start)

		// Extend until a run of unchanged lines longer than twice the context.
		end := i
		for end < len(all) {
			if all[end].op != diffmatchpatch.DiffEqual {
				end++
				continue
			}
			run := end
			for run < len(all) && all[run].op == diffmatchpatch.DiffEqual {
				run++
			}
			if run == len(all) || run-end > 2*contextLines {
				end += min(contextLines, run-end)
				break
			}
			end = run
		}

		var body strings.Builder
		oldCount, newCount := 0, 0
		for _, l := range all[start:end] {
			switch l.op {
			case diffmatchpatch.DiffEqual:
				body.WriteString(" " + l.text + "\n")
				oldCount++
				newCount++
			case diffmatchpatch.DiffDelete:
				body.WriteString("-" + l.text + "\n")
				oldCount++
			case diffmatchpatch.DiffInsert:
				body.WriteString("+" + l.text + "\n")
				newCount++
			}
		}
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		sb.WriteString(body.String())

		oldLine = oldStart + oldCount
		newLine = newStart + newCount
		i = end
	}
	return sb.String(), added, deleted
}

// encodeLines maps every distinct line to one rune so the diff runs line by
// line. The line texts are returned without their trailing newline.
func encodeLines(before, after string) ([]rune, []rune, []string) {
	var lines []string
	seen := map[string]rune{}
	encode := func(text string) []rune {
		var out []rune
		for _, l := range splitLines(text) {
			r, ok := seen[l]
			if !ok {
				r = lineRune(len(lines))
				seen[l] = r
				lines = append(lines, l)
			}
			out = append(out, r)
		}
		return out
	}
	a := encode(before)
	b := encode(after)
	return a, b, lines
}

// lineRune skips the surrogate range, which does not survive a round trip
// through string.
func lineRune(i int) rune {
	if i >= 0xD800 {
		i += 0x800
	}
	return rune(i)
}

func lineIndex(r rune) int {
	if r >= 0xE000 {
		return int(r) - 0x800
	}
	return int(r)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
