package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"agentcore/internal/hooks"
	"agentcore/internal/policy"
	"agentcore/internal/policy/approval"
	"agentcore/internal/tools"
)

const (
	// DefaultReadLimit is the number of lines read when no limit is given.
	DefaultReadLimit = 2000
	// MaxLineChars bounds a single rendered line.
	MaxLineChars = 2000

	binarySniffBytes = 8000
	truncatedNote    = "Note: Content truncated. Use offset parameter to read more lines."
)

// ReadFileArgs defines the parameters for the read_file tool.
type ReadFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"description=Absolute path of the file to read,required"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=1-based line number to start reading from"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read (default 2000)"`
}

// ReadFileResult is the outcome of read_file.
type ReadFileResult struct {
	FilePath   string `json:"file_path"`
	Content    string `json:"content,omitempty"`
	StartLine  int    `json:"start_line,omitempty"`
	LineCount  int    `json:"line_count"`
	TotalLines int    `json:"total_lines"`
	Truncated  bool   `json:"truncated,omitempty"`
	Error      string `json:"error,omitempty"`
	Denied     bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r ReadFileResult) ToolResult() tools.ToolResult {
	if r.Error != "" {
		msg := fmt.Sprintf("Error reading file '%s': %s", r.FilePath, r.Error)
		if r.Denied {
			return tools.NewDeniedResult(msg)
		}
		return tools.NewErrorResult(msg)
	}
	content := r.Content
	if r.Truncated {
		content = truncatedNote + "\n\n" + content
	}
	return tools.NewResultWithMetadata(content, map[string]any{
		"line_count":  r.LineCount,
		"total_lines": r.TotalLines,
	})
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &readFile{deps: deps}
	return &tools.Typed[ReadFileArgs, ReadFileResult]{
		ToolName: ReadFileName,
		ToolDescription: "Read a text file. Lines are returned numbered as <line>\\t<text>. " +
			"By default up to 2000 lines are read from the start; use offset and limit for large files. " +
			"Lines longer than 2000 characters are cut.",
		Hooks: deps.Hooks,
		Core:  t.run,
		Deny: func(args ReadFileArgs, reason string) ReadFileResult {
			return ReadFileResult{FilePath: args.FilePath, Error: reason, Denied: true}
		},
		Encode: truncating[ReadFileResult](deps.MaxOutputChars),
	}
}

type readFile struct {
	deps Deps
}

func (t *readFile) run(ctx context.Context, args ReadFileArgs) (ReadFileResult, error) {
	if args.FilePath == "" {
		return ReadFileResult{}, tools.NewInvalidArgsError(ReadFileName, "file_path is required", nil)
	}
	path := resolvePath(ctx, args.FilePath)
	fail := func(msg string) (ReadFileResult, error) {
		return ReadFileResult{FilePath: args.FilePath, Error: msg}, nil
	}
	deny := func(msg string) (ReadFileResult, error) {
		return ReadFileResult{FilePath: args.FilePath, Error: msg, Denied: true}, nil
	}

	check := t.deps.Policy.CheckPath(ReadFileName, path)
	if check.Denied() {
		if t.deps.Policy.IsIgnored(path) {
			return fail(check.Reason)
		}
		return deny(check.Reason)
	}
	if reason, denied := t.deps.hook(ctx, hooks.EventBeforeReadFile, ReadFileName, map[string]any{
		"file_path": path,
	}); denied {
		return deny(reason)
	}
	if check.Decision == policy.DecisionAsk {
		if !t.deps.approve(ctx, approval.Request{
			Kind:     approval.KindGeneric,
			ToolName: ReadFileName,
			Title:    "Read " + path,
			Details:  path,
		}) {
			return deny("Read of " + path + " was rejected")
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail("File not found: " + args.FilePath)
		}
		return fail("Failed to read file: " + err.Error())
	}
	if info.IsDir() {
		return fail("Path is a directory, not a file: " + args.FilePath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail("Failed to read file: " + err.Error())
	}
	if isBinary(data) {
		return fail("Binary files are not supported")
	}

	return renderLines(args, data), nil
}

func renderLines(args ReadFileArgs, data []byte) ReadFileResult {
	lines := splitFileLines(string(data))
	total := len(lines)

	limit := args.Limit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	start := min(max(args.Offset-1, 0), total)
	end := min(start+limit, total)

	var sb strings.Builder
	for i, line := range lines[start:end] {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d\t%s", start+i+1, cutRunes(line, MaxLineChars))
	}

	res := ReadFileResult{
		FilePath:   args.FilePath,
		Content:    strings.TrimRight(sb.String(), " \t\r\n"),
		LineCount:  end - start,
		TotalLines: total,
		Truncated:  end < total,
	}
	if start > 0 {
		res.StartLine = start + 1
	}
	return res
}

// splitFileLines splits on \n, \r\n and \r. A trailing terminator does not
// start another line.
func splitFileLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binarySniffBytes)], 0) >= 0
}
