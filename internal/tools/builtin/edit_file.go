package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"agentcore/internal/hooks"
	"agentcore/internal/policy/approval"
	"agentcore/internal/tools"
)

const previewChars = 200

// EditFileArgs defines the parameters for the edit_file tool.
type EditFileArgs struct {
	FilePath         string `json:"file_path" jsonschema:"description=Absolute path of the file to edit,required"`
	OldString        string `json:"old_string" jsonschema:"description=Exact text to replace including whitespace and indentation,required"`
	NewString        string `json:"new_string" jsonschema:"description=Replacement text. Use an empty string to delete,required"`
	ShortDescription string `json:"short_description" jsonschema:"description=Short description of the edit"`
	ReplaceAll       bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of the first one"`
}

// EditLocation is where a replacement happened. Line is 1-based, Column
// 0-based.
type EditLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// EditFileResult is the outcome of edit_file.
type EditFileResult struct {
	FilePath     string         `json:"file_path"`
	Replacements int            `json:"replacements_made,omitempty"`
	OldPreview   string         `json:"old_preview,omitempty"`
	NewPreview   string         `json:"new_preview,omitempty"`
	Locations    []EditLocation `json:"edit_locations,omitempty"`
	Error        string         `json:"error,omitempty"`
	Denied       bool           `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r EditFileResult) ToolResult() tools.ToolResult {
	if r.Error != "" {
		msg := fmt.Sprintf("Error editing file '%s': %s", r.FilePath, r.Error)
		if r.Denied {
			return tools.NewDeniedResult(msg)
		}
		return tools.NewErrorResult(msg)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Successfully edited file '%s'\n", r.FilePath)
	fmt.Fprintf(&sb, "Made %d %s\n", r.Replacements, plural(r.Replacements, "replacement"))
	if len(r.Locations) > 0 {
		sb.WriteString("\nLocations:\n")
		for _, loc := range r.Locations {
			fmt.Fprintf(&sb, "- line %d, column %d\n", loc.Line, loc.Column)
		}
	}
	if r.OldPreview != "" || r.NewPreview != "" {
		fmt.Fprintf(&sb, "\nOld: %s\nNew: %s\n", r.OldPreview, r.NewPreview)
	}
	return tools.NewResultWithMetadata(strings.TrimRight(sb.String(), "\n"), map[string]any{
		"replacements_made": r.Replacements,
	})
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &editFile{deps: deps}
	return &tools.Typed[EditFileArgs, EditFileResult]{
		ToolName: EditFileName,
		ToolDescription: "Replace an exact string in an existing file. Matching is exact, including whitespace. " +
			"Only the first occurrence is replaced unless replace_all is set. old_string and new_string must differ.",
		Hooks: deps.Hooks,
		Core:  t.run,
		Deny: func(args EditFileArgs, reason string) EditFileResult {
			return EditFileResult{FilePath: args.FilePath, Error: reason, Denied: true}
		},
		Encode: truncating[EditFileResult](deps.MaxOutputChars),
	}
}

type editFile struct {
	deps Deps
}

func (t *editFile) run(ctx context.Context, args EditFileArgs) (EditFileResult, error) {
	if args.FilePath == "" {
		return EditFileResult{}, tools.NewInvalidArgsError(EditFileName, "file_path is required", nil)
	}
	path := resolvePath(ctx, args.FilePath)
	fail := func(msg string, denied bool) (EditFileResult, error) {
		return EditFileResult{FilePath: args.FilePath, Error: msg, Denied: denied}, nil
	}

	check := t.deps.Policy.CheckPath(EditFileName, path)
	if check.Denied() {
		if t.deps.Policy.IsIgnored(path) {
			return fail("ignore rules block editing this path", true)
		}
		return fail(check.Reason, true)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fail("File not found: "+args.FilePath, false)
	case err != nil:
		return fail("Failed to stat file: "+err.Error(), false)
	case !info.Mode().IsRegular():
		return fail("Path is not a file: "+args.FilePath, false)
	case info.Mode().Perm()&0o200 == 0:
		return fail("File is not writable: "+args.FilePath, false)
	}
	if args.OldString == "" {
		return fail("old_string cannot be empty", false)
	}
	if args.OldString == args.NewString {
		return fail("old_string and new_string are identical. No replacement would be made.", false)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail("Failed to read file: "+err.Error(), false)
	}
	before := string(data)
	if !strings.Contains(before, args.OldString) {
		return fail(fmt.Sprintf("String not found in file: '%s'", preview(args.OldString, 50)), false)
	}

	after, locations := replace(before, args.OldString, args.NewString, args.ReplaceAll)

	if !check.SkipApproval() {
		title := args.ShortDescription
		if title == "" {
			title = "Edit " + args.FilePath
		}
		if !t.deps.approve(ctx, approval.Request{
			Kind:     approval.KindEdit,
			ToolName: EditFileName,
			Title:    title,
			Payload:  approval.BuildEditPayload(args.FilePath, before, after),
		}) {
			return fail("Edit was rejected by the user", true)
		}
	}

	if err := os.WriteFile(path, []byte(after), info.Mode().Perm()); err != nil {
		return fail("Failed to edit file: "+err.Error(), false)
	}

	res := EditFileResult{
		FilePath:     args.FilePath,
		Replacements: len(locations),
		OldPreview:   preview(strings.TrimSpace(args.OldString), previewChars),
		NewPreview:   preview(strings.TrimSpace(args.NewString), previewChars),
		Locations:    locations,
	}

	hookLocations := make([]map[string]any, 0, len(locations))
	for _, loc := range locations {
		hookLocations = append(hookLocations, map[string]any{"line": loc.Line, "column": loc.Column})
	}
	if reason, denied := t.deps.hook(ctx, hooks.EventAfterFileEdit, EditFileName, map[string]any{
		"file_path":         path,
		"replacements_made": res.Replacements,
		"edit_locations":    hookLocations,
	}); denied {
		return fail(reason, true)
	}
	return res, nil
}

// replace substitutes old with repl once or everywhere and reports where
// each match started in the original content.
func replace(content, old, repl string, all bool) (string, []EditLocation) {
	var locations []EditLocation
	var sb strings.Builder
	rest, offset := content, 0
	for {
		i := strings.Index(rest, old)
		if i < 0 {
			break
		}
		locations = append(locations, locate(content, offset+i))
		sb.WriteString(rest[:i])
		sb.WriteString(repl)
		rest = rest[i+len(old):]
		offset += i + len(old)
		if !all {
			break
		}
	}
	sb.WriteString(rest)
	return sb.String(), locations
}

func locate(content string, offset int) EditLocation {
	head := content[:offset]
	line := strings.Count(head, "\n") + 1
	col := offset - (strings.LastIndexByte(head, '\n') + 1)
	return EditLocation{Line: line, Column: col}
}

func preview(s string, n int) string {
	cut := cutRunes(s, n)
	if cut != s {
		return cut + "..."
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
