package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"agentcore/internal/hooks"
	"agentcore/internal/policy/approval"
	"agentcore/internal/tools"
)

// WriteFileArgs defines the parameters for the write_file tool.
type WriteFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"description=Absolute path of the file to write,required"`
	Content  string `json:"content" jsonschema:"description=Full content of the file. Must not be empty,required"`
}

// WriteFileResult is the outcome of write_file.
type WriteFileResult struct {
	FilePath     string `json:"file_path"`
	BytesWritten int    `json:"bytes_written,omitempty"`
	Created      bool   `json:"created,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	Denied       bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r WriteFileResult) ToolResult() tools.ToolResult {
	if r.Error != "" {
		msg := fmt.Sprintf("Error writing file '%s': %s", r.FilePath, r.Error)
		if r.Denied {
			return tools.NewDeniedResult(msg)
		}
		return tools.NewErrorResult(msg)
	}
	return tools.NewResultWithMetadata(fmt.Sprintf("File '%s' %s", r.FilePath, r.Message), map[string]any{
		"bytes_written": r.BytesWritten,
		"created":       r.Created,
	})
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &writeFile{deps: deps}
	return &tools.Typed[WriteFileArgs, WriteFileResult]{
		ToolName: WriteFileName,
		ToolDescription: "Write content to a file, creating it and its parent directories if needed " +
			"or overwriting it completely. The write is shown to the user as a diff for approval.",
		Hooks: deps.Hooks,
		Core:  t.run,
		Deny: func(args WriteFileArgs, reason string) WriteFileResult {
			return WriteFileResult{FilePath: args.FilePath, Error: reason, Denied: true}
		},
		Encode: truncating[WriteFileResult](deps.MaxOutputChars),
	}
}

type writeFile struct {
	deps Deps
}

func (t *writeFile) run(ctx context.Context, args WriteFileArgs) (WriteFileResult, error) {
	if args.FilePath == "" {
		return WriteFileResult{}, tools.NewInvalidArgsError(WriteFileName, "file_path is required", nil)
	}
	path := resolvePath(ctx, args.FilePath)
	fail := func(msg string, denied bool) (WriteFileResult, error) {
		return WriteFileResult{FilePath: args.FilePath, Error: msg, Denied: denied}, nil
	}

	check := t.deps.Policy.CheckPath(WriteFileName, path)
	if check.Denied() {
		if t.deps.Policy.IsIgnored(path) {
			return fail("ignore rules block writing to this path", true)
		}
		return fail(check.Reason, true)
	}
	if strings.TrimSpace(args.Content) == "" {
		return fail("Content field is required and cannot be empty", false)
	}

	before, mode, exists, err := readExisting(path)
	if err != nil {
		return fail(err.Error(), false)
	}

	if !check.SkipApproval() {
		payload := approval.BuildEditPayload(args.FilePath, before, args.Content)
		payload.Created = !exists
		title := "Overwrite " + args.FilePath
		if !exists {
			title = "Create " + args.FilePath
		}
		if !t.deps.approve(ctx, approval.Request{
			Kind:     approval.KindWrite,
			ToolName: WriteFileName,
			Title:    title,
			Payload:  payload,
		}) {
			return fail("Write was rejected by the user", true)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail("Failed to write file: "+err.Error(), false)
	}
	if err := os.WriteFile(path, []byte(args.Content), mode); err != nil {
		return fail("Failed to write file: "+err.Error(), false)
	}

	res := WriteFileResult{
		FilePath:     args.FilePath,
		BytesWritten: len(args.Content),
		Created:      !exists,
	}
	action := "overwritten"
	if res.Created {
		action = "created"
	}
	res.Message = fmt.Sprintf("File %s successfully. %d bytes written.", action, res.BytesWritten)

	if reason, denied := t.deps.hook(ctx, hooks.EventAfterFileEdit, WriteFileName, map[string]any{
		"file_path":     path,
		"bytes_written": res.BytesWritten,
		"created":       res.Created,
	}); denied {
		return fail(reason, true)
	}
	return res, nil
}

// readExisting returns the current content and mode of path. A missing file
// is not an error.
func readExisting(path string) (string, os.FileMode, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0o644, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("Failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", 0, false, fmt.Errorf("Path is a directory, not a file: %s", path)
	}
	if info.Mode().Perm()&0o200 == 0 {
		return "", 0, false, fmt.Errorf("File is not writable: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, false, fmt.Errorf("Failed to read file: %w", err)
	}
	return string(data), info.Mode().Perm(), true, nil
}
