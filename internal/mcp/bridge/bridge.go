// Package bridge exposes the tools of attached capability servers as
// ordinary tools, so they run through the same hooks, approval and events as
// the built-in ones.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentcore/internal/hooks"
	"agentcore/internal/mcp/protocol"
	"agentcore/internal/policy/approval"
	"agentcore/internal/tools"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Servers is the session-scoped view of the capability servers.
// client.Manager implements it.
type Servers interface {
	ServerName(serverID string) string
	ListTools(ctx context.Context, sessionID, serverID string) ([]protocol.Tool, error)
	Attach(ctx context.Context, sessionID, serverID string) error
	CallTool(ctx context.Context, sessionID, serverID, tool string, args map[string]any) (*protocol.CallToolResult, error)
}

// Approver asks a human before a call runs. *approval.Gate implements it.
type Approver interface {
	Request(ctx context.Context, req approval.Request) (approval.Decision, error)
}

// Bridge builds proxy tools for a session.
type Bridge struct {
	servers  Servers
	approver Approver
	hooks    hooks.Evaluator
}

// New creates a bridge. A nil approver approves everything.
func New(servers Servers, approver Approver, evaluator hooks.Evaluator) *Bridge {
	if evaluator == nil {
		evaluator = hooks.Nop{}
	}
	return &Bridge{servers: servers, approver: approver, hooks: evaluator}
}

type discoveredTool struct {
	Discovered
	info protocol.Tool
}

// Build attaches the session to each server and returns one tool per
// advertised tool. Servers that cannot be attached contribute no tools.
func (b *Bridge) Build(ctx context.Context, sessionID string, serverIDs []string) []tools.Tool {
	var found []discoveredTool
	for _, id := range serverIDs {
		listed, err := b.servers.ListTools(ctx, sessionID, id)
		if err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("server", id).Msg("capability server unavailable")
			continue
		}
		name := b.servers.ServerName(id)
		for _, t := range listed {
			found = append(found, discoveredTool{
				Discovered: Discovered{ServerID: id, ServerName: name, Tool: t.Name},
				info:       t,
			})
		}
	}

	discovered := make([]Discovered, len(found))
	for i, f := range found {
		discovered[i] = f.Discovered
	}
	names := ExposeNames(discovered)

	out := make([]tools.Tool, 0, len(found))
	for i, f := range found {
		out = append(out, b.newProxy(sessionID, names[i], f))
	}
	return out
}

// Register builds the session's proxy tools into reg. A proxy whose name is
// already registered is skipped.
func (b *Bridge) Register(ctx context.Context, sessionID string, serverIDs []string, reg *tools.Registry) error {
	for _, t := range b.Build(ctx, sessionID, serverIDs) {
		if _, exists := reg.Get(t.Name()); exists {
			log.Warn().Str("tool", t.Name()).Msg("capability tool shadows a registered tool; skipping")
			continue
		}
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Proxy forwards calls to one tool of one server.
type Proxy struct {
	*tools.Typed[map[string]any, tools.ToolResult]

	sessionID  string
	serverID   string
	serverName string
	tool       string
	validator  *jsonschema.Schema
	bridge     *Bridge
}

func (b *Bridge) newProxy(sessionID, exposed string, f discoveredTool) *Proxy {
	p := &Proxy{
		sessionID:  sessionID,
		serverID:   f.ServerID,
		serverName: f.ServerName,
		tool:       f.info.Name,
		bridge:     b,
	}

	params, err := TranslateSchema(f.info.InputSchema)
	if err != nil {
		log.Warn().Err(err).Str("server", f.ServerID).Str("tool", f.info.Name).Msg("unreadable input schema")
	}
	if len(f.info.InputSchema) > 0 {
		compiled, err := jsonschema.CompileString(NormalizeName(f.ServerID)+"."+NormalizeName(f.info.Name)+".json", string(f.info.InputSchema))
		if err != nil {
			log.Debug().Err(err).Str("tool", f.info.Name).Msg("input schema not compilable; arguments are not validated")
		} else {
			p.validator = compiled
		}
	}

	desc := strings.TrimSpace(f.info.Description)
	if desc == "" {
		desc = "Capability server tool"
	}
	p.Typed = &tools.Typed[map[string]any, tools.ToolResult]{
		ToolName:        exposed,
		ToolDescription: fmt.Sprintf("%s (server: %s)", desc, f.ServerName),
		Schema:          tools.ObjectSchema(params),
		Hooks:           b.hooks,
		Core:            p.call,
	}
	return p
}

// ServerID returns the server the proxy calls.
func (p *Proxy) ServerID() string { return p.serverID }

// SourceName returns the tool's name on its server.
func (p *Proxy) SourceName() string { return p.tool }

func (p *Proxy) call(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	args = dropNulls(args)
	sessionID := p.sessionID
	if id, ok := tools.SessionIDFromContext(ctx); ok && id != "" {
		sessionID = id
	}

	if !p.approve(ctx, sessionID, args) {
		return p.result(tools.NewDeniedResult(
			fmt.Sprintf("Error: the user rejected running %s on %s", p.tool, p.serverName))), nil
	}

	if err := p.bridge.servers.Attach(ctx, sessionID, p.serverID); err != nil {
		return p.fail("Failed to attach capability server '%s': %v", p.serverName, err), nil
	}

	if p.validator != nil {
		if err := p.validator.Validate(toJSONValue(args)); err != nil {
			return p.fail("Invalid arguments for %s: %v", p.tool, err), nil
		}
	}

	res, err := p.bridge.servers.CallTool(ctx, sessionID, p.serverID, p.tool, args)
	if err != nil {
		return p.fail("%s on %s failed: %v", p.tool, p.serverName, err), nil
	}
	content := FormatContent(res.Content)
	if res.IsError {
		return p.fail("Tool execution failed: %s", content), nil
	}
	return p.result(tools.NewSuccessResult(tools.Truncate(content, tools.DefaultMaxResultChars))), nil
}

func (p *Proxy) approve(ctx context.Context, sessionID string, args map[string]any) bool {
	if p.bridge.approver == nil {
		return true
	}
	decision, err := p.bridge.approver.Request(ctx, approval.Request{
		SessionID: sessionID,
		Kind:      approval.KindGeneric,
		ToolName:  p.Name(),
		Title:     fmt.Sprintf("Run %s on %s", p.tool, p.serverName),
		Details:   approvalDetails(p.serverID, p.serverName, p.tool, args),
		Payload: map[string]any{
			"server_id":   p.serverID,
			"server_name": p.serverName,
			"tool":        p.tool,
			"arguments":   args,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("tool", p.Name()).Msg("approval request failed")
		return false
	}
	return decision.Approved()
}

func (p *Proxy) fail(format string, a ...any) tools.ToolResult {
	return p.result(tools.NewErrorResult("Error: " + fmt.Sprintf(format, a...)))
}

func (p *Proxy) result(r tools.ToolResult) tools.ToolResult {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata["server_id"] = p.serverID
	r.Metadata["server_name"] = p.serverName
	r.Metadata["source_tool"] = p.tool
	return r
}

func approvalDetails(serverID, serverName, tool string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte(fmt.Sprint(args))
	}
	return fmt.Sprintf("ServerId: %s\nServerName: %s\nTool: %s\nArguments: %s", serverID, serverName, tool, encoded)
}

// FormatContent renders a tool result for the model: text items verbatim,
// other items as short placeholders, one per line.
func FormatContent(items []protocol.Content) string {
	if len(items) == 0 {
		return "Tool executed successfully (no content returned)"
	}
	lines := make([]string, 0, len(items))
	for _, c := range items {
		switch c.Type {
		case protocol.ContentText:
			lines = append(lines, c.Text)
		case protocol.ContentImage:
			lines = append(lines, "[image: "+c.MimeType+"]")
		case protocol.ContentResource:
			lines = append(lines, "[resource: "+c.URI+"]")
		default:
			data, _ := json.Marshal(c)
			lines = append(lines, string(data))
		}
	}
	return strings.Join(lines, "\n")
}

// dropNulls removes null values at every level.
func dropNulls(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		out[k] = dropNullValue(v)
	}
	return out
}

func dropNullValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return dropNulls(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item != nil {
				out = append(out, dropNullValue(item))
			}
		}
		return out
	}
	return v
}

// toJSONValue round-trips v so the validator sees plain JSON types.
func toJSONValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
