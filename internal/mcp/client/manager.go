package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentcore/internal/config"
	"agentcore/internal/mcp/protocol"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// ErrUnknownServer is returned for server ids missing from the configuration.
var ErrUnknownServer = errors.New("unknown capability server")

// ServerStatus describes one attachment.
type ServerStatus struct {
	SessionID string `json:"session_id"`
	ServerID  string `json:"server_id"`
	Name      string `json:"name"`
	State     State  `json:"state"`
	Version   string `json:"version,omitempty"`
	ToolCount int    `json:"tool_count"`
	LastError string `json:"last_error,omitempty"`
}

// Manager attaches sessions to capability servers. Each session gets its
// own lazily connected client per server, keyed by "session:server".
type Manager struct {
	servers map[string]Config
	dial    Dialer
	policy  ReconnectPolicy

	mu      sync.Mutex
	clients map[string]*Client
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithReconnectPolicy sets the backoff used when attaching.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// NewManager creates a manager for the configured servers. workDir is the
// working directory of stdio servers.
func NewManager(servers map[string]config.MCPServerConfig, workDir string, opts ...Option) *Manager {
	m := &Manager{
		servers: make(map[string]Config, len(servers)),
		dial:    Dial,
		policy:  DefaultReconnectPolicy(),
		clients: make(map[string]*Client),
	}
	for id, sc := range servers {
		m.servers[id] = ConfigFromServer(id, sc, workDir)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func attachmentKey(sessionID, serverID string) string {
	return sessionID + ":" + serverID
}

// ServerIDs lists the configured servers, sorted.
func (m *Manager) ServerIDs() []string {
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServerName returns the display name of a server, or its id.
func (m *Manager) ServerName(serverID string) string {
	if cfg, ok := m.servers[serverID]; ok && cfg.Name != "" {
		return cfg.Name
	}
	return serverID
}

func (m *Manager) client(sessionID, serverID string) (*Client, error) {
	cfg, ok := m.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	key := attachmentKey(sessionID, serverID)

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[key]
	if !ok {
		c = New(cfg, m.dial)
		m.clients[key] = c
	}
	return c, nil
}

// Attach makes sure the session has a connected client for serverID.
func (m *Manager) Attach(ctx context.Context, sessionID, serverID string) error {
	c, err := m.client(sessionID, serverID)
	if err != nil {
		return err
	}
	return EnsureConnected(ctx, c, m.policy)
}

// Client returns an existing attachment.
func (m *Manager) Client(sessionID, serverID string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[attachmentKey(sessionID, serverID)]
	return c, ok
}

// ListTools attaches and returns the server's tools.
func (m *Manager) ListTools(ctx context.Context, sessionID, serverID string) ([]protocol.Tool, error) {
	if err := m.Attach(ctx, sessionID, serverID); err != nil {
		return nil, err
	}
	c, _ := m.client(sessionID, serverID)
	return c.Tools(), nil
}

// CallTool attaches and calls a tool. A call that fails because the
// connection dropped is retried once on a fresh connection.
func (m *Manager) CallTool(ctx context.Context, sessionID, serverID, tool string, args map[string]any) (*protocol.CallToolResult, error) {
	if err := m.Attach(ctx, sessionID, serverID); err != nil {
		return nil, err
	}
	c, _ := m.client(sessionID, serverID)

	result, err := c.CallTool(ctx, tool, args)
	if err == nil || !(errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected)) {
		return result, err
	}
	log.Info().Err(err).Str("server", serverID).Str("tool", tool).Msg("retrying tool call on a new connection")
	if err := EnsureConnected(ctx, c, m.policy); err != nil {
		return nil, err
	}
	return c.CallTool(ctx, tool, args)
}

// Detach closes one attachment.
func (m *Manager) Detach(sessionID, serverID string) error {
	key := attachmentKey(sessionID, serverID)
	m.mu.Lock()
	c, ok := m.clients[key]
	delete(m.clients, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// DetachSession closes every attachment of a session.
func (m *Manager) DetachSession(sessionID string) error {
	prefix := sessionID + ":"
	m.mu.Lock()
	var closing []*Client
	for key, c := range m.clients {
		if strings.HasPrefix(key, prefix) {
			closing = append(closing, c)
			delete(m.clients, key)
		}
	}
	m.mu.Unlock()
	return closeAll(closing)
}

// CloseAll closes every attachment.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	closing := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		closing = append(closing, c)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()
	return closeAll(closing)
}

func closeAll(clients []*Client) error {
	var result *multierror.Error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.ID(), err))
		}
	}
	return result.ErrorOrNil()
}

// Status reports every attachment, ordered by session then server.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	keys := make([]string, 0, len(m.clients))
	for key := range m.clients {
		keys = append(keys, key)
	}
	clients := make(map[string]*Client, len(m.clients))
	for k, c := range m.clients {
		clients[k] = c
	}
	m.mu.Unlock()
	sort.Strings(keys)

	out := make([]ServerStatus, 0, len(keys))
	for _, key := range keys {
		c := clients[key]
		sessionID := strings.TrimSuffix(key, ":"+c.ID())
		st := ServerStatus{
			SessionID: sessionID,
			ServerID:  c.ID(),
			Name:      c.Config().Name,
			State:     c.State(),
			Version:   c.ServerInfo().Version,
			ToolCount: len(c.Tools()),
		}
		if err := c.LastError(); err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}
