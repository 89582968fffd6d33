// Package client connects to capability servers and keeps one connection
// per session and server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/mcp/protocol"
	"agentcore/internal/mcp/transport"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
)

// ClientVersion is reported to servers during initialize.
const ClientVersion = "1.0.0"

const defaultTimeout = 30 * time.Second

var (
	// ErrNotConnected is returned by calls on a client without a connection.
	ErrNotConnected = errors.New("capability server not connected")
	// ErrConnectionLost is returned for calls in flight when the connection
	// drops.
	ErrConnectionLost = errors.New("capability server connection lost")
	// ErrVersionMismatch means the server's version does not satisfy the
	// configured constraint. Reconnecting does not help.
	ErrVersionMismatch = errors.New("capability server version mismatch")
)

// State is the connection state of a client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config describes one capability server.
type Config struct {
	ID        string
	Name      string
	Transport transport.Type
	Command   string
	Args      []string
	Env       map[string]string
	WorkDir   string
	URL       string
	Headers   map[string]string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
	// Version is a semver constraint on the server's reported version.
	Version string
}

// ConfigFromServer converts a configured server. Servers without an explicit
// transport use stdio when they have a command and HTTP otherwise.
func ConfigFromServer(id string, sc config.MCPServerConfig, workDir string) Config {
	cfg := Config{
		ID:        id,
		Name:      sc.Name,
		Transport: transport.Type(sc.Transport),
		Command:   sc.Command,
		Args:      sc.Args,
		Env:       sc.Env,
		WorkDir:   workDir,
		URL:       sc.URL,
		Headers:   sc.Headers,
		Timeout:   sc.Timeout,
		Version:   sc.Version,
	}
	if cfg.Name == "" {
		cfg.Name = id
	}
	if cfg.Transport == "" {
		cfg.Transport = transport.HTTP
		if cfg.Command != "" {
			cfg.Transport = transport.Stdio
		}
	}
	return cfg
}

// Dialer opens a transport to a server.
type Dialer func(ctx context.Context, cfg Config) (transport.Transport, error)

// Dial is the default Dialer.
func Dial(_ context.Context, cfg Config) (transport.Transport, error) {
	switch cfg.Transport {
	case transport.Stdio:
		return transport.StartStdio(transport.StdioOptions{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			WorkDir: cfg.WorkDir,
		})
	case transport.HTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: url is required", cfg.ID)
		}
		return transport.NewHTTP(cfg.URL, cfg.Headers, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}
}

// Client is a connection to one capability server. Connect may be called
// again after the connection drops.
type Client struct {
	cfg  Config
	dial Dialer

	connectMu sync.Mutex
	nextID    atomic.Int64

	mu      sync.RWMutex
	conn    *conn
	state   State
	lastErr error
	info    protocol.Implementation
	tools   []protocol.Tool
}

// New creates a disconnected client. A nil dial uses Dial.
func New(cfg Config, dial Dialer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if dial == nil {
		dial = Dial
	}
	return &Client{cfg: cfg, dial: dial}
}

// ID returns the server id.
func (c *Client) ID() string { return c.cfg.ID }

// Config returns the server configuration.
func (c *Client) Config() Config { return c.cfg }

// State returns the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error that moved the client to StateError.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ServerInfo returns what the server reported during initialize.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Tools returns the tools listed at connect time.
func (c *Client) Tools() []protocol.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Connect dials the server, performs the initialize handshake, checks the
// version constraint and lists the server's tools. It is a no-op on a
// connected client.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}
	c.dropConn()
	c.setState(StateConnecting, nil)

	tr, err := c.dial(ctx, c.cfg)
	if err != nil {
		c.setState(StateError, err)
		return fmt.Errorf("connect %s: %w", c.cfg.ID, err)
	}
	cn := newConn(tr)
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()
	go c.receiveLoop(cn)

	info, err := c.initialize(ctx)
	if err == nil {
		err = checkVersion(c.cfg.Version, info.Version)
	}
	var tools []protocol.Tool
	if err == nil {
		tools, err = c.listTools(ctx)
	}
	if err != nil {
		c.dropConn()
		c.setState(StateError, err)
		return fmt.Errorf("connect %s: %w", c.cfg.ID, err)
	}

	c.mu.Lock()
	c.info = info
	c.tools = tools
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()

	log.Info().
		Str("server", c.cfg.ID).
		Str("version", info.Version).
		Int("tools", len(tools)).
		Msg("capability server connected")
	return nil
}

func (c *Client) initialize(ctx context.Context) (protocol.Implementation, error) {
	var result protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "agentcore", Version: ClientVersion},
	}, &result)
	if err != nil {
		return protocol.Implementation{}, fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify(ctx, protocol.MethodInitialized); err != nil {
		return protocol.Implementation{}, fmt.Errorf("initialized notification: %w", err)
	}
	return result.ServerInfo, nil
}

func (c *Client) listTools(ctx context.Context) ([]protocol.Tool, error) {
	var all []protocol.Tool
	cursor := ""
	for {
		var page protocol.ListToolsResult
		var params any
		if cursor != "" {
			params = protocol.ListToolsParams{Cursor: cursor}
		}
		if err := c.call(ctx, protocol.MethodToolsList, params, &page); err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// checkVersion reports ErrVersionMismatch when version does not satisfy
// constraint. An empty constraint accepts anything.
func checkVersion(constraint, version string) error {
	if constraint == "" {
		return nil
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: server version %q is not semver", ErrVersionMismatch, version)
	}
	if !cons.Check(v) {
		return fmt.Errorf("%w: server version %s does not satisfy %s", ErrVersionMismatch, v, constraint)
	}
	return nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.CallToolResult, error) {
	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodToolsCall, protocol.CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, protocol.MethodPing, nil, nil)
}

// Close drops the connection.
func (c *Client) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	err := c.dropConn()
	c.setState(StateDisconnected, nil)
	return err
}

func (c *Client) dropConn() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn == nil {
		return nil
	}
	return cn.close(ErrNotConnected)
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.lastErr = err
}

func (c *Client) current() *conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	cn := c.current()
	if cn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	id := c.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	ch, err := cn.register(id)
	if err != nil {
		return err
	}
	defer cn.unregister(id)

	if err := cn.tr.Send(ctx, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: send %s: %v", ErrConnectionLost, method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-cn.done:
		return cn.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) notify(ctx context.Context, method string) error {
	cn := c.current()
	if cn == nil {
		return ErrNotConnected
	}
	req, err := protocol.NewRequest(nil, method, nil)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return cn.tr.Send(ctx, data)
}

// receiveLoop routes responses to their callers until the transport fails
// or the connection is dropped.
func (c *Client) receiveLoop(cn *conn) {
	for {
		data, err := cn.tr.Receive(cn.ctx)
		if err != nil {
			if cn.ctx.Err() != nil {
				return
			}
			lost := fmt.Errorf("%w: %v", ErrConnectionLost, err)
			log.Warn().Err(err).Str("server", c.cfg.ID).Msg("capability server connection lost")
			cn.close(lost)
			c.mu.Lock()
			if c.conn == cn {
				c.conn = nil
				c.state = StateError
				c.lastErr = lost
			}
			c.mu.Unlock()
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			log.Debug().Err(err).Str("server", c.cfg.ID).Msg("dropping malformed message")
			continue
		}
		switch {
		case msg.IsResponse():
			cn.deliver(protocol.RequestID(msg.ID), msg)
		case msg.Method == protocol.MethodPing && msg.ID != nil:
			c.pong(cn, msg.ID)
		}
	}
}

func (c *Client) pong(cn *conn, id any) {
	data, err := json.Marshal(struct {
		Jsonrpc string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{protocol.JSONRPCVersion, id, json.RawMessage(`{}`)})
	if err != nil {
		return
	}
	if err := cn.tr.Send(cn.ctx, data); err != nil {
		log.Debug().Err(err).Str("server", c.cfg.ID).Msg("ping reply failed")
	}
}

// conn is one live transport and its in-flight requests.
type conn struct {
	tr     transport.Transport
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[int64]chan *protocol.Message
	done    chan struct{}
	err     error
	closed  bool
}

func newConn(tr transport.Transport) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		tr:      tr,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int64]chan *protocol.Message),
		done:    make(chan struct{}),
	}
}

func (cn *conn) register(id int64) (chan *protocol.Message, error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return nil, cn.err
	}
	ch := make(chan *protocol.Message, 1)
	cn.pending[id] = ch
	return ch, nil
}

func (cn *conn) unregister(id int64) {
	cn.mu.Lock()
	delete(cn.pending, id)
	cn.mu.Unlock()
}

func (cn *conn) deliver(id int64, msg *protocol.Message) {
	cn.mu.Lock()
	ch, ok := cn.pending[id]
	cn.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// close fails every in-flight request with err and closes the transport.
func (cn *conn) close(err error) error {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return nil
	}
	cn.closed = true
	cn.err = err
	close(cn.done)
	cn.mu.Unlock()

	cn.cancel()
	return cn.tr.Close()
}
