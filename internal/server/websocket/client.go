package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agentcore/pkg/logger"
)

const (
	writeTimeout = 10 * time.Second
	// readTimeout must exceed pingInterval; every pong extends it.
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 1 << 20
	sendBuffer   = 256
)

var errNoHandler = errors.New("no handler configured")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one connected event subscriber. It may also drive sessions by
// sending chat, cancel and approval messages.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	sessions    map[string]bool
	id          string
	connectedAt time.Time
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		sessions:    make(map[string]bool),
		id:          uuid.NewString(),
		connectedAt: time.Now(),
	}
}

// ID returns the client id. It doubles as the session of chats that name
// none.
func (c *Client) ID() string { return c.id }

// requestError is reported back to the client as an error message.
type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.code + ": " + e.msg }

func invalid(msg string) error { return &requestError{code: "INVALID_REQUEST", msg: msg} }

func failed(code string, err error) error {
	if err == nil {
		return nil
	}
	return &requestError{code: code, msg: err.Error()}
}

// handlers maps an inbound message type to its action.
var handlers = map[string]func(*Client, WSMessage) error{
	TypePing: func(c *Client, _ WSMessage) error {
		c.enqueue(WSMessage{Type: TypePong})
		return nil
	},
	TypeSubscribe: func(c *Client, m WSMessage) error {
		if m.Session != "" {
			c.hub.Subscribe(c, m.Session)
		}
		return nil
	},
	TypeUnsubscribe: func(c *Client, m WSMessage) error {
		if m.Session != "" {
			c.hub.Unsubscribe(c, m.Session)
		}
		return nil
	},
	TypeChat: func(c *Client, m WSMessage) error {
		if m.Message == "" {
			return invalid("chat message is required")
		}
		session := m.Session
		if session == "" {
			session = c.id
		}
		c.hub.Subscribe(c, session)
		return failed("CHAT_ERROR", c.hub.handleChat(session, m.Message))
	},
	TypeCancel: func(c *Client, m WSMessage) error {
		if m.Session == "" {
			return invalid("cancel requires session")
		}
		return failed("CANCEL_ERROR", c.hub.handleCancel(m.Session))
	},
	TypeApprovalResponse: func(c *Client, m WSMessage) error {
		if m.RequestID == "" {
			return invalid("approval response requires request_id")
		}
		return failed("APPROVAL_ERROR", c.hub.handleApproval(m.RequestID, m.Approved, m.Always))
	},
	TypeQuestionAnswer: func(c *Client, m WSMessage) error {
		if m.RequestID == "" {
			return invalid("question answer requires request_id")
		}
		return failed("ANSWER_ERROR", c.hub.handleAnswer(m.RequestID, m.Answers))
	},
}

func (c *Client) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Str("client_id", c.id).Msg("Malformed client message")
		c.reportError(&requestError{code: "INVALID_MESSAGE", msg: "failed to parse message"})
		return
	}

	handle, ok := handlers[msg.Type]
	if !ok {
		logger.Debug().Str("client_id", c.id).Str("type", msg.Type).Msg("Ignoring client message")
		return
	}
	if err := handle(c, msg); err != nil {
		logger.Warn().
			Err(err).
			Str("client_id", c.id).
			Str("type", msg.Type).
			Str("session", msg.Session).
			Msg("Client request failed")
		c.reportError(err)
	}
}

func (c *Client) reportError(err error) {
	var re *requestError
	if !errors.As(err, &re) {
		re = &requestError{code: "INTERNAL_ERROR", msg: err.Error()}
	}
	c.enqueue(WSMessage{Type: TypeError, Code: re.code, Message: re.msg})
}

// enqueue drops the message when the client is not keeping up.
func (c *Client) enqueue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Debug().Str("client_id", c.id).Str("type", msg.Type).Msg("Send buffer full; message dropped")
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		logger.Debug().
			Str("client_id", c.id).
			Dur("connected", time.Since(c.connectedAt)).
			Msg("Client disconnected")
	}()

	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetPongHandler(extend)
	_ = extend("")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Str("client_id", c.id).Msg("Client connection lost")
			}
			return
		}
		c.handleMessage(data)
	}
}

// writeLoop owns all writes to the connection. It ends when the hub closes
// send or a write fails.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case data, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, data)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			logger.Debug().Err(err).Str("client_id", c.id).Msg("Client write failed")
			return
		}
	}
}

// Serve upgrades the request and attaches the connection to hub. The
// optional "session" query parameter subscribes it at once.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(hub, conn)
	if !hub.Register(client) {
		_ = conn.Close()
		return
	}
	if session := r.URL.Query().Get("session"); session != "" {
		hub.Subscribe(client, session)
	}

	go client.writeLoop()
	go client.readLoop()
}
