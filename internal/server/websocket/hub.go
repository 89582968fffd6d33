package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"agentcore/internal/events"
	"agentcore/internal/metrics"
	"agentcore/pkg/logger"
)

// AllSessions subscribes a client to every session.
const AllSessions = "*"

// ApprovalResponseHandler handles approval answers from clients.
type ApprovalResponseHandler func(requestID string, approved, always bool) error

// AnswerHandler handles question answers from clients.
type AnswerHandler func(requestID string, answers map[string]string) error

// ChatHandler delivers a chat message to a session.
type ChatHandler func(sessionID, message string) error

// CancelHandler cancels a session's run.
type CancelHandler func(sessionID string) error

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Session to clients mapping for targeted broadcasts.
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu sync.RWMutex

	approvalHandler ApprovalResponseHandler
	answerHandler   AnswerHandler
	chatHandler     ChatHandler
	cancelHandler   CancelHandler
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 1024),
		done:       make(chan struct{}),
	}
}

// SetApprovalHandler sets the callback for approval responses.
func (h *Hub) SetApprovalHandler(handler ApprovalResponseHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approvalHandler = handler
}

// SetAnswerHandler sets the callback for question answers.
func (h *Hub) SetAnswerHandler(handler AnswerHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.answerHandler = handler
}

// SetChatHandler sets the callback for chat messages.
func (h *Hub) SetChatHandler(handler ChatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chatHandler = handler
}

// SetCancelHandler sets the callback for cancel requests.
func (h *Hub) SetCancelHandler(handler CancelHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelHandler = handler
}

func (h *Hub) handleChat(sessionID, message string) error {
	h.mu.RLock()
	handler := h.chatHandler
	h.mu.RUnlock()
	if handler == nil {
		return errNoHandler
	}
	return handler(sessionID, message)
}

func (h *Hub) handleCancel(sessionID string) error {
	h.mu.RLock()
	handler := h.cancelHandler
	h.mu.RUnlock()
	if handler == nil {
		return errNoHandler
	}
	return handler(sessionID)
}

func (h *Hub) handleApproval(requestID string, approved, always bool) error {
	h.mu.RLock()
	handler := h.approvalHandler
	h.mu.RUnlock()
	if handler == nil {
		logger.Warn().Str("request_id", requestID).Msg("Approval response received but no handler configured")
		return nil
	}
	return handler(requestID, approved, always)
}

func (h *Hub) handleAnswer(requestID string, answers map[string]string) error {
	h.mu.RLock()
	handler := h.answerHandler
	h.mu.RUnlock()
	if handler == nil {
		return errNoHandler
	}
	return handler(requestID, answers)
}

// Run serves registrations and broadcasts until ctx ends, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().StreamClientDelta(-1)
			}
			h.sessions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.Get().StreamClientDelta(1)
			logger.Info().Str("client_id", client.id).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().StreamClientDelta(-1)

				for session := range client.sessions {
					h.dropLocked(client, session)
				}
			}
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.targetsLocked(msg.Session) {
				select {
				case client.send <- msg.Data:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) targetsLocked(session string) map[*Client]bool {
	if session == "" {
		return h.clients
	}
	targets := make(map[*Client]bool, len(h.sessions[session])+len(h.sessions[AllSessions]))
	for c := range h.sessions[session] {
		targets[c] = true
	}
	for c := range h.sessions[AllSessions] {
		targets[c] = true
	}
	return targets
}

// Register adds a client to the hub. It returns false once the hub has
// stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a session's subscriber list.
func (h *Hub) Subscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.sessions[session] = true
	if h.sessions[session] == nil {
		h.sessions[session] = make(map[*Client]bool)
	}
	h.sessions[session][client] = true

	logger.Debug().Str("client_id", client.id).Str("session", session).Msg("Client subscribed to session")
}

// Unsubscribe removes a client from a session's subscriber list.
func (h *Hub) Unsubscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.sessions, session)
	h.dropLocked(client, session)
}

func (h *Hub) dropLocked(client *Client, session string) {
	if clients, ok := h.sessions[session]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, session)
		}
	}
}

// Broadcast queues data for a session's subscribers; an empty session
// reaches every client. A full queue drops the message.
func (h *Hub) Broadcast(session string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{Session: session, Data: data}:
	default:
		logger.Warn().Str("session", session).Msg("Broadcast queue full; message dropped")
	}
}

// Publish sends a session event to the session's subscribers. It has the
// shape of events.Emitter.Publish.
func (h *Hub) Publish(ev events.Event) {
	data, err := json.Marshal(WSMessage{Type: TypeEvent, Session: ev.SessionID, Event: &ev})
	if err != nil {
		logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal event")
		return
	}
	h.Broadcast(ev.SessionID, data)
}

// Sink returns an event sink publishing a session's events to the hub.
func (h *Hub) Sink(sessionID string) events.Sink {
	return &events.Emitter{SessionID: sessionID, Publish: h.Publish}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
