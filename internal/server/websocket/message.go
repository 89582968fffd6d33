// Package websocket streams session events to websocket clients and takes
// chat messages and approval answers back.
package websocket

import "agentcore/internal/events"

// WSMessage is one websocket frame in either direction.
type WSMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Approval answers.
	RequestID string            `json:"request_id,omitempty"`
	Approved  bool              `json:"approved,omitempty"`
	Always    bool              `json:"always,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`

	// Event carries a session event to clients.
	Event *events.Event `json:"event,omitempty"`
}

// BroadcastMessage wraps a message with its target session.
type BroadcastMessage struct {
	Session string
	Data    []byte
}

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeEvent       = "event"
	TypeChat        = "chat"
	TypeCancel      = "cancel"
	TypeError       = "error"

	TypeApprovalResponse = "approval_response"
	TypeQuestionAnswer   = "question_answer"
)
