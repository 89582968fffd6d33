package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil)

	assert.Same(t, hub, client.hub)
	assert.NotNil(t, client.sessions)
	assert.NotNil(t, client.send)
	assert.NotEmpty(t, client.ID())
	assert.False(t, client.connectedAt.IsZero())
}

func decode(t *testing.T, data []byte) WSMessage {
	t.Helper()
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestClientHandleMessage(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "test-client")
	require.True(t, hub.Register(client))

	t.Run("subscribe and unsubscribe", func(t *testing.T) {
		client.handleMessage([]byte(`{"type":"subscribe","session":"s1"}`))
		assert.True(t, client.sessions["s1"])
		client.handleMessage([]byte(`{"type":"unsubscribe","session":"s1"}`))
		assert.False(t, client.sessions["s1"])
	})

	t.Run("ping", func(t *testing.T) {
		client.handleMessage([]byte(`{"type":"ping"}`))
		assert.Equal(t, TypePong, decode(t, receive(t, client)).Type)
	})

	t.Run("invalid json", func(t *testing.T) {
		client.handleMessage([]byte("invalid json"))
		msg := decode(t, receive(t, client))
		assert.Equal(t, TypeError, msg.Type)
		assert.Equal(t, "INVALID_MESSAGE", msg.Code)
	})

	t.Run("chat without handler", func(t *testing.T) {
		client.handleMessage([]byte(`{"type":"chat","session":"s2","message":"hi"}`))
		msg := decode(t, receive(t, client))
		assert.Equal(t, "CHAT_ERROR", msg.Code)
		assert.True(t, client.sessions["s2"], "chat subscribes the sender")
	})

	t.Run("chat defaults to client session", func(t *testing.T) {
		var gotSession, gotMessage string
		hub.SetChatHandler(func(sessionID, message string) error {
			gotSession, gotMessage = sessionID, message
			return nil
		})
		client.handleMessage([]byte(`{"type":"chat","message":"hello"}`))
		assert.Equal(t, "test-client", gotSession)
		assert.Equal(t, "hello", gotMessage)
	})

	t.Run("empty chat rejected", func(t *testing.T) {
		client.handleMessage([]byte(`{"type":"chat"}`))
		assert.Equal(t, "INVALID_REQUEST", decode(t, receive(t, client)).Code)
	})

	t.Run("cancel", func(t *testing.T) {
		hub.SetCancelHandler(func(sessionID string) error {
			return errors.New("session not found")
		})
		client.handleMessage([]byte(`{"type":"cancel","session":"nope"}`))
		msg := decode(t, receive(t, client))
		assert.Equal(t, "CANCEL_ERROR", msg.Code)
		assert.Equal(t, "session not found", msg.Message)
	})

	t.Run("approval response", func(t *testing.T) {
		var got struct {
			id               string
			approved, always bool
		}
		hub.SetApprovalHandler(func(requestID string, approved, always bool) error {
			got.id, got.approved, got.always = requestID, approved, always
			return nil
		})
		client.handleMessage([]byte(`{"type":"approval_response","request_id":"r1","approved":true,"always":true}`))
		assert.Equal(t, "r1", got.id)
		assert.True(t, got.approved)
		assert.True(t, got.always)

		client.handleMessage([]byte(`{"type":"approval_response"}`))
		assert.Equal(t, "INVALID_REQUEST", decode(t, receive(t, client)).Code)
	})

	t.Run("question answer", func(t *testing.T) {
		var answers map[string]string
		hub.SetAnswerHandler(func(requestID string, a map[string]string) error {
			answers = a
			return nil
		})
		client.handleMessage([]byte(`{"type":"question_answer","request_id":"q1","answers":{"color":"blue"}}`))
		assert.Equal(t, map[string]string{"color": "blue"}, answers)
	})
}

func TestServe(t *testing.T) {
	hub := runHub(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?session=s1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: TypePing}))
	var pong WSMessage
	require.NoError(t, ws.ReadJSON(&pong))
	assert.Equal(t, TypePong, pong.Type)

	hub.Sink("s1").OnTextReceived("streamed")
	var ev WSMessage
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, TypeEvent, ev.Type)
	require.NotNil(t, ev.Event)
	assert.Equal(t, "streamed", ev.Event.Text)
}
