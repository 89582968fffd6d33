package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, id string) *Client {
	return &Client{
		hub:         hub,
		send:        make(chan []byte, 256),
		sessions:    make(map[string]bool),
		id:          id,
		connectedAt: time.Now(),
	}
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "test-client")

	require.True(t, hub.Register(client))
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Subscribe(client, "session-1")
	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	_, ok := hub.sessions["session-1"]
	hub.mu.RUnlock()
	assert.False(t, ok, "session index cleaned up on unregister")
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "test-client")

	hub.Subscribe(client, "session-1")
	assert.True(t, client.sessions["session-1"])
	assert.True(t, hub.sessions["session-1"][client])

	hub.Unsubscribe(client, "session-1")
	assert.False(t, client.sessions["session-1"])
	_, ok := hub.sessions["session-1"]
	assert.False(t, ok)
}

func TestHubBroadcast_TargetsSession(t *testing.T) {
	hub := runHub(t)
	subscribed := newTestClient(hub, "a")
	other := newTestClient(hub, "b")
	watcher := newTestClient(hub, "c")
	for _, c := range []*Client{subscribed, other, watcher} {
		require.True(t, hub.Register(c))
	}
	hub.Subscribe(subscribed, "session-1")
	hub.Subscribe(other, "session-2")
	hub.Subscribe(watcher, AllSessions)

	hub.Broadcast("session-1", []byte(`{"type":"event"}`))

	assert.JSONEq(t, `{"type":"event"}`, string(receive(t, subscribed)))
	assert.JSONEq(t, `{"type":"event"}`, string(receive(t, watcher)))
	select {
	case msg := <-other.send:
		t.Fatalf("unexpected message for other session: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcast_EmptySessionReachesAll(t *testing.T) {
	hub := runHub(t)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	hub.Broadcast("", []byte(`{}`))
	receive(t, a)
	receive(t, b)
}

func TestHubSink_PublishesEvents(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub, "a")
	require.True(t, hub.Register(client))
	hub.Subscribe(client, "s1")

	sink := hub.Sink("s1")
	sink.OnTextReceived("hello")
	sink.OnRunCompleted("done")

	var msg WSMessage
	require.NoError(t, json.Unmarshal(receive(t, client), &msg))
	assert.Equal(t, TypeEvent, msg.Type)
	assert.Equal(t, "s1", msg.Session)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "hello", msg.Event.Text)

	require.NoError(t, json.Unmarshal(receive(t, client), &msg))
	assert.Equal(t, "done", msg.Event.Text)
}

func TestHubRun_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := newTestClient(hub, "a")
	require.True(t, hub.Register(client))
	cancel()

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "send channel closed")
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}

	assert.False(t, hub.Register(newTestClient(hub, "late")))
	hub.Unregister(client)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubHandlers(t *testing.T) {
	hub := NewHub()

	assert.ErrorIs(t, hub.handleChat("s1", "hi"), errNoHandler)
	assert.ErrorIs(t, hub.handleCancel("s1"), errNoHandler)
	assert.ErrorIs(t, hub.handleAnswer("r1", nil), errNoHandler)
	assert.NoError(t, hub.handleApproval("r1", true, false))

	var got []string
	hub.SetChatHandler(func(sessionID, message string) error {
		got = append(got, sessionID+":"+message)
		return nil
	})
	hub.SetApprovalHandler(func(requestID string, approved, always bool) error {
		got = append(got, requestID)
		return nil
	})
	require.NoError(t, hub.handleChat("s1", "hi"))
	require.NoError(t, hub.handleApproval("r1", true, false))
	assert.Equal(t, []string{"s1:hi", "r1"}, got)
}
