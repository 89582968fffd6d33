package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(int64(7), MethodToolsCall, CallToolParams{Name: "format", Arguments: map[string]any{"path": "a.go"}})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"format","arguments":{"path":"a.go"}}}`, string(data))

	note, err := NewRequest(nil, MethodInitialized, nil)
	require.NoError(t, err)
	data, err = json.Marshal(note)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(data))
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantErr      bool
		response     bool
		notification bool
	}{
		{name: "result", input: `{"jsonrpc":"2.0","id":1,"result":{}}`, response: true},
		{name: "error", input: `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`, response: true},
		{name: "notification", input: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, notification: true},
		{name: "server request", input: `{"jsonrpc":"2.0","id":3,"method":"ping"}`},
		{name: "bad version", input: `{"jsonrpc":"1.0","id":1,"result":{}}`, wantErr: true},
		{name: "not json", input: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.response, msg.IsResponse())
			assert.Equal(t, tt.notification, msg.IsNotification())
		})
	}
}

func TestRequestID(t *testing.T) {
	assert.EqualValues(t, 5, RequestID(float64(5)))
	assert.EqualValues(t, 5, RequestID(int64(5)))
	assert.EqualValues(t, 5, RequestID(5))
	assert.EqualValues(t, 5, RequestID(json.Number("5")))
	assert.EqualValues(t, 0, RequestID("5"))
	assert.EqualValues(t, 0, RequestID(nil))
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: ErrCodeInvalidParams, Message: "bad"}
	assert.Equal(t, "rpc error -32602: bad", err.Error())
	err.Data = "path"
	assert.Equal(t, "rpc error -32602: bad (path)", err.Error())
}
