// Package transport moves JSON-RPC messages between the client and a
// capability server.
package transport

import (
	"context"
	"errors"
)

// Type selects a transport.
type Type string

const (
	// Stdio runs the server as a subprocess speaking newline-delimited JSON.
	Stdio Type = "stdio"
	// HTTP posts each message to the server and reads replies from the
	// response body.
	HTTP Type = "http"
)

// ErrClosed is returned by a transport after Close or once the server side
// has gone away.
var ErrClosed = errors.New("transport closed")

// Transport carries complete JSON-RPC messages.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next inbound message.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
