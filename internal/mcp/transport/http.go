package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionHeader carries the server-assigned session id between requests.
const SessionHeader = "Mcp-Session-Id"

// HTTPTransport posts every message to one endpoint. Replies come back in the
// response body, either as a JSON document or as an event stream of data
// lines, and are queued for Receive.
type HTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	mu        sync.Mutex
	sessionID string

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTP creates an HTTP transport. A zero timeout means 30 seconds.
func NewHTTP(endpoint string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Send posts data and queues whatever the server answers.
func (t *HTTPTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(SessionHeader, t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(SessionHeader); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return t.readEvents(ctx, resp.Body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return t.enqueue(ctx, body)
}

func (t *HTTPTransport) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var data []byte
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		msg := data
		data = nil
		return t.enqueue(ctx, msg)
	}
	for scanner.Scan() {
		text := scanner.Text()
		switch {
		case text == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(text, "data:"):
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimSpace(strings.TrimPrefix(text, "data:"))...)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return flush()
}

func (t *HTTPTransport) enqueue(ctx context.Context, msg []byte) error {
	select {
	case t.incoming <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next queued reply.
func (t *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.incoming:
		return data, nil
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the transport. Pending replies are dropped.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
