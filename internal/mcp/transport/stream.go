package transport

import (
	"bufio"
	"context"
	"io"
	"sync"
)

const maxLineBytes = 4 * 1024 * 1024

type line struct {
	data []byte
	err  error
}

// Stream is a newline-delimited transport over a reader and writer. A single
// goroutine owns the reader, so a cancelled Receive never loses a message.
type Stream struct {
	w       io.WriteCloser
	onClose func() error

	writeMu sync.Mutex
	lines   chan line
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStream starts reading r. onClose, when non-nil, runs after w is closed.
func NewStream(r io.Reader, w io.WriteCloser, onClose func() error) *Stream {
	s := &Stream{
		w:       w,
		onClose: onClose,
		lines:   make(chan line, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		data := make([]byte, len(raw))
		copy(data, raw)
		select {
		case s.lines <- line{data: data}:
		case <-s.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.lines <- line{err: err}:
	case <-s.done:
	}
}

// Send writes data followed by a newline.
func (s *Stream) Send(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	buf := make([]byte, 0, len(data)+1)
	buf = append(append(buf, data...), '\n')
	_, err := s.w.Write(buf)
	return err
}

// Receive returns the next non-empty line. After the reader ends every call
// returns the terminal error.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case l := <-s.lines:
		if l.err != nil {
			s.requeue(l.err)
			return nil, l.err
		}
		return l.data, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requeue keeps reporting a reader failure to later Receive calls.
func (s *Stream) requeue(err error) {
	select {
	case s.lines <- line{err: err}:
	default:
	}
}

// Close closes the writer and runs onClose once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.w.Close()
		if s.onClose != nil {
			if err := s.onClose(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
