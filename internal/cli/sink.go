package cli

import (
	"fmt"
	"io"
	"sync"

	"agentcore/internal/events"
)

// terminalSink prints a run's progress. Model text goes to out; tool
// activity and warnings go to status so output stays pipeable.
type terminalSink struct {
	events.Base

	mu      sync.Mutex
	out     io.Writer
	status  io.Writer
	verbose bool
	err     error
}

func newTerminalSink(out, status io.Writer, verbose bool) *terminalSink {
	return &terminalSink{
		out:     out,
		status:  status,
		verbose: verbose,
	}
}

func (s *terminalSink) printf(w io.Writer, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

func (s *terminalSink) OnTextReceived(text string) {
	s.printf(s.out, "%s\n", text)
}

func (s *terminalSink) OnToolStarting(_, toolName string, _ any) {
	s.printf(s.status, "-> %s\n", toolName)
}

func (s *terminalSink) OnToolOutput(_, line string, _ bool) {
	if s.verbose {
		s.printf(s.status, "   %s\n", line)
	}
}

func (s *terminalSink) OnSubAgentToolStarting(_, childID, toolName string, _ any) {
	s.printf(s.status, "   [%s] -> %s\n", childID, toolName)
}

func (s *terminalSink) OnRetry(attempt, maxAttempts int, reason string) {
	s.printf(s.status, "retrying (%d/%d): %s\n", attempt, maxAttempts, reason)
}

func (s *terminalSink) OnClientException(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.printf(s.status, "error: %v\n", err)
}

// Err returns the last error a run reported.
func (s *terminalSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *terminalSink) OnTokenUsage(total int64) {
	if s.verbose {
		s.printf(s.status, "tokens: %d\n", total)
	}
}
