// Package events defines the callback surface a session run reports through.
package events

import (
	"sync"
)

// Credits is a provider-side usage snapshot.
type Credits struct {
	Remaining float64 `json:"remaining"`
	Used      float64 `json:"used"`
	Unit      string  `json:"unit,omitempty"`
}

// Sink receives everything a run produces. Implementations must be safe for
// concurrent use; tool output lines and sub-agent events arrive from
// different goroutines.
type Sink interface {
	OnTextReceived(text string)
	OnToolStarting(id, toolName string, args any)
	OnToolOutput(id, line string, stderr bool)
	OnToolCompleted(id, toolName string, result any)
	OnSubAgentToolStarting(parentID, childID, toolName string, args any)
	OnSubAgentToolCompleted(parentID, childID, toolName string, result any)
	OnQueuedMessagesResolved()
	OnTokenUsage(total int64)
	OnCredits(c Credits)
	OnRetry(attempt, maxAttempts int, reason string)
	OnClientException(err error)
	OnRunCompleted(output string)
}

// Base implements Sink with no-ops; embed it to override a subset.
type Base struct{}

func (Base) OnTextReceived(string) {}
func (Base) OnToolStarting(string, string, any) {}
func (Base) OnToolOutput(string, string, bool) {}
func (Base) OnToolCompleted(string, string, any) {}
func (Base) OnSubAgentToolStarting(string, string, string, any) {}
func (Base) OnSubAgentToolCompleted(string, string, string, any) {}
func (Base) OnQueuedMessagesResolved() {}
func (Base) OnTokenUsage(int64) {}
func (Base) OnCredits(Credits) {}
func (Base) OnRetry(int, int, string) {}
func (Base) OnClientException(error) {}
func (Base) OnRunCompleted(string) {}

// Nop discards every event.
var Nop Sink = Base{}

// Multi fans events out to several sinks in order.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti returns a fan-out sink over sinks. Nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

func (m *Multi) each(fn func(Sink)) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}

func (m *Multi) OnTextReceived(text string) { m.each(func(s Sink) { s.OnTextReceived(text) }) }

func (m *Multi) OnToolStarting(id, name string, args any) {
	m.each(func(s Sink) { s.OnToolStarting(id, name, args) })
}

func (m *Multi) OnToolOutput(id, line string, stderr bool) {
	m.each(func(s Sink) { s.OnToolOutput(id, line, stderr) })
}

func (m *Multi) OnToolCompleted(id, name string, result any) {
	m.each(func(s Sink) { s.OnToolCompleted(id, name, result) })
}

func (m *Multi) OnSubAgentToolStarting(parentID, childID, name string, args any) {
	m.each(func(s Sink) { s.OnSubAgentToolStarting(parentID, childID, name, args) })
}

func (m *Multi) OnSubAgentToolCompleted(parentID, childID, name string, result any) {
	m.each(func(s Sink) { s.OnSubAgentToolCompleted(parentID, childID, name, result) })
}

func (m *Multi) OnQueuedMessagesResolved() { m.each(func(s Sink) { s.OnQueuedMessagesResolved() }) }
func (m *Multi) OnTokenUsage(total int64) { m.each(func(s Sink) { s.OnTokenUsage(total) }) }
func (m *Multi) OnCredits(c Credits) { m.each(func(s Sink) { s.OnCredits(c) }) }

func (m *Multi) OnRetry(attempt, maxAttempts int, reason string) {
	m.each(func(s Sink) { s.OnRetry(attempt, maxAttempts, reason) })
}

func (m *Multi) OnClientException(err error) { m.each(func(s Sink) { s.OnClientException(err) }) }
func (m *Multi) OnRunCompleted(out string) { m.each(func(s Sink) { s.OnRunCompleted(out) }) }
