// Package builtin provides in-process hook handlers shipped with agentcore.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agentcore/internal/hooks"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuditRecord is one audited tool call or sub-agent completion.
type AuditRecord struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Event      hooks.Event `json:"event"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolUseID  string      `json:"tool_use_id,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	InputCount int         `json:"input_count,omitempty"`
	InputHash  string      `json:"input_hash,omitempty"`
	Status     string      `json:"status,omitempty"`
}

// AuditStore persists audit records.
type AuditStore interface {
	Store(record *AuditRecord) error
	Close() error
}

// LogAuditStore writes audit records to a logger.
type LogAuditStore struct {
	logger zerolog.Logger
}

// NewLogAuditStore creates a log-backed store. A nil logger uses the global one.
func NewLogAuditStore(logger *zerolog.Logger) *LogAuditStore {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &LogAuditStore{logger: l}
}

// Store implements AuditStore.
func (s *LogAuditStore) Store(record *AuditRecord) error {
	event := s.logger.Info().
		Str("audit_id", record.ID).
		Str("event", string(record.Event)).
		Time("timestamp", record.Timestamp)
	if record.ToolName != "" {
		event = event.Str("tool_name", record.ToolName)
	}
	if record.ToolUseID != "" {
		event = event.Str("tool_use_id", record.ToolUseID)
	}
	if record.SessionID != "" {
		event = event.Str("session_id", record.SessionID)
	}
	if record.InputCount > 0 {
		event = event.Int("input_count", record.InputCount)
	}
	if record.Status != "" {
		event = event.Str("status", record.Status)
	}
	event.Msg("audit record")
	return nil
}

// Close implements AuditStore.
func (s *LogAuditStore) Close() error { return nil }

// MemoryAuditStore keeps the most recent records in memory.
type MemoryAuditStore struct {
	records []*AuditRecord
	mu      sync.RWMutex
	maxSize int
}

// NewMemoryAuditStore creates a bounded in-memory store.
func NewMemoryAuditStore(maxSize int) *MemoryAuditStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryAuditStore{maxSize: maxSize}
}

// Store implements AuditStore.
func (s *MemoryAuditStore) Store(record *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) >= s.maxSize {
		s.records = s.records[1:]
	}
	s.records = append(s.records, record)
	return nil
}

// Close implements AuditStore.
func (s *MemoryAuditStore) Close() error { return nil }

// Records returns a copy of the stored records.
func (s *MemoryAuditStore) Records() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// AuditHook records completed tool calls and sub-agent runs.
type AuditHook struct {
	store         AuditStore
	includeParams bool
	counter       atomic.Uint64
}

// NewAuditHook creates an audit hook. A nil store logs records.
func NewAuditHook(store AuditStore, includeParams bool) *AuditHook {
	if store == nil {
		store = NewLogAuditStore(nil)
	}
	return &AuditHook{store: store, includeParams: includeParams}
}

// Handler returns the in-process handler.
func (h *AuditHook) Handler(id string) *hooks.Handler {
	return &hooks.Handler{
		ID:          id,
		Priority:    50,
		Source:      "_builtin",
		Description: "Audits tool calls and sub-agent runs",
		Enabled:     true,
		Handle:      h.handle,
	}
}

func (h *AuditHook) handle(_ context.Context, in *hooks.Input) hooks.Outcome {
	now := time.Now()
	record := &AuditRecord{
		ID:        fmt.Sprintf("audit-%d-%d", now.UnixNano(), h.counter.Add(1)),
		Timestamp: now,
		Event:     in.Event,
		ToolName:  in.Target.ToolName,
		ToolUseID: in.Target.ToolUseID,
		SessionID: in.Target.SessionID,
	}
	if input, ok := in.Payload["tool_input"].(map[string]any); ok {
		record.InputCount = len(input)
		if h.includeParams {
			record.InputHash = summarize(input)
		}
	}
	if status, ok := in.Payload["status"].(string); ok {
		record.Status = status
	}
	if err := h.store.Store(record); err != nil {
		log.Error().Err(err).Msg("failed to store audit record")
	}
	return hooks.Success(nil)
}

// Close releases the store.
func (h *AuditHook) Close() error {
	return h.store.Close()
}

// RegisterAuditHooks attaches the audit hook to tool and sub-agent completion.
func RegisterAuditHooks(manager *hooks.Manager, hook *AuditHook) error {
	for _, event := range []hooks.Event{hooks.EventAfterToolUse, hooks.EventSubagentStop} {
		id := fmt.Sprintf("builtin:audit:%s", event)
		if err := manager.Register(event, hook.Handler(id)); err != nil {
			return fmt.Errorf("failed to register audit hook for %s: %w", event, err)
		}
	}
	return nil
}

// summarize renders small inputs verbatim and large ones by length.
func summarize(params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "error"
	}
	if len(data) > 100 {
		return fmt.Sprintf("len=%d", len(data))
	}
	return string(data)
}
