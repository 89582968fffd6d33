package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LogEntry represents a single audit log entry.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"` // "request" or "decision"
	RequestID string    `json:"request_id"`
	Kind      Kind      `json:"kind"`
	ToolName  string    `json:"tool_name,omitempty"`
	Title     string    `json:"title,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Decision  Decision  `json:"decision,omitempty"`
	Auto      bool      `json:"auto,omitempty"`
}

func requestEntry(req *Request) LogEntry {
	return LogEntry{
		Timestamp: time.Now(),
		EventType: "request",
		RequestID: req.ID,
		Kind:      req.Kind,
		ToolName:  req.ToolName,
		Title:     req.Title,
		SessionID: req.SessionID,
	}
}

func decisionEntry(req *Request, res Resolution) LogEntry {
	return LogEntry{
		Timestamp: time.Now(),
		EventType: "decision",
		RequestID: req.ID,
		Kind:      req.Kind,
		ToolName:  req.ToolName,
		SessionID: req.SessionID,
		Decision:  res.Decision,
		Auto:      res.Auto,
	}
}

// FileLogger appends entries to a JSON lines file.
type FileLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileLogger opens path for appending, creating parent directories.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{path: path, file: file}, nil
}

// LogRequest logs an approval request event.
func (l *FileLogger) LogRequest(req *Request) error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.writeEntry(requestEntry(req))
}

// LogDecision logs an approval decision event.
func (l *FileLogger) LogDecision(req *Request, res Resolution) error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.writeEntry(decisionEntry(req, res))
}

func (l *FileLogger) writeEntry(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		log.Error().Err(err).Str("path", l.path).Msg("failed to write approval audit entry")
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the log file path.
func (l *FileLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// MemoryLogger keeps the most recent entries in memory.
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
}

// NewMemoryLogger creates a new in-memory logger with optional size limit.
func NewMemoryLogger(maxSize int) *MemoryLogger {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryLogger{maxSize: maxSize}
}

// LogRequest logs an approval request event.
func (l *MemoryLogger) LogRequest(req *Request) error {
	l.add(requestEntry(req))
	return nil
}

// LogDecision logs an approval decision event.
func (l *MemoryLogger) LogDecision(req *Request, res Resolution) error {
	l.add(decisionEntry(req, res))
	return nil
}

func (l *MemoryLogger) add(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxSize {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// Entries returns all logged entries.
func (l *MemoryLogger) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
