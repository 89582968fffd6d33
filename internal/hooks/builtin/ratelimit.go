package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentcore/internal/hooks"

	"github.com/rs/zerolog/log"
)

// RateLimitHook denies tool calls once a session exceeds a sliding-window budget.
type RateLimitHook struct {
	maxCalls int
	window   time.Duration
	now      func() time.Time

	counters map[string]*slidingWindow
	mu       sync.Mutex
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewRateLimitHook creates a limiter. Non-positive values fall back to 60 calls per minute.
func NewRateLimitHook(maxCalls int, window time.Duration) *RateLimitHook {
	if maxCalls <= 0 {
		maxCalls = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimitHook{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*slidingWindow),
	}
}

// Handler returns the in-process handler.
func (h *RateLimitHook) Handler(id string) *hooks.Handler {
	return &hooks.Handler{
		ID:          id,
		Priority:    80,
		Source:      "_builtin",
		Description: "Limits tool calls per session",
		Enabled:     true,
		Handle:      h.handle,
	}
}

func (h *RateLimitHook) handle(_ context.Context, in *hooks.Input) hooks.Outcome {
	key := "_global"
	if in.Target.SessionID != "" {
		key = "session:" + in.Target.SessionID
	}

	h.mu.Lock()
	w, ok := h.counters[key]
	if !ok {
		w = &slidingWindow{}
		h.counters[key] = w
	}
	count := w.add(h.now(), h.window)
	h.mu.Unlock()

	if count > h.maxCalls {
		log.Warn().
			Str("key", key).
			Int("count", count).
			Int("max", h.maxCalls).
			Dur("window", h.window).
			Msg("tool rate limit exceeded")
		return hooks.Denied(fmt.Sprintf("rate limit exceeded: %d tool calls in %s", h.maxCalls, h.window))
	}
	return hooks.Success(nil)
}

// add records now and returns the count inside the window.
func (sw *slidingWindow) add(now time.Time, window time.Duration) int {
	sw.timestamps = append(sw.timestamps, now)
	cutoff := now.Add(-window)
	start := 0
	for start < len(sw.timestamps) && !sw.timestamps[start].After(cutoff) {
		start++
	}
	sw.timestamps = sw.timestamps[start:]
	return len(sw.timestamps)
}

// Reset clears the counter of a session.
func (h *RateLimitHook) Reset(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.counters, "session:"+sessionID)
}

// RegisterRateLimitHook attaches the limiter to before_tool_use.
func RegisterRateLimitHook(manager *hooks.Manager, hook *RateLimitHook) error {
	return manager.Register(hooks.EventBeforeToolUse, hook.Handler("builtin:ratelimit:before_tool_use"))
}
