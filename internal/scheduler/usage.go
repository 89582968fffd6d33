package scheduler

import "sync"

// UsageTracker accumulates a session's token usage.
//
// Report follows a monotonic catch-up rule for cumulative counters: a value
// below the last reported one is an authoritative reset and replaces the
// total, anything else adds only the positive delta. Upstream counters that
// shrink after history compression therefore never double count.
type UsageTracker struct {
	mu         sync.Mutex
	total      int64
	last       int64
	prompt     int64
	completion int64
	tool       int64
	subAgent   int64
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Report applies a cumulative count and returns the change to the total,
// negative after a reset.
func (u *UsageTracker) Report(cumulative int64) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	before := u.total
	if cumulative < u.last {
		u.total = cumulative
	} else {
		u.total += cumulative - u.last
	}
	u.last = cumulative
	return u.total - before
}

// AddPrompt adds prompt tokens.
func (u *UsageTracker) AddPrompt(n int64) { u.add(&u.prompt, n) }

// AddCompletion adds completion tokens.
func (u *UsageTracker) AddCompletion(n int64) { u.add(&u.completion, n) }

// AddTool adds tokens spent on tool results.
func (u *UsageTracker) AddTool(n int64) { u.add(&u.tool, n) }

// AddSubAgent adds tokens spent by delegated runs.
func (u *UsageTracker) AddSubAgent(n int64) { u.add(&u.subAgent, n) }

func (u *UsageTracker) add(bucket *int64, n int64) {
	if n <= 0 {
		return
	}
	u.mu.Lock()
	*bucket += n
	u.mu.Unlock()
}

// Total returns the tracked total.
func (u *UsageTracker) Total() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// Breakdown holds the per-bucket counts.
type Breakdown struct {
	Total      int64 `json:"total"`
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Tool       int64 `json:"tool"`
	SubAgent   int64 `json:"sub_agent"`
}

// Breakdown returns a snapshot of all buckets.
func (u *UsageTracker) Breakdown() Breakdown {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Breakdown{
		Total:      u.total,
		Prompt:     u.prompt,
		Completion: u.completion,
		Tool:       u.tool,
		SubAgent:   u.subAgent,
	}
}

// Reset clears every bucket.
func (u *UsageTracker) Reset() {
	u.mu.Lock()
	u.total, u.last = 0, 0
	u.prompt, u.completion, u.tool, u.subAgent = 0, 0, 0, 0
	u.mu.Unlock()
}
