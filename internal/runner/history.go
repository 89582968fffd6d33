package runner

import (
	"agentcore/internal/provider"
)

// HistoryManager trims conversation history to message and token limits.
type HistoryManager struct {
	maxMessages int
	maxTokens   int
}

// NewHistoryManager creates a HistoryManager; non-positive limits fall back
// to 100 messages and 100000 tokens.
func NewHistoryManager(maxMessages, maxTokens int) *HistoryManager {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	if maxTokens <= 0 {
		maxTokens = 100000
	}
	return &HistoryManager{
		maxMessages: maxMessages,
		maxTokens:   maxTokens,
	}
}

// EstimateTokens approximates the token count of content at three bytes per
// token, a middle ground between English and CJK text.
func (hm *HistoryManager) EstimateTokens(content string) int {
	return (len(content) + 2) / 3
}

func (hm *HistoryManager) messageTokens(msg provider.Message) int {
	total := hm.EstimateTokens(msg.Content) + 4
	for _, tc := range msg.ToolCalls {
		total += hm.EstimateTokens(tc.Name) + hm.EstimateTokens(tc.Arguments)
	}
	return total
}

// EstimateMessagesTokens estimates total tokens for a message slice.
func (hm *HistoryManager) EstimateMessagesTokens(messages []provider.Message) int {
	total := 0
	for _, msg := range messages {
		total += hm.messageTokens(msg)
	}
	return total
}

// ShouldCompress reports whether messages exceed either limit.
func (hm *HistoryManager) ShouldCompress(messages []provider.Message) bool {
	return len(messages) > hm.maxMessages || hm.EstimateMessagesTokens(messages) > hm.maxTokens
}

// Compress keeps every system message plus the most recent conversation
// messages that fit. The kept tail never starts with a tool result whose
// assistant call was dropped. It reports whether anything was removed.
func (hm *HistoryManager) Compress(messages []provider.Message) ([]provider.Message, bool) {
	if len(messages) == 0 || !hm.ShouldCompress(messages) {
		return messages, false
	}

	var systemMsgs, convMsgs []provider.Message
	for _, msg := range messages {
		if msg.Role == provider.RoleSystem {
			systemMsgs = append(systemMsgs, msg)
		} else {
			convMsgs = append(convMsgs, msg)
		}
	}

	availableTokens := hm.maxTokens - hm.EstimateMessagesTokens(systemMsgs)
	availableMessages := hm.maxMessages - len(systemMsgs)
	if availableMessages <= 0 {
		availableMessages = 2
	}
	if availableTokens <= 0 {
		availableTokens = 1000
	}

	start := len(convMsgs)
	used := 0
	for i := len(convMsgs) - 1; i >= 0; i-- {
		cost := hm.messageTokens(convMsgs[i])
		if len(convMsgs)-i > availableMessages || used+cost > availableTokens {
			break
		}
		used += cost
		start = i
	}
	for start < len(convMsgs) && convMsgs[start].Role == provider.RoleTool {
		start++
	}

	result := make([]provider.Message, 0, len(systemMsgs)+len(convMsgs)-start)
	result = append(result, systemMsgs...)
	result = append(result, convMsgs[start:]...)
	return result, true
}
