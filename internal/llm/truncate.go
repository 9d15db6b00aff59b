package llm

import "unicode/utf8"

// EstimateTokens approximates four characters per token.
func EstimateTokens(m Message) int {
	n := utf8.RuneCountInString(m.Content)
	for _, tc := range m.ToolCalls {
		n += utf8.RuneCountInString(tc.Name) + utf8.RuneCountInString(tc.Arguments)
	}
	return (n + 3) / 4
}

// MaxAllowedTokens is the history budget left once the completion reserve is
// taken out of the context window.
func MaxAllowedTokens(contextWindow, completionReserve int) int {
	budget := contextWindow - completionReserve
	if budget < 1 {
		return 1
	}
	return budget
}

// TruncateMessages keeps the most recent messages that fit maxTokens. The
// latest message is always kept, data messages are dropped, and the window
// never starts on a tool result orphaned from its call.
func TruncateMessages(messages []Message, maxTokens int) []Message {
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleData {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return filtered
	}

	start := len(filtered) - 1
	used := EstimateTokens(filtered[start])
	for i := start - 1; i >= 0; i-- {
		cost := EstimateTokens(filtered[i])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	for start < len(filtered)-1 && filtered[start].Role == RoleTool {
		start++
	}
	return filtered[start:]
}
