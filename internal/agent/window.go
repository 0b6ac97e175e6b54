package agent

import (
	"octo/internal/message"
)

// safetyMargin keeps a slice of the window free for the reply.
const safetyMargin = 0.20

// estimateTokens approximates at four characters per token.
func estimateTokens(s string) int64 {
	return int64(len(s)) / 4
}

// estimateMessage adds per-part framing overhead on top of raw text.
func estimateMessage(m *message.Message) int64 {
	var total int64
	for _, p := range m.Parts {
		switch {
		case p.Text != nil:
			total += estimateTokens(p.Text.Text)
		case p.Reasoning != nil:
			total += estimateTokens(p.Reasoning.Text)
		case p.ToolCall != nil:
			total += estimateTokens(p.ToolCall.Input) + 20
		case p.ToolResult != nil:
			total += estimateTokens(p.ToolResult.Content) + 10
		case p.Image != nil, p.ImageURL != nil:
			total += 1000
		}
	}
	if total < 1 {
		total = 1
	}
	return total
}

// trimHistory drops the oldest middle messages until the estimated
// history fits the budget less the safety margin. Two anchors in the
// history are never dropped: the first user message, and every message
// since the most recent end_turn (the turn in progress). The third, the
// system prompt, is charged against the budget but lives outside the
// history. Dropping an assistant message drags its tool-result messages
// along in the same pass, so no orphaned result survives.
func trimHistory(history []message.Message, budget int64, systemPrompt string) []message.Message {
	if len(history) == 0 || budget <= 0 {
		return history
	}

	allowed := int64(float64(budget)*(1-safetyMargin)) - estimateTokens(systemPrompt) - 200
	var total int64
	for i := range history {
		total += estimateMessage(&history[i])
	}
	if total <= allowed {
		return history
	}

	// Current turn: everything after the last end_turn.
	tailStart := 0
	for i := len(history) - 1; i >= 0; i-- {
		if fr, ok := history[i].FinishReason(); ok && fr == message.FinishEndTurn {
			tailStart = i + 1
			break
		}
	}

	firstUser := -1
	for i := range history {
		if history[i].Role == message.RoleUser {
			firstUser = i
			break
		}
	}

	keep := make([]bool, len(history))
	for i := range keep {
		keep[i] = true
	}

	// Walk the droppable middle oldest-first. Assistant messages come
	// before their results, so a dropped call poisons the matching
	// results seen later in the same walk.
	droppedCalls := make(map[string]bool)
	for i := 0; i < tailStart; i++ {
		if i == firstUser {
			continue
		}

		orphaned := false
		for _, p := range history[i].Parts {
			if p.ToolResult != nil && droppedCalls[p.ToolResult.ToolCallID] {
				orphaned = true
				break
			}
		}
		if !orphaned && total <= allowed {
			continue
		}

		keep[i] = false
		total -= estimateMessage(&history[i])
		for _, call := range history[i].ToolCalls() {
			droppedCalls[call.ID] = true
		}
	}

	out := make([]message.Message, 0, len(history))
	for i := range history {
		if keep[i] {
			out = append(out, history[i])
		}
	}
	return out
}
