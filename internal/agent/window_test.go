package agent

import (
	"fmt"
	"strings"
	"testing"

	"octo/internal/message"
)

// buildLongHistory makes n completed turns: user question, assistant
// tool call, tool result, assistant answer ending the turn.
func buildLongHistory(turns int) []message.Message {
	var history []message.Message
	filler := strings.Repeat("x", 2000)
	for i := 0; i < turns; i++ {
		user := message.NewUser("s", fmt.Sprintf("question %d %s", i, filler))
		history = append(history, user)

		call := message.NewAssistant("s", "m")
		callID := fmt.Sprintf("call-%d", i)
		call.AddToolCall(callID, "view", `{"path":"a.go"}`)
		call.AddFinish(message.FinishToolUse)
		history = append(history, call)

		history = append(history, message.NewToolResults("s", []message.Part{
			{ToolResult: &message.ToolResultPart{ToolCallID: callID, Content: filler}},
		}))

		answer := message.NewAssistant("s", "m")
		answer.AppendText("answer " + filler)
		answer.AddFinish(message.FinishEndTurn)
		history = append(history, answer)
	}
	return history
}

func TestTrimIdentityUnderLargeBudget(t *testing.T) {
	history := buildLongHistory(10)
	out := trimHistory(history, 200_000, "sys")
	if len(out) != len(history) {
		t.Fatalf("trim changed a fitting history: %d -> %d", len(history), len(out))
	}
	for i := range out {
		if out[i].ID != history[i].ID {
			t.Fatalf("message %d replaced", i)
		}
	}
}

func TestTrimKeepsAnchors(t *testing.T) {
	history := buildLongHistory(10)
	// Current turn in progress: one more user message after the last
	// end_turn.
	inFlight := message.NewUser("s", "the current question")
	history = append(history, inFlight)

	out := trimHistory(history, 8_000, "sys")
	if len(out) >= len(history) {
		t.Fatalf("nothing trimmed under tight budget")
	}

	if out[0].ID != history[0].ID {
		t.Errorf("first user message dropped")
	}
	last := out[len(out)-1]
	if last.ID != inFlight.ID {
		t.Errorf("in-flight turn dropped")
	}

	var total int64
	for i := range out {
		total += estimateMessage(&out[i])
	}
	if limit := int64(float64(8000) * 0.8); total > limit {
		t.Errorf("trimmed history estimates %d tokens, budget %d", total, limit)
	}
}

func TestTrimDropsResultsWithTheirCalls(t *testing.T) {
	history := buildLongHistory(10)
	out := trimHistory(history, 8_000, "sys")

	calls := make(map[string]bool)
	for _, m := range out {
		for _, c := range m.ToolCalls() {
			calls[c.ID] = true
		}
	}
	for _, m := range out {
		for _, p := range m.Parts {
			if p.ToolResult != nil && !calls[p.ToolResult.ToolCallID] {
				t.Errorf("orphaned tool result %s survived trim", p.ToolResult.ToolCallID)
			}
		}
	}
}

func TestTrimEmptyHistory(t *testing.T) {
	if out := trimHistory(nil, 1000, "sys"); len(out) != 0 {
		t.Fatalf("empty history trim = %d messages", len(out))
	}
}

func TestEstimateMessageFloorsAtOne(t *testing.T) {
	m := message.NewAssistant("s", "m")
	if est := estimateMessage(&m); est != 1 {
		t.Errorf("empty message estimate = %d", est)
	}
}
