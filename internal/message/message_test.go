package message

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPartRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	parts := []Part{
		{Text: &TextPart{Text: "hello"}},
		{Reasoning: &ReasoningPart{Text: "thinking about it"}},
		{ToolCall: &ToolCallPart{ID: "c1", Name: "view", Input: `{"path":"README.md"}`}},
		{ToolResult: &ToolResultPart{ToolCallID: "c1", Content: "contents", IsError: true}},
		{Finish: &FinishPart{Reason: FinishToolUse, Timestamp: ts}},
		{Image: &ImagePart{Data: "aGk=", MediaType: "image/png"}},
		{ImageURL: &ImageURLPart{URL: "https://example.com/a.png"}},
	}

	data, err := json.Marshal(parts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back []Part
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != len(parts) {
		t.Fatalf("got %d parts, want %d", len(back), len(parts))
	}

	if back[0].Text == nil || back[0].Text.Text != "hello" {
		t.Errorf("text part did not round-trip: %+v", back[0])
	}
	if back[1].Reasoning == nil || back[1].Reasoning.Text != "thinking about it" {
		t.Errorf("reasoning part did not round-trip: %+v", back[1])
	}
	if back[2].ToolCall == nil || back[2].ToolCall.ID != "c1" || back[2].ToolCall.Name != "view" {
		t.Errorf("tool call part did not round-trip: %+v", back[2])
	}
	if back[3].ToolResult == nil || !back[3].ToolResult.IsError || back[3].ToolResult.ToolCallID != "c1" {
		t.Errorf("tool result part did not round-trip: %+v", back[3])
	}
	if back[4].Finish == nil || back[4].Finish.Reason != FinishToolUse || !back[4].Finish.Timestamp.Equal(ts) {
		t.Errorf("finish part did not round-trip: %+v", back[4])
	}
	if back[5].Image == nil || back[5].Image.MediaType != "image/png" {
		t.Errorf("image part did not round-trip: %+v", back[5])
	}
	if back[6].ImageURL == nil || back[6].ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("image url part did not round-trip: %+v", back[6])
	}
}

func TestPartTaggedEncoding(t *testing.T) {
	p := Part{ToolCall: &ToolCallPart{ID: "c1", Name: "bash", Input: `{"command":"ls"}`}}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["type"] != "tool_call" {
		t.Errorf("type tag = %v, want tool_call", raw["type"])
	}
}

func TestPartUnknownType(t *testing.T) {
	var p Part
	if err := json.Unmarshal([]byte(`{"type":"video"}`), &p); err == nil {
		t.Fatal("expected error for unknown part type")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := NewAssistant("sess-1", "test-model")
	m.AppendText("Here is ")
	m.AppendText("the answer.")
	m.AddToolCall("c1", "view", `{"path":"a.go"}`)
	m.AddFinish(FinishToolUse)
	m.Usage = &TokenUsage{PromptTokens: 10, CompletionTokens: 4}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.ID != m.ID || back.Role != RoleAssistant || back.ModelID != "test-model" {
		t.Errorf("header fields did not round-trip: %+v", back)
	}
	if back.TextContent() != "Here is the answer." {
		t.Errorf("text content = %q", back.TextContent())
	}
	calls := back.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "c1" {
		t.Errorf("tool calls = %+v", calls)
	}
	if fr, ok := back.FinishReason(); !ok || fr != FinishToolUse {
		t.Errorf("finish reason = %v %v", fr, ok)
	}
	if back.Usage == nil || back.Usage.PromptTokens != 10 {
		t.Errorf("usage did not round-trip: %+v", back.Usage)
	}
}

func TestAppendTextCoalesces(t *testing.T) {
	m := NewAssistant("s", "m")
	m.AppendText("a")
	m.AppendText("b")
	if len(m.Parts) != 1 {
		t.Fatalf("expected one coalesced text part, got %d", len(m.Parts))
	}
	m.AddToolCall("c1", "ls", "{}")
	m.AppendText("c")
	if len(m.Parts) != 3 {
		t.Fatalf("expected new text part after tool call, got %d parts", len(m.Parts))
	}
}

func TestFinishReasonContinues(t *testing.T) {
	if !FinishToolUse.Continues() {
		t.Error("tool_use should continue the loop")
	}
	for _, fr := range []FinishReason{FinishEndTurn, FinishMaxTokens, FinishCancelled, FinishError} {
		if fr.Continues() {
			t.Errorf("%s should not continue the loop", fr)
		}
	}
}
