package db

import (
	"testing"

	"octo/internal/message"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateSession("s1", "fix the parser"); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "fix the parser" || sess.Cost != 0 {
		t.Errorf("session = %+v", sess)
	}

	if err := s.AddUsage("s1", message.TokenUsage{PromptTokens: 100, CompletionTokens: 40}, 0.0123); err != nil {
		t.Fatal(err)
	}
	if err := s.AddUsage("s1", message.TokenUsage{PromptTokens: 50, CompletionTokens: 10}, 0.002); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.GetSession("s1")
	if sess.PromptTokens != 150 || sess.CompletionTokens != 50 {
		t.Errorf("accumulated usage = %+v", sess)
	}
	if diff := sess.Cost - 0.0143; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("accumulated cost = %f", sess.Cost)
	}

	if err := s.DeleteSession("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession("s1"); err == nil {
		t.Error("deleted session still readable")
	}
}

func TestMessageRoundTripThroughStore(t *testing.T) {
	s := openTestStore(t)
	s.CreateSession("s1", "t")

	asst := message.NewAssistant("s1", "test-model")
	asst.AppendText("checking the file")
	asst.AddToolCall("c1", "view", `{"path":"main.go"}`)
	asst.AddFinish(message.FinishToolUse)
	if err := s.AppendMessage(asst); err != nil {
		t.Fatal(err)
	}

	toolMsg := message.NewToolResults("s1", []message.Part{
		{ToolResult: &message.ToolResultPart{ToolCallID: "c1", Content: "package main"}},
	})
	if err := s.AppendMessage(toolMsg); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Messages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}

	back := msgs[0]
	if back.Role != message.RoleAssistant || back.ModelID != "test-model" {
		t.Errorf("assistant header = %+v", back)
	}
	if back.TextContent() != "checking the file" {
		t.Errorf("text = %q", back.TextContent())
	}
	calls := back.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "c1" {
		t.Errorf("calls = %+v", calls)
	}
	if fr, ok := back.FinishReason(); !ok || fr != message.FinishToolUse {
		t.Errorf("finish = %v %v", fr, ok)
	}

	if msgs[1].Parts[0].ToolResult == nil || msgs[1].Parts[0].ToolResult.Content != "package main" {
		t.Errorf("tool result = %+v", msgs[1].Parts[0])
	}
}

func TestMessagesReloadInInsertOrder(t *testing.T) {
	s := openTestStore(t)
	s.CreateSession("s1", "t")

	// All appends land within the same wall-clock second; only the
	// insertion sequence can order them.
	var ids []string
	for i := 0; i < 20; i++ {
		m := message.NewUser("s1", "msg")
		if err := s.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	msgs, err := s.Messages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(ids) {
		t.Fatalf("reloaded %d messages, want %d", len(msgs), len(ids))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Fatalf("position %d has id %s, want %s (insert order lost)", i, m.ID, ids[i])
		}
	}
}

func TestListSessionsListsAll(t *testing.T) {
	s := openTestStore(t)
	s.CreateSession("old", "a")
	s.CreateSession("new", "b")
	s.AddUsage("new", message.TokenUsage{}, 0) // touch

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("listed %d sessions", len(sessions))
	}
}
