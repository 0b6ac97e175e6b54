package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type FinishReason string

const (
	FinishEndTurn   FinishReason = "end_turn"
	FinishToolUse   FinishReason = "tool_use"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// Continues reports whether the agent loop should run another turn.
func (f FinishReason) Continues() bool { return f == FinishToolUse }

type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Part is one tagged content variant of a message. Exactly one of the
// pointer fields is set, matching the "type" tag in the JSON form.
type Part struct {
	Text       *TextPart
	Reasoning  *ReasoningPart
	ToolCall   *ToolCallPart
	ToolResult *ToolResultPart
	Finish     *FinishPart
	Image      *ImagePart
	ImageURL   *ImageURLPart
}

type TextPart struct {
	Text string `json:"text"`
}

type ReasoningPart struct {
	Text string `json:"text"`
}

type ToolCallPart struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

type FinishPart struct {
	Reason    FinishReason `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}

type ImagePart struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
}

type ImageURLPart struct {
	URL string `json:"url"`
}

// taggedPart is the stable on-disk encoding: a "type" discriminator plus
// the variant's fields inlined.
type taggedPart struct {
	Type string `json:"type"`

	Text       string       `json:"text,omitempty"`
	ID         string       `json:"id,omitempty"`
	Name       string       `json:"name,omitempty"`
	Input      string       `json:"input,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Content    string       `json:"content,omitempty"`
	IsError    bool         `json:"is_error,omitempty"`
	Reason     FinishReason `json:"reason,omitempty"`
	Timestamp  *time.Time   `json:"timestamp,omitempty"`
	Data       string       `json:"data,omitempty"`
	MediaType  string       `json:"media_type,omitempty"`
	URL        string       `json:"url,omitempty"`
}

func (p Part) MarshalJSON() ([]byte, error) {
	var t taggedPart
	switch {
	case p.Text != nil:
		t = taggedPart{Type: "text", Text: p.Text.Text}
	case p.Reasoning != nil:
		t = taggedPart{Type: "reasoning", Text: p.Reasoning.Text}
	case p.ToolCall != nil:
		t = taggedPart{Type: "tool_call", ID: p.ToolCall.ID, Name: p.ToolCall.Name, Input: p.ToolCall.Input}
	case p.ToolResult != nil:
		t = taggedPart{Type: "tool_result", ToolCallID: p.ToolResult.ToolCallID, Content: p.ToolResult.Content, IsError: p.ToolResult.IsError}
	case p.Finish != nil:
		ts := p.Finish.Timestamp
		t = taggedPart{Type: "finish", Reason: p.Finish.Reason, Timestamp: &ts}
	case p.Image != nil:
		t = taggedPart{Type: "image", Data: p.Image.Data, MediaType: p.Image.MediaType}
	case p.ImageURL != nil:
		t = taggedPart{Type: "image_url", URL: p.ImageURL.URL}
	default:
		return nil, fmt.Errorf("empty content part")
	}
	return json.Marshal(t)
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var t taggedPart
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*p = Part{}
	switch t.Type {
	case "text":
		p.Text = &TextPart{Text: t.Text}
	case "reasoning":
		p.Reasoning = &ReasoningPart{Text: t.Text}
	case "tool_call":
		p.ToolCall = &ToolCallPart{ID: t.ID, Name: t.Name, Input: t.Input}
	case "tool_result":
		p.ToolResult = &ToolResultPart{ToolCallID: t.ToolCallID, Content: t.Content, IsError: t.IsError}
	case "finish":
		f := &FinishPart{Reason: t.Reason}
		if t.Timestamp != nil {
			f.Timestamp = *t.Timestamp
		}
		p.Finish = f
	case "image":
		p.Image = &ImagePart{Data: t.Data, MediaType: t.MediaType}
	case "image_url":
		p.ImageURL = &ImageURLPart{URL: t.URL}
	default:
		return fmt.Errorf("unknown content part type %q", t.Type)
	}
	return nil
}

// Message is one turn fragment. Immutable once appended to history;
// amendments produce a new message.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Parts     []Part      `json:"parts"`
	ModelID   string      `json:"model_id,omitempty"`
	Usage     *TokenUsage `json:"token_usage,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func NewUser(sessionID, text string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      RoleUser,
		Parts:     []Part{{Text: &TextPart{Text: text}}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewAssistant(sessionID, modelID string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      RoleAssistant,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewToolResults wraps tool outcomes in a tool-role message.
func NewToolResults(sessionID string, results []Part) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      RoleTool,
		Parts:     results,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToolCalls returns the tool-call parts in declaration order.
func (m *Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// TextContent concatenates all visible text parts.
func (m *Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if p.Text != nil {
			out += p.Text.Text
		}
	}
	return out
}

// FinishReason returns the terminal marker, if the message has one.
func (m *Message) FinishReason() (FinishReason, bool) {
	for _, p := range m.Parts {
		if p.Finish != nil {
			return p.Finish.Reason, true
		}
	}
	return "", false
}

// AppendText extends the trailing text part, or starts one.
func (m *Message) AppendText(delta string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Text != nil {
		m.Parts[n-1].Text.Text += delta
	} else {
		m.Parts = append(m.Parts, Part{Text: &TextPart{Text: delta}})
	}
	m.UpdatedAt = time.Now().UTC()
}

func (m *Message) AddToolCall(id, name, input string) {
	m.Parts = append(m.Parts, Part{ToolCall: &ToolCallPart{ID: id, Name: name, Input: input}})
	m.UpdatedAt = time.Now().UTC()
}

func (m *Message) AddFinish(reason FinishReason) {
	m.Parts = append(m.Parts, Part{Finish: &FinishPart{Reason: reason, Timestamp: time.Now().UTC()}})
	m.UpdatedAt = time.Now().UTC()
}
