package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/tidwall/gjson"

	"octo/internal/message"
	"octo/internal/tools"
)

// minRequestInterval throttles back-to-back requests from one API key.
const minRequestInterval = 500 * time.Millisecond

// OpenAI speaks the chat-completions SSE wire format against any
// OpenAI-compatible base URL. The agent loop owns retry policy, so the
// SDK's built-in retries are disabled.
type OpenAI struct {
	client openai.Client
	model  Model

	mu   sync.Mutex
	last time.Time
}

func NewOpenAI(apiKey, baseURL string, model Model) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (p *OpenAI) Model() Model { return p.model }

func (p *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	p.throttle()

	params := openai.ChatCompletionNewParams{
		Model:     p.model.ID,
		Messages:  convertMessages(req.Messages, req.SystemPrompt),
		MaxTokens: openai.Int(p.model.MaxTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	inner := p.client.Chat.Completions.NewStreaming(ctx, params)
	// A request-level failure (429, auth, DNS) surfaces on the first
	// Next; probing here lets callers retry before any event is consumed.
	s := &openaiStream{inner: inner, open: make(map[int64]string)}
	if !s.prime() {
		if err := s.Err(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *OpenAI) throttle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wait := minRequestInterval - time.Since(p.last); wait > 0 {
		time.Sleep(wait)
	}
	p.last = time.Now()
}

func convertMessages(msgs []message.Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}

	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case message.RoleSystem:
			continue
		case message.RoleUser:
			if text := m.TextContent(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case message.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := m.TextContent(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			for _, c := range m.ToolCalls() {
				input := c.Input
				if !json.Valid([]byte(input)) {
					input = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: c.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      c.Name,
							Arguments: input,
						},
					},
				})
			}
			if assistant.Content.OfString.Valid() || len(assistant.ToolCalls) > 0 {
				out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			}
		case message.RoleTool:
			for _, part := range m.Parts {
				if part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.ToolCallID, part.ToolResult.Content))
				}
			}
		}
	}
	return out
}

func convertTools(defs []tools.Definition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		required := d.Required
		if required == nil {
			required = []string{}
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": d.Parameters,
				"required":   required,
			},
		}))
	}
	return out
}

// openaiStream folds chat-completion chunks into wire events. Complete
// is withheld until the SSE stream drains so a trailing usage chunk
// (IncludeUsage) still lands in it.
type openaiStream struct {
	inner *ssestream.Stream[openai.ChatCompletionChunk]

	queue []Event
	cur   Event

	open      map[int64]string // tool-call index -> call id
	sawFinish bool
	finish    message.FinishReason
	usage     message.TokenUsage
	done      bool
	err       error
}

func (s *openaiStream) Next() bool {
	for len(s.queue) == 0 {
		if s.done {
			return false
		}
		if !s.inner.Next() {
			s.done = true
			if err := s.inner.Err(); err != nil {
				s.err = classify(err)
			} else if s.sawFinish {
				s.queue = append(s.queue, Event{Kind: Complete, FinishReason: s.finish, Usage: s.usage})
			}
			continue
		}
		s.ingest(s.inner.Current())
	}
	s.cur = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

// prime pulls until the first event or a terminal error, without
// consuming the event.
func (s *openaiStream) prime() bool {
	if !s.Next() {
		return false
	}
	s.queue = append([]Event{s.cur}, s.queue...)
	return true
}

func (s *openaiStream) Event() Event { return s.cur }
func (s *openaiStream) Err() error   { return s.err }
func (s *openaiStream) Close() error { return s.inner.Close() }

func (s *openaiStream) ingest(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		s.usage = message.TokenUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}
		s.queue = append(s.queue, Event{Kind: UsageUpdate, Usage: s.usage})
	}

	for _, choice := range chunk.Choices {
		delta := choice.Delta

		if delta.Content != "" {
			s.queue = append(s.queue, Event{Kind: ContentDelta, Text: delta.Content})
		}

		// Reasoning models on OpenAI-compatible gateways stream
		// chain-of-thought as a nonstandard delta field.
		if raw, ok := delta.JSON.ExtraFields["reasoning_content"]; ok {
			var text string
			if json.Unmarshal([]byte(raw.Raw()), &text) == nil && text != "" {
				s.queue = append(s.queue, Event{Kind: ReasoningDelta, Text: text})
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			// Some gateways resend an empty name on continuation
			// chunks; only a non-empty name opens a call.
			if tc.Function.Name != "" {
				if _, seen := s.open[idx]; !seen {
					s.open[idx] = tc.ID
					s.queue = append(s.queue, Event{
						Kind:     ToolUseStart,
						Index:    idx,
						CallID:   tc.ID,
						ToolName: tc.Function.Name,
					})
				}
			}
			if tc.Function.Arguments != "" {
				s.queue = append(s.queue, Event{Kind: ToolUseDelta, Index: idx, Fragment: tc.Function.Arguments})
			}
		}

		if choice.FinishReason != "" {
			indexes := make([]int64, 0, len(s.open))
			for idx := range s.open {
				indexes = append(indexes, idx)
			}
			sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
			for _, idx := range indexes {
				s.queue = append(s.queue, Event{Kind: ToolUseStop, Index: idx})
				delete(s.open, idx)
			}
			s.sawFinish = true
			s.finish = mapFinish(choice.FinishReason)
		}
	}
}

func mapFinish(reason string) message.FinishReason {
	switch reason {
	case "stop":
		return message.FinishEndTurn
	case "length":
		return message.FinishMaxTokens
	case "tool_calls":
		return message.FinishToolUse
	default:
		return message.FinishEndTurn
	}
}

// classify splits provider failures into rate-limit (retryable) and
// transport (terminal) errors.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429, 502, 503:
			return &RateLimitError{RetryAfter: retryHint(apierr)}
		}
		if apierr.Type == "rate_limit_exceeded" {
			return &RateLimitError{RetryAfter: retryHint(apierr)}
		}
		return &TransportError{Status: apierr.StatusCode, Msg: apierr.Message}
	}
	return &TransportError{Msg: err.Error()}
}

// retryHint honors Retry-After seconds, then the provider-specific
// retry_after_ms error body field.
func retryHint(apierr *openai.Error) time.Duration {
	if apierr.Response != nil {
		if h := apierr.Response.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	if ms := gjson.Get(apierr.RawJSON(), "error.retry_after_ms").Int(); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
