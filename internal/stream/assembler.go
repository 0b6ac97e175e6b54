// Package stream folds provider wire events into a single assistant
// message. The fold is pure pull: no internal goroutine, memory stays
// proportional to the message under assembly.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"octo/internal/bus"
	"octo/internal/message"
	"octo/internal/provider"
)

// ErrMalformedWire reports a provider stream that violated the wire
// contract (unknown tool index, invalid tool input JSON).
type ErrMalformedWire struct {
	Detail string
}

func (e *ErrMalformedWire) Error() string { return "malformed wire: " + e.Detail }

type toolBuf struct {
	index   int64
	callID  string
	name    string
	input   strings.Builder
	stopped bool
}

// Result is one assembled assistant turn.
type Result struct {
	Message message.Message
	Finish  message.FinishReason
	Usage   message.TokenUsage
	// Err is set for malformed-wire and transport failures; the message
	// is still sealed (finish reason error) and safe to append.
	Err error
}

// Assemble drains the stream into an assistant message, forwarding
// deltas to the bus as they arrive. Content and reasoning deltas are
// best-effort on a full bus; tool-call boundaries always land.
func Assemble(ctx context.Context, s provider.Stream, b *bus.Bus, sessionID, modelID string) Result {
	defer s.Close()

	msg := message.NewAssistant(sessionID, modelID)
	var text, reasoning strings.Builder
	bufs := make(map[int64]*toolBuf)

	var usage message.TokenUsage
	var malformed *ErrMalformedWire
	sawComplete := false
	finish := message.FinishError

	for {
		select {
		case <-ctx.Done():
			seal(&msg, &text, &reasoning, bufs, message.FinishCancelled)
			msg.Usage = &usage
			return Result{Message: msg, Finish: message.FinishCancelled, Usage: usage}
		default:
		}

		if !s.Next() {
			break
		}

		ev := s.Event()
		switch ev.Kind {
		case provider.ContentDelta:
			text.WriteString(ev.Text)
			b.TrySend(bus.Event{Kind: bus.KindContentDelta, SessionID: sessionID, Text: ev.Text})

		case provider.ReasoningDelta:
			reasoning.WriteString(ev.Text)
			b.TrySend(bus.Event{Kind: bus.KindReasoningDelta, SessionID: sessionID, Text: ev.Text})

		case provider.ToolUseStart:
			bufs[ev.Index] = &toolBuf{index: ev.Index, callID: ev.CallID, name: ev.ToolName}
			b.Send(bus.Event{Kind: bus.KindToolCallStart, SessionID: sessionID, ToolCallID: ev.CallID, ToolName: ev.ToolName})

		case provider.ToolUseDelta:
			buf, ok := bufs[ev.Index]
			if !ok {
				if malformed == nil {
					malformed = &ErrMalformedWire{Detail: fmt.Sprintf("tool input delta for unknown index %d", ev.Index)}
				}
				continue
			}
			buf.input.WriteString(ev.Fragment)

		case provider.ToolUseStop:
			buf, ok := bufs[ev.Index]
			if !ok {
				if malformed == nil {
					malformed = &ErrMalformedWire{Detail: fmt.Sprintf("tool stop for unknown index %d", ev.Index)}
				}
				continue
			}
			buf.stopped = true
			if in := buf.input.String(); in != "" && !json.Valid([]byte(in)) {
				if malformed == nil {
					malformed = &ErrMalformedWire{Detail: fmt.Sprintf("tool call %s input is not valid JSON", buf.callID)}
				}
			}
			b.Send(bus.Event{Kind: bus.KindToolCallStop, SessionID: sessionID, ToolCallID: buf.callID, ToolName: buf.name})

		case provider.UsageUpdate:
			usage = ev.Usage
			b.Send(bus.Event{Kind: bus.KindUsage, SessionID: sessionID, Usage: usage})

		case provider.Complete:
			sawComplete = true
			finish = ev.FinishReason
			if ev.Usage.PromptTokens > 0 || ev.Usage.CompletionTokens > 0 {
				usage = ev.Usage
			}
		}

		if sawComplete {
			break
		}
	}

	var err error
	switch {
	case malformed != nil:
		finish = message.FinishError
		err = malformed
	case !sawComplete:
		finish = message.FinishError
		if serr := s.Err(); serr != nil {
			err = serr
		} else {
			err = fmt.Errorf("provider stream ended without completion")
		}
	}

	seal(&msg, &text, &reasoning, bufs, finish)
	msg.Usage = &usage
	return Result{Message: msg, Finish: finish, Usage: usage, Err: err}
}

// seal flushes buffers in the canonical part order: text, reasoning,
// tool calls by index, then exactly one finish marker.
func seal(msg *message.Message, text, reasoning *strings.Builder, bufs map[int64]*toolBuf, finish message.FinishReason) {
	if text.Len() > 0 {
		msg.AppendText(text.String())
	}
	if reasoning.Len() > 0 {
		msg.Parts = append(msg.Parts, message.Part{Reasoning: &message.ReasoningPart{Text: reasoning.String()}})
	}

	ordered := make([]*toolBuf, 0, len(bufs))
	for _, buf := range bufs {
		if !buf.stopped {
			continue // abandoned mid-stream; never dispatchable
		}
		ordered = append(ordered, buf)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })
	for _, buf := range ordered {
		input := buf.input.String()
		if input == "" || !json.Valid([]byte(input)) {
			input = "{}"
		}
		msg.AddToolCall(buf.callID, buf.name, input)
	}

	msg.AddFinish(finish)
}
