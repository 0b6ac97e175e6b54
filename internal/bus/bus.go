package bus

import (
	"sync"

	"octo/internal/message"
)

// Kind tags an Event.
type Kind string

const (
	KindStarted           Kind = "started"
	KindContentDelta      Kind = "content_delta"
	KindReasoningDelta    Kind = "reasoning_delta"
	KindToolCallStart     Kind = "tool_call_start"
	KindToolCallStop      Kind = "tool_call_stop"
	KindToolResult        Kind = "tool_result"
	KindPermissionRequest Kind = "permission_request"
	KindUsage             Kind = "usage"
	KindComplete          Kind = "complete"
	KindError             Kind = "error"
	KindInbox             Kind = "inbox"
)

// Decision is the user's answer to a permission request.
type Decision int

const (
	Deny Decision = iota
	Allow
	AllowAlways
)

// PermissionRequest rides a KindPermissionRequest event. The front-end
// answers on Reply; the gate owns the timeout.
type PermissionRequest struct {
	ID          string
	SessionID   string
	ToolName    string
	Description string
	Path        string
	Reply       chan Decision
}

// Event is one item on the loop→front-end channel.
type Event struct {
	Kind      Kind
	SessionID string

	Text string // delta text, error text, inbox notification

	ToolCallID string
	ToolName   string
	IsError    bool

	Message      *message.Message
	FinishReason message.FinishReason
	Usage        message.TokenUsage
	Cost         float64

	Permission *PermissionRequest
}

// Capacity bounds the event channel; deltas beyond it are dropped
// rather than stalling the provider stream.
const Capacity = 256

// Bus is the single-producer channel from an agent loop to its front-end.
type Bus struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
}

func New() *Bus {
	return &Bus{ch: make(chan Event, Capacity)}
}

// Events is the consumer side. Closed when the loop finishes.
func (b *Bus) Events() <-chan Event { return b.ch }

// Send blocks until the event is accepted. Use for coalescing points
// (tool boundaries, completion, permission requests).
func (b *Bus) Send(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.ch <- ev
}

// TrySend drops the event when the channel is full. Use for per-token
// deltas, which the front-end can afford to miss.
func (b *Bus) TrySend(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Close marks the end of the run. Safe to call more than once; further
// sends no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
