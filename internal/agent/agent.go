// Package agent runs the LLM↔tool turn cycle: request, stream,
// assemble, dispatch, repeat until a terminal finish reason.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"octo/internal/bus"
	"octo/internal/logging"
	"octo/internal/message"
	"octo/internal/permission"
	"octo/internal/pricing"
	"octo/internal/provider"
	"octo/internal/stream"
	"octo/internal/tools"
)

const (
	rateLimitRetries  = 3
	defaultToolBudget = 120 * time.Second
	// maxToolResultChars bounds what a tool result feeds back into the
	// context window.
	maxToolResultChars = 30_000
)

// Sink receives every message the loop appends; the front-end wires it
// to the session store.
type Sink func(message.Message)

// Runner owns the pieces one agent loop needs. A Runner is reusable;
// each Run is an independent borrow of the given history.
type Runner struct {
	Provider     provider.Provider
	Registry     *tools.Registry
	Gate         *permission.Gate
	Accountant   *pricing.Accountant
	SystemPrompt string
	WorkDir      string
	Root         string
	MaxTurns     int
	Identity     tools.TeamIdentity
	Sink         Sink

	// NewSession, when set, registers a session id in the store before
	// any message lands under it. Spawned teammates mint their own
	// session, so the loop needs this alongside Sink.
	NewSession func(sessionID, title string)

	// Teammates, when set, tracks spawned agent loops so a front-end
	// can wait for them before exiting the process.
	Teammates *sync.WaitGroup
}

// Run starts the loop in the background and returns its event stream
// plus the cancellation trigger. The bus closes when the run ends.
func (r *Runner) Run(parent context.Context, sessionID string, history []message.Message, userInput string) (*bus.Bus, context.CancelFunc) {
	b := bus.New()
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer b.Close()
		r.loop(ctx, b, sessionID, history, userInput)
	}()

	return b, cancel
}

func (r *Runner) loop(ctx context.Context, b *bus.Bus, sessionID string, history []message.Message, userInput string) {
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}
	model := r.Provider.Model()

	b.Send(bus.Event{Kind: bus.KindStarted, SessionID: sessionID})

	userMsg := message.NewUser(sessionID, userInput)
	history = append(history, userMsg)
	r.sink(userMsg)

	toolCtx := &tools.Context{
		SessionID: sessionID,
		WorkDir:   r.WorkDir,
		Root:      r.Root,
		Identity:  r.Identity,
		Spawn:     r.spawnTeammate,
	}

	var runUsage message.TokenUsage
	var runCost float64

	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			r.finishCancelled(b, sessionID, &history)
			return
		}

		history = trimHistory(history, model.ContextWindow, r.SystemPrompt)

		st, err := r.streamWithRetry(ctx, provider.Request{
			Messages:     history,
			SystemPrompt: r.SystemPrompt,
			Tools:        r.Registry.Definitions(),
		})
		if err != nil {
			if ctx.Err() != nil {
				r.finishCancelled(b, sessionID, &history)
				return
			}
			b.Send(bus.Event{Kind: bus.KindError, SessionID: sessionID, Text: err.Error()})
			return
		}

		res := stream.Assemble(ctx, st, b, sessionID, model.ID)
		history = append(history, res.Message)
		r.sink(res.Message)

		runUsage = runUsage.Add(res.Usage)
		runCost += r.Accountant.Record(model.ID, res.Usage)

		switch res.Finish {
		case message.FinishToolUse:
			// The capped turn's tool calls never dispatch: hitting the
			// ceiling mid tool-use is still a hard stop.
			if turn+1 >= maxTurns {
				b.Send(bus.Event{Kind: bus.KindError, SessionID: sessionID, Text: "iteration-cap"})
				return
			}
			if done := r.dispatch(ctx, b, toolCtx, sessionID, &history, &res.Message); done {
				return
			}

		case message.FinishCancelled:
			b.Send(bus.Event{
				Kind: bus.KindComplete, SessionID: sessionID,
				Message: &res.Message, FinishReason: res.Finish, Usage: runUsage, Cost: runCost,
			})
			return

		case message.FinishError:
			text := "provider stream failed"
			if res.Err != nil {
				text = res.Err.Error()
			}
			b.Send(bus.Event{Kind: bus.KindError, SessionID: sessionID, Text: text})
			return

		default: // end_turn, max_tokens
			// The terminal event reports the whole run, not just the
			// final turn.
			b.Send(bus.Event{
				Kind: bus.KindComplete, SessionID: sessionID,
				Message: &res.Message, FinishReason: res.Finish, Usage: runUsage, Cost: runCost,
			})
			return
		}
	}
}

// dispatch executes the assistant's tool calls in declaration order.
// It returns true when the loop must stop (cancellation).
func (r *Runner) dispatch(ctx context.Context, b *bus.Bus, toolCtx *tools.Context, sessionID string, history *[]message.Message, assistant *message.Message) bool {
	var resultParts []message.Part

	flush := func() {
		if len(resultParts) == 0 {
			return
		}
		toolMsg := message.NewToolResults(sessionID, resultParts)
		*history = append(*history, toolMsg)
		r.sink(toolMsg)
	}

	for _, call := range assistant.ToolCalls() {
		if ctx.Err() != nil {
			flush()
			r.finishCancelled(b, sessionID, history)
			return true
		}

		result := r.runOne(ctx, b, toolCtx, tools.Call{ID: call.ID, Name: call.Name, Input: call.Input})

		b.Send(bus.Event{
			Kind: bus.KindToolResult, SessionID: sessionID,
			ToolCallID: call.ID, ToolName: call.Name,
			Text: result.Content, IsError: result.IsError,
		})

		resultParts = append(resultParts, message.Part{ToolResult: &message.ToolResultPart{
			ToolCallID: call.ID,
			Content:    wrapToolOutput(call.Name, result.Content),
			IsError:    result.IsError,
		}})
	}

	flush()
	return false
}

// runOne gates and executes a single call. Every outcome is a Result;
// only infrastructure failures leave this function another way.
func (r *Runner) runOne(ctx context.Context, b *bus.Bus, toolCtx *tools.Context, call tools.Call) tools.Result {
	tool, ok := r.Registry.Get(call.Name)
	if !ok {
		return tools.Errorf("unknown tool %q", call.Name)
	}

	allowed, reason := r.Gate.Check(ctx, tool.Definition(), call, b, toolCtx.SessionID)
	if !allowed {
		return tools.Result{Content: reason, IsError: true}
	}

	// bash manages its own deadline from timeout_ms.
	runCtx := ctx
	if call.Name != "bash" {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, defaultToolBudget)
		defer cancel()
	}

	start := time.Now()
	result := tool.Run(runCtx, call, toolCtx)
	result.Duration = time.Since(start)

	logging.Debug("tool executed",
		"tool", call.Name, "call_id", call.ID,
		"is_error", result.IsError, "duration", result.Duration)
	return result
}

// streamWithRetry opens the provider stream, retrying rate limits up
// to three times with exponential backoff, honoring server hints.
func (r *Runner) streamWithRetry(ctx context.Context, req provider.Request) (provider.Stream, error) {
	var lastErr error
	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		st, err := r.Provider.Stream(ctx, req)
		if err == nil {
			return st, nil
		}
		lastErr = err

		var rl *provider.RateLimitError
		if !errors.As(err, &rl) || attempt == rateLimitRetries {
			return nil, err
		}

		wait := time.Second << attempt
		if rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		logging.Warn("rate limited, backing off", "attempt", attempt+1, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// finishCancelled seals the run with a synthetic cancelled marker.
func (r *Runner) finishCancelled(b *bus.Bus, sessionID string, history *[]message.Message) {
	final := message.NewAssistant(sessionID, r.Provider.Model().ID)
	final.AddFinish(message.FinishCancelled)
	*history = append(*history, final)
	r.sink(final)

	b.Send(bus.Event{
		Kind: bus.KindComplete, SessionID: sessionID,
		Message: &final, FinishReason: message.FinishCancelled,
	})
}

func (r *Runner) sink(m message.Message) {
	if r.Sink != nil {
		r.Sink(m)
	}
}

// wrapToolOutput truncates oversized results and fences them so tool
// output cannot masquerade as instructions.
func wrapToolOutput(toolName, content string) string {
	if len(content) > maxToolResultChars {
		content = fmt.Sprintf("%s\n... [truncated: %d total chars]",
			content[:maxToolResultChars], len(content))
	}
	return fmt.Sprintf("<tool_output tool=%q>\n%s\n</tool_output>", toolName, content)
}

// spawnTeammate launches a background loop for a spawned agent. The
// teammate shares the provider, registry, and accountant, runs
// non-interactively, and reports onto a headless bus drained into the
// log.
func (r *Runner) spawnTeammate(teamName, agentName, role, prompt string) error {
	child := &Runner{
		Provider:   r.Provider,
		Registry:   r.Registry,
		Gate:       permission.NewGate(false),
		Accountant: r.Accountant,
		WorkDir:    r.WorkDir,
		Root:       r.Root,
		MaxTurns:   r.MaxTurns,
		Identity:   tools.TeamIdentity{Team: teamName, Agent: agentName},
		Sink:       r.Sink,
		NewSession: r.NewSession,
		Teammates:  r.Teammates,
	}
	child.SystemPrompt = BuildSystemPrompt(r.WorkDir, child.Identity)

	sessionID := uuid.NewString()
	// The session row must exist before the sink appends under it.
	if r.NewSession != nil {
		r.NewSession(sessionID, agentName+"@"+teamName)
	}
	// Teammates outlive the turn that spawned them; only their own
	// completion or process exit stops them.
	childBus, _ := child.Run(context.Background(), sessionID, nil, prompt)

	if r.Teammates != nil {
		r.Teammates.Add(1)
	}

	log := logging.With("team", teamName, "agent", agentName, "session", sessionID)
	go func() {
		if r.Teammates != nil {
			defer r.Teammates.Done()
		}
		for ev := range childBus.Events() {
			switch ev.Kind {
			case bus.KindError:
				log.Error("teammate error", "error", ev.Text)
			case bus.KindComplete:
				log.Info("teammate finished", "finish", string(ev.FinishReason))
			case bus.KindToolResult:
				log.Debug("teammate tool result", "tool", ev.ToolName, "is_error", ev.IsError)
			case bus.KindPermissionRequest:
				// Headless agents run a non-interactive gate; nothing
				// should land here, but never leave a reply hanging.
				ev.Permission.Reply <- bus.Deny
			}
		}
	}()

	logging.Info("spawned teammate", "team", teamName, "agent", agentName, "role", role)
	return nil
}
