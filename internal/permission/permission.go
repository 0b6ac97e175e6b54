// Package permission decides, per tool call, whether execution needs
// user approval. "Always allow" answers are cached by tool signature
// for the rest of the session.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"octo/internal/bus"
	"octo/internal/tools"
)

// DefaultTimeout is how long an unanswered request waits before the
// gate falls back to deny.
const DefaultTimeout = 60 * time.Second

// safeCommands are bash prefixes approved without asking. Two-token
// entries must match both tokens.
var safeCommands = []string{
	"ls", "pwd", "echo", "cat", "git status", "git log", "git diff", "grep", "find",
}

// Gate is the per-session policy layer.
type Gate struct {
	interactive bool
	timeout     time.Duration

	mu     sync.Mutex
	always map[string]bool
}

// NewGate builds a gate. A non-interactive gate approves everything.
func NewGate(interactive bool) *Gate {
	return &Gate{
		interactive: interactive,
		timeout:     DefaultTimeout,
		always:      make(map[string]bool),
	}
}

// SetTimeout overrides the reply deadline; used by tests.
func (g *Gate) SetTimeout(d time.Duration) { g.timeout = d }

// Check resolves one tool call. A false return comes with a reason the
// loop turns into an error tool result.
func (g *Gate) Check(ctx context.Context, def tools.Definition, call tools.Call, b *bus.Bus, sessionID string) (bool, string) {
	if !g.interactive {
		return true, ""
	}
	if !def.NeedsPermission {
		return true, ""
	}

	args := decodeArgs(call.Input)

	if call.Name == "bash" {
		if cmd, _ := args["command"].(string); isSafeCommand(cmd) {
			return true, ""
		}
	}

	sig := Signature(call.Name, args)
	g.mu.Lock()
	cached := g.always[sig]
	g.mu.Unlock()
	if cached {
		return true, ""
	}

	req := &bus.PermissionRequest{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ToolName:    call.Name,
		Description: describe(call.Name, args),
		Path:        salientArg(call.Name, args),
		Reply:       make(chan bus.Decision, 1),
	}
	b.Send(bus.Event{Kind: bus.KindPermissionRequest, SessionID: sessionID, Permission: req})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case decision := <-req.Reply:
		switch decision {
		case bus.Allow:
			return true, ""
		case bus.AllowAlways:
			g.mu.Lock()
			g.always[sig] = true
			g.mu.Unlock()
			return true, ""
		default:
			return false, "permission denied"
		}
	case <-timer.C:
		return false, "permission request timed out"
	case <-ctx.Done():
		return false, "permission denied"
	}
}

// Signature identifies a tool invocation for always-allow caching:
// the tool name plus its salient argument.
func Signature(toolName string, args map[string]any) string {
	salient := salientArg(toolName, args)
	if salient == "" {
		return toolName
	}
	return toolName + ":" + salient
}

func salientArg(toolName string, args map[string]any) string {
	switch toolName {
	case "bash":
		cmd, _ := args["command"].(string)
		fields := strings.Fields(cmd)
		if len(fields) > 0 {
			return fields[0]
		}
	case "write", "edit":
		path, _ := args["path"].(string)
		return path
	}
	return ""
}

func isSafeCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}
	for _, safe := range safeCommands {
		want := strings.Fields(safe)
		if len(fields) < len(want) {
			continue
		}
		match := true
		for i, tok := range want {
			if fields[i] != tok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func describe(toolName string, args map[string]any) string {
	switch toolName {
	case "bash":
		cmd, _ := args["command"].(string)
		return fmt.Sprintf("run command: %s", cmd)
	case "write":
		path, _ := args["path"].(string)
		return fmt.Sprintf("write file: %s", path)
	case "edit":
		path, _ := args["path"].(string)
		return fmt.Sprintf("edit file: %s", path)
	default:
		return fmt.Sprintf("run tool: %s", toolName)
	}
}

func decodeArgs(input string) map[string]any {
	args := make(map[string]any)
	if input != "" {
		_ = json.Unmarshal([]byte(input), &args)
	}
	return args
}
