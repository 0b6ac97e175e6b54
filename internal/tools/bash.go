package tools

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultBashTimeout = 30 * time.Second
	killGrace          = 5 * time.Second
)

// BashTool runs a shell command. Cancellation kills the child; an
// unresponsive child is force-killed after the grace period.
type BashTool struct{}

func (BashTool) Definition() Definition {
	return Definition{
		Name:        "bash",
		Description: "Run a shell command and return combined output.",
		Parameters: map[string]any{
			"command":    map[string]any{"type": "string", "description": "Shell command to execute"},
			"timeout_ms": map[string]any{"type": "integer", "description": "Timeout in milliseconds (default 30000)"},
		},
		Required:        []string{"command"},
		NeedsPermission: true,
	}
}

func (BashTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Errorf("empty command")
	}

	timeout := defaultBashTimeout
	if ms := intArg(args, "timeout_ms"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = tc.WorkDir
	cmd.WaitDelay = killGrace

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return Errorf("command timed out after %s\n%s", timeout, output)
	case ctx.Err() != nil:
		return Errorf("command cancelled\n%s", output)
	case err != nil:
		if output == "" {
			return Errorf("command failed: %v", err)
		}
		return Result{Content: output, IsError: true}
	case output == "":
		return Ok("(no output)")
	default:
		return Ok(output)
	}
}
