package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"octo/internal/team"
)

// teamStore opens the substrate at the context's root.
func teamStore(tc *Context) *team.Store { return team.NewStore(tc.Root) }

// requireTeam resolves the acting team: an explicit argument or the
// agent's own identity. The root agent has neither.
func requireTeam(args map[string]any, tc *Context) (string, error) {
	if t, _ := args["team"].(string); t != "" {
		return t, nil
	}
	if tc.Identity.InTeam() {
		return tc.Identity.Team, nil
	}
	return "", errors.New("not a member of any team (use team_create first)")
}

func jsonResult(v any) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Errorf("encode result: %v", err)
	}
	return Ok(string(data))
}

// TeamCreateTool creates a team and makes the caller its lead.
type TeamCreateTool struct{}

func (TeamCreateTool) Definition() Definition {
	return Definition{
		Name:        "team_create",
		Description: "Create a new team for coordinating multiple agents working in parallel.",
		Parameters: map[string]any{
			"name": map[string]any{"type": "string", "description": "Team name"},
		},
		Required: []string{"name"},
	}
}

func (TeamCreateTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	name, _ := args["name"].(string)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return Errorf("invalid team name %q", name)
	}

	lead := tc.Identity.Agent
	if lead == "" {
		lead = "team-lead"
	}
	cfg, err := teamStore(tc).CreateTeam(name, lead)
	if err != nil {
		return Errorf("%v", err)
	}

	// The creator becomes the team lead for the rest of the run.
	tc.Identity = TeamIdentity{Team: name, Agent: lead}

	return jsonResult(map[string]any{
		"team":   cfg.Name,
		"lead":   lead,
		"status": "created",
	})
}

// TeamDeleteTool dissolves the caller's team.
type TeamDeleteTool struct{}

func (TeamDeleteTool) Definition() Definition {
	return Definition{
		Name:        "team_delete",
		Description: "Delete a team, its inboxes, and its task board.",
		Parameters: map[string]any{
			"name": map[string]any{"type": "string", "description": "Team name (defaults to own team)"},
		},
		Required: []string{},
	}
}

func (TeamDeleteTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	name, _ := args["name"].(string)
	if name == "" {
		name = tc.Identity.Team
	}
	if name == "" {
		return Errorf("no team to delete")
	}
	if err := teamStore(tc).DeleteTeam(name); err != nil {
		return Errorf("%v", err)
	}
	if tc.Identity.Team == name {
		tc.Identity = TeamIdentity{}
	}
	return Ok(fmt.Sprintf("team %q deleted", name))
}

// SpawnAgentTool records a member and starts its agent loop in the
// background. Spawns within a one-second window are staggered to keep
// a single API key under provider rate limits.
type SpawnAgentTool struct {
	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

func (t *SpawnAgentTool) Definition() Definition {
	return Definition{
		Name:        "spawn_agent",
		Description: "Spawn a teammate agent that works in the background and reports to its inbox.",
		Parameters: map[string]any{
			"agent_name": map[string]any{"type": "string", "description": "Name for the new agent"},
			"role":       map[string]any{"type": "string", "description": "Agent role, e.g. general-purpose"},
			"prompt":     map[string]any{"type": "string", "description": "Initial task for the agent"},
		},
		Required: []string{"agent_name", "prompt"},
	}
}

func (t *SpawnAgentTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	name, _ := args["agent_name"].(string)
	role, _ := args["role"].(string)
	prompt, _ := args["prompt"].(string)
	if role == "" {
		role = "general-purpose"
	}
	if name == "" || prompt == "" {
		return Errorf("agent_name and prompt are required")
	}
	if !tc.Identity.InTeam() {
		return Errorf("not a member of any team (use team_create first)")
	}
	if tc.Spawn == nil {
		return Errorf("agent spawning is not available in this context")
	}

	teamName := tc.Identity.Team
	if err := teamStore(tc).AddMember(teamName, team.Member{
		Name:   name,
		Role:   role,
		Status: "active",
	}); err != nil {
		return Errorf("%v", err)
	}

	if delay := t.stagger(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Errorf("cancelled while staggering spawn")
		}
	}

	wrapped := fmt.Sprintf(
		"You are agent %q on team %q. Complete the task below. When done, "+
			"report a summary to %q with send_message, then check your inbox for follow-ups.\n\n## Task\n%s",
		name, teamName, tc.Identity.Agent, prompt)

	if err := tc.Spawn(teamName, name, role, wrapped); err != nil {
		return Errorf("spawn agent: %v", err)
	}
	return jsonResult(map[string]any{
		"agent":  fmt.Sprintf("%s@%s", name, teamName),
		"role":   role,
		"status": "spawned",
	})
}

// stagger returns the delay owed by the Nth spawn inside a one-second
// window: N*500ms, first spawn free.
func (t *SpawnAgentTool) stagger() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.windowStart) > time.Second {
		t.windowStart = now
		t.windowCount = 0
		return 0
	}
	t.windowCount++
	return time.Duration(t.windowCount) * 500 * time.Millisecond
}

// TaskCreateTool adds a work item to the team board.
type TaskCreateTool struct{}

func (TaskCreateTool) Definition() Definition {
	return Definition{
		Name:        "task_create",
		Description: "Create a task on the team board; returns its id.",
		Parameters: map[string]any{
			"team":        map[string]any{"type": "string", "description": "Team name (defaults to own team)"},
			"title":       map[string]any{"type": "string", "description": "Short task title"},
			"description": map[string]any{"type": "string", "description": "Details"},
			"assignee":    map[string]any{"type": "string", "description": "Agent the task is for"},
		},
		Required: []string{"title"},
	}
}

func (TaskCreateTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	teamName, err := requireTeam(args, tc)
	if err != nil {
		return Errorf("%v", err)
	}
	title, _ := args["title"].(string)
	description, _ := args["description"].(string)
	assignee, _ := args["assignee"].(string)

	task, err := teamStore(tc).CreateTask(teamName, title, description, assignee)
	if err != nil {
		return Errorf("%v", err)
	}
	return jsonResult(task)
}

// TaskGetTool fetches one task.
type TaskGetTool struct{}

func (TaskGetTool) Definition() Definition {
	return Definition{
		Name:        "task_get",
		Description: "Fetch a task by id.",
		Parameters: map[string]any{
			"team": map[string]any{"type": "string", "description": "Team name (defaults to own team)"},
			"id":   map[string]any{"type": "integer", "description": "Task id"},
		},
		Required: []string{"id"},
	}
}

func (TaskGetTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	teamName, err := requireTeam(args, tc)
	if err != nil {
		return Errorf("%v", err)
	}
	task, err := teamStore(tc).GetTask(teamName, intArg(args, "id"))
	if err != nil {
		return Errorf("%v", err)
	}
	return jsonResult(task)
}

// TaskListTool lists the board, optionally by status.
type TaskListTool struct{}

func (TaskListTool) Definition() Definition {
	return Definition{
		Name:        "task_list",
		Description: "List team tasks, optionally filtered by status.",
		Parameters: map[string]any{
			"team":   map[string]any{"type": "string", "description": "Team name (defaults to own team)"},
			"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "done", "blocked"}},
		},
		Required: []string{},
	}
}

func (TaskListTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	teamName, err := requireTeam(args, tc)
	if err != nil {
		return Errorf("%v", err)
	}
	status, _ := args["status"].(string)
	tasks, err := teamStore(tc).ListTasks(teamName, team.TaskStatus(status))
	if err != nil {
		return Errorf("%v", err)
	}
	if len(tasks) == 0 {
		return Ok("no tasks")
	}
	return jsonResult(tasks)
}

// TaskUpdateTool patches task fields.
type TaskUpdateTool struct{}

func (TaskUpdateTool) Definition() Definition {
	return Definition{
		Name:        "task_update",
		Description: "Update fields of an existing task.",
		Parameters: map[string]any{
			"team":        map[string]any{"type": "string", "description": "Team name (defaults to own team)"},
			"id":          map[string]any{"type": "integer", "description": "Task id"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"assignee":    map[string]any{"type": "string"},
			"status":      map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "done", "blocked"}},
		},
		Required: []string{"id"},
	}
}

func (TaskUpdateTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	teamName, err := requireTeam(args, tc)
	if err != nil {
		return Errorf("%v", err)
	}

	var patch team.TaskPatch
	if v, ok := args["title"].(string); ok {
		patch.Title = &v
	}
	if v, ok := args["description"].(string); ok {
		patch.Description = &v
	}
	if v, ok := args["assignee"].(string); ok {
		patch.Assignee = &v
	}
	if v, ok := args["status"].(string); ok {
		st := team.TaskStatus(v)
		patch.Status = &st
	}

	task, err := teamStore(tc).UpdateTask(teamName, intArg(args, "id"), patch)
	if err != nil {
		return Errorf("%v", err)
	}
	return jsonResult(task)
}

// SendMessageTool drops an envelope into a teammate's inbox.
type SendMessageTool struct{}

func (SendMessageTool) Definition() Definition {
	return Definition{
		Name:        "send_message",
		Description: "Send a message to a teammate's inbox.",
		Parameters: map[string]any{
			"to_agent": map[string]any{"type": "string", "description": "Recipient agent name"},
			"subject":  map[string]any{"type": "string", "description": "Short subject line"},
			"body":     map[string]any{"type": "string", "description": "Message body"},
		},
		Required: []string{"to_agent", "body"},
	}
}

func (SendMessageTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	if !tc.Identity.InTeam() {
		return Errorf("not a member of any team")
	}
	to, _ := args["to_agent"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)

	if err := teamStore(tc).SendMessage(tc.Identity.Team, tc.Identity.Agent, to, subject, body); err != nil {
		return Errorf("%v", err)
	}
	return Ok(fmt.Sprintf("delivered to %s@%s", to, tc.Identity.Team))
}

// CheckInboxTool returns the caller's unread mail.
type CheckInboxTool struct{}

func (CheckInboxTool) Definition() Definition {
	return Definition{
		Name:        "check_inbox",
		Description: "Read unread messages from your own inbox.",
		Parameters: map[string]any{
			"mark_read": map[string]any{"type": "boolean", "description": "Mark returned messages as read"},
		},
		Required: []string{},
	}
}

func (CheckInboxTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	if !tc.Identity.InTeam() {
		return Errorf("not a member of any team")
	}
	markRead, _ := args["mark_read"].(bool)

	envelopes, err := teamStore(tc).CheckInbox(tc.Identity.Team, tc.Identity.Agent, markRead)
	if err != nil {
		return Errorf("%v", err)
	}
	if len(envelopes) == 0 {
		return Ok("inbox empty")
	}
	return jsonResult(envelopes)
}

// CoordinationTools returns the full coordination tool set.
func CoordinationTools() []Tool {
	return []Tool{
		TeamCreateTool{},
		TeamDeleteTool{},
		&SpawnAgentTool{},
		TaskCreateTool{},
		TaskGetTool{},
		TaskListTool{},
		TaskUpdateTool{},
		SendMessageTool{},
		CheckInboxTool{},
	}
}

// BuiltinTools returns the filesystem and shell tool set.
func BuiltinTools() []Tool {
	return []Tool{
		ViewTool{},
		WriteTool{},
		EditTool{},
		LsTool{},
		GlobTool{},
		GrepTool{},
		BashTool{},
	}
}
