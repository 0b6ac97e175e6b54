package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"octo/internal/team"
)

func TestTeamCreateSetsIdentity(t *testing.T) {
	tc := testCtx(t)
	res := TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, tc)
	if res.IsError {
		t.Fatalf("team_create failed: %s", res.Content)
	}
	if tc.Identity.Team != "alpha" || tc.Identity.Agent != "team-lead" {
		t.Errorf("identity = %+v", tc.Identity)
	}

	res = TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, tc)
	if !res.IsError || !strings.Contains(res.Content, "exists") {
		t.Errorf("duplicate create = %+v", res)
	}
}

func TestCoordinationRequiresTeamIdentity(t *testing.T) {
	tc := testCtx(t)
	// Root agent without identity: tools acting on the caller's own team
	// refuse. Only team_create works without one (spawn_agent refuses
	// too until team_create has set the identity).
	calls := []struct {
		tool  Tool
		input string
	}{
		{TaskCreateTool{}, `{"title":"x"}`},
		{TaskListTool{}, `{}`},
		{SendMessageTool{}, `{"to_agent":"a","body":"b"}`},
		{CheckInboxTool{}, `{}`},
		{TeamDeleteTool{}, `{}`},
	}
	for _, c := range calls {
		res := c.tool.Run(context.Background(), Call{Input: c.input}, tc)
		if !res.IsError {
			t.Errorf("%s allowed without team identity", c.tool.Definition().Name)
		}
	}
}

func TestTaskLifecycleThroughTools(t *testing.T) {
	tc := testCtx(t)
	TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, tc)

	res := TaskCreateTool{}.Run(context.Background(), Call{Input: `{"title":"port parser","description":"to v2","assignee":"worker"}`}, tc)
	if res.IsError {
		t.Fatalf("task_create: %s", res.Content)
	}
	var created team.Task
	if err := json.Unmarshal([]byte(res.Content), &created); err != nil {
		t.Fatalf("task_create result not JSON: %v", err)
	}
	if created.ID != 1 || created.Status != team.TaskPending {
		t.Errorf("created = %+v", created)
	}

	res = TaskUpdateTool{}.Run(context.Background(), Call{Input: `{"id":1,"status":"in_progress"}`}, tc)
	if res.IsError {
		t.Fatalf("task_update: %s", res.Content)
	}

	res = TaskGetTool{}.Run(context.Background(), Call{Input: `{"id":1}`}, tc)
	var got team.Task
	if err := json.Unmarshal([]byte(res.Content), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != team.TaskInProgress || got.Title != "port parser" {
		t.Errorf("after update = %+v", got)
	}

	res = TaskListTool{}.Run(context.Background(), Call{Input: `{"status":"in_progress"}`}, tc)
	if res.IsError || !strings.Contains(res.Content, "port parser") {
		t.Errorf("task_list = %+v", res)
	}

	res = TaskGetTool{}.Run(context.Background(), Call{Input: `{"id":99}`}, tc)
	if !res.IsError {
		t.Error("task_get for missing id should fail")
	}
}

func TestSpawnAgentRegistersAndCallsSpawn(t *testing.T) {
	tc := testCtx(t)
	TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, tc)

	var spawned []string
	tc.Spawn = func(teamName, agentName, role, prompt string) error {
		spawned = append(spawned, agentName+"@"+teamName)
		if !strings.Contains(prompt, "## Task") {
			t.Errorf("prompt missing task wrapper: %q", prompt)
		}
		return nil
	}

	tool := &SpawnAgentTool{}
	res := tool.Run(context.Background(), Call{ID: "c", Input: `{"agent_name":"worker","prompt":"do the thing"}`}, tc)
	if res.IsError {
		t.Fatalf("spawn_agent: %s", res.Content)
	}
	if len(spawned) != 1 || spawned[0] != "worker@alpha" {
		t.Errorf("spawned = %v", spawned)
	}

	// Member registered with an inbox.
	st := team.NewStore(tc.Root)
	if !st.IsMember("alpha", "worker") {
		t.Error("worker not registered as member")
	}

	// Same name again fails.
	res = tool.Run(context.Background(), Call{Input: `{"agent_name":"worker","prompt":"again"}`}, tc)
	if !res.IsError {
		t.Error("duplicate agent name should fail")
	}
}

func TestMessagingThroughTools(t *testing.T) {
	lead := testCtx(t)
	TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, lead)
	lead.Spawn = func(team, agent, role, prompt string) error { return nil }
	(&SpawnAgentTool{}).Run(context.Background(), Call{Input: `{"agent_name":"worker","prompt":"p"}`}, lead)

	res := SendMessageTool{}.Run(context.Background(), Call{Input: `{"to_agent":"worker","subject":"status","body":"ping"}`}, lead)
	if res.IsError {
		t.Fatalf("send_message: %s", res.Content)
	}
	res = SendMessageTool{}.Run(context.Background(), Call{Input: `{"to_agent":"nobody","body":"x"}`}, lead)
	if !res.IsError {
		t.Error("send to non-member should fail")
	}

	worker := &Context{Root: lead.Root, WorkDir: lead.WorkDir, Identity: TeamIdentity{Team: "alpha", Agent: "worker"}}
	res = CheckInboxTool{}.Run(context.Background(), Call{Input: `{"mark_read":true}`}, worker)
	if res.IsError || !strings.Contains(res.Content, "ping") {
		t.Fatalf("check_inbox = %+v", res)
	}
	res = CheckInboxTool{}.Run(context.Background(), Call{Input: `{}`}, worker)
	if res.Content != "inbox empty" {
		t.Errorf("inbox after mark_read = %+v", res)
	}
}

func TestTeamDeleteClearsIdentity(t *testing.T) {
	tc := testCtx(t)
	TeamCreateTool{}.Run(context.Background(), Call{Input: `{"name":"alpha"}`}, tc)
	res := TeamDeleteTool{}.Run(context.Background(), Call{Input: `{}`}, tc)
	if res.IsError {
		t.Fatalf("team_delete: %s", res.Content)
	}
	if tc.Identity.InTeam() {
		t.Errorf("identity survived delete: %+v", tc.Identity)
	}
}
