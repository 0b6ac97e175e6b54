package team

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateTeamDuplicate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTeam("alpha", "lead"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTeam("alpha", "lead"); !errors.Is(err, ErrTeamExists) {
		t.Fatalf("duplicate create err = %v, want ErrTeamExists", err)
	}
}

func TestDeleteTeamRemovesBothSubtrees(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateTeam("alpha", "lead"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask("alpha", "t", "d", "lead"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTeam("alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Root, "teams", "alpha")); !os.IsNotExist(err) {
		t.Error("teams subtree survived delete")
	}
	if _, err := os.Stat(filepath.Join(s.Root, "tasks", "alpha")); !os.IsNotExist(err) {
		t.Error("tasks subtree survived delete")
	}
	if err := s.DeleteTeam("alpha"); !errors.Is(err, ErrNoTeam) {
		t.Errorf("second delete err = %v, want ErrNoTeam", err)
	}
}

func TestAddMemberDuplicate(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("alpha", "lead")
	if err := s.AddMember("alpha", Member{Name: "worker", Role: "general", Status: "active"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMember("alpha", Member{Name: "worker", Role: "general", Status: "active"}); err == nil {
		t.Fatal("duplicate member should fail")
	}
	cfg, err := s.ReadTeam("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Members) != 2 {
		t.Errorf("members = %d, want lead + worker", len(cfg.Members))
	}
}

func TestParallelTaskAllocation(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	ids := make(chan int, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				task, err := s.CreateTask("T", "job", "", "")
				if err != nil {
					t.Errorf("create task: %v", err)
					return
				}
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	max := 0
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate task id %d", id)
		}
		seen[id] = true
		if id > max {
			max = id
		}
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("allocated %d ids, want %d", len(seen), workers*perWorker)
	}
	if max != workers*perWorker {
		t.Errorf("max id = %d, want %d", max, workers*perWorker)
	}

	// Every allocated id has its task file.
	for id := range seen {
		if _, err := s.GetTask("T", id); err != nil {
			t.Errorf("task %d missing: %v", id, err)
		}
	}

	var c counter
	if err := readJSON(s.counterPath("T"), &c); err != nil {
		t.Fatal(err)
	}
	if c.NextID != workers*perWorker+1 {
		t.Errorf("counter next_id = %d, want %d", c.NextID, workers*perWorker+1)
	}
}

func TestTaskUpdateIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	created, err := s.CreateTask("T", "fix bug", "in parser", "worker")
	if err != nil {
		t.Fatal(err)
	}

	status := TaskInProgress
	first, err := s.UpdateTask("T", created.ID, TaskPatch{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.UpdateTask("T", created.ID, TaskPatch{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != second.Status || first.Title != second.Title || first.Assignee != second.Assignee {
		t.Errorf("repeated update changed fields: %+v vs %+v", first, second)
	}

	bad := TaskStatus("cancelled")
	if _, err := s.UpdateTask("T", created.ID, TaskPatch{Status: &bad}); err == nil {
		t.Error("invalid status should be rejected")
	}
}

func TestListTasksFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	for i := 0; i < 4; i++ {
		if _, err := s.CreateTask("T", "job", "", ""); err != nil {
			t.Fatal(err)
		}
	}
	done := TaskDone
	if _, err := s.UpdateTask("T", 2, TaskPatch{Status: &done}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListTasks("T", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("listed %d tasks, want 4", len(all))
	}
	for i, task := range all {
		if task.ID != i+1 {
			t.Errorf("position %d has id %d, want ascending ids", i, task.ID)
		}
	}

	doneOnly, err := s.ListTasks("T", TaskDone)
	if err != nil {
		t.Fatal(err)
	}
	if len(doneOnly) != 1 || doneOnly[0].ID != 2 {
		t.Errorf("done filter = %+v", doneOnly)
	}
}

func TestSendMessageAndCheckInbox(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	s.AddMember("T", Member{Name: "worker", Role: "general", Status: "active"})

	if err := s.SendMessage("T", "lead", "ghost", "hi", "x"); !errors.Is(err, ErrNoInbox) {
		t.Fatalf("send to non-member err = %v, want ErrNoInbox", err)
	}

	for i, subject := range []string{"first", "second", "third"} {
		if err := s.SendMessage("T", "lead", "worker", subject, "body"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	unread, err := s.CheckInbox("T", "worker", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 3 {
		t.Fatalf("unread = %d, want 3", len(unread))
	}
	// Append-only order equals send order.
	for i, want := range []string{"first", "second", "third"} {
		if unread[i].Subject != want {
			t.Errorf("envelope %d subject = %q, want %q", i, unread[i].Subject, want)
		}
	}

	// Peek does not consume.
	again, _ := s.CheckInbox("T", "worker", false)
	if len(again) != 3 {
		t.Errorf("peek consumed messages: %d left", len(again))
	}

	marked, err := s.CheckInbox("T", "worker", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 3 {
		t.Fatalf("mark-read returned %d, want 3", len(marked))
	}
	empty, _ := s.CheckInbox("T", "worker", true)
	if len(empty) != 0 {
		t.Errorf("inbox still has %d unread after mark-read", len(empty))
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	s.CreateTask("T", "a", "", "")

	entries, err := os.ReadDir(s.tasksDir("T"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || filepath.Ext(e.Name()) == ".lock" {
			t.Errorf("leftover sidecar file %s", e.Name())
		}
	}
}

func TestLockTimeout(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	path := s.counterPath("T")
	os.MkdirAll(s.tasksDir("T"), 0o755)

	// Hold the lock with a recent mtime so it is not considered stale.
	if err := os.WriteFile(path+".lock", []byte("held\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := acquireLock(path)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrLockTimeout) {
			t.Fatalf("err = %v, want ErrLockTimeout", err)
		}
	case <-time.After(lockTimeout + 5*time.Second):
		t.Fatal("lock acquisition did not time out")
	}
}

func TestStaleLockBroken(t *testing.T) {
	s := newTestStore(t)
	s.CreateTeam("T", "lead")
	path := s.counterPath("T")
	os.MkdirAll(s.tasksDir("T"), 0o755)

	lockPath := path + ".lock"
	if err := os.WriteFile(lockPath, []byte("crashed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * lockStaleAge)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	unlock, err := acquireLock(path)
	if err != nil {
		t.Fatalf("stale lock not broken: %v", err)
	}
	unlock()
}
