package team

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type counter struct {
	NextID int `json:"next_id"`
}

// nextTaskID bumps counter.json under its sidecar lock so parallel
// agents never mint the same id.
func (s *Store) nextTaskID(team string) (int, error) {
	if err := os.MkdirAll(s.tasksDir(team), 0o755); err != nil {
		return 0, err
	}
	path := s.counterPath(team)

	unlock, err := acquireLock(path)
	if err != nil {
		return 0, err
	}
	defer unlock()

	c := counter{NextID: 1}
	if err := readJSON(path, &c); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	if c.NextID < 1 {
		c.NextID = 1
	}
	id := c.NextID
	c.NextID++
	if err := writeJSONAtomic(path, c); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateTask allocates the next id and writes the task file.
func (s *Store) CreateTask(team, title, description, assignee string) (Task, error) {
	if _, err := s.ReadTeam(team); err != nil {
		return Task{}, err
	}
	id, err := s.nextTaskID(team)
	if err != nil {
		return Task{}, err
	}

	now := time.Now().UTC()
	t := Task{
		ID:          id,
		Title:       title,
		Description: description,
		Assignee:    assignee,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := writeJSONAtomic(s.taskPath(team, id), t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) GetTask(team string, id int) (Task, error) {
	var t Task
	if err := readJSON(s.taskPath(team, id), &t); err != nil {
		if os.IsNotExist(err) {
			return Task{}, fmt.Errorf("%w: %s/%d", ErrNoTask, team, id)
		}
		return Task{}, err
	}
	return t, nil
}

// ListTasks returns the board sorted by id, optionally filtered by
// status (empty means all).
func (s *Store) ListTasks(team string, status TaskStatus) ([]Task, error) {
	entries, err := os.ReadDir(s.tasksDir(team))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Task
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || name == "counter.json" {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSuffix(name, ".json")); err != nil {
			continue
		}
		var t Task
		if err := readJSON(filepath.Join(s.tasksDir(team), name), &t); err != nil {
			continue // mid-rename; the next listing sees it
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TaskPatch names the updatable fields; nil means leave unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Assignee    *string
	Status      *TaskStatus
}

// UpdateTask reads, patches, and atomically rewrites one task.
// Applying the same patch twice is idempotent apart from UpdatedAt.
func (s *Store) UpdateTask(team string, id int, patch TaskPatch) (Task, error) {
	path := s.taskPath(team, id)
	unlock, err := acquireLock(path)
	if err != nil {
		return Task{}, err
	}
	defer unlock()

	t, err := s.GetTask(team, id)
	if err != nil {
		return Task{}, err
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.Status != nil {
		if !ValidStatus(*patch.Status) {
			return Task{}, fmt.Errorf("invalid task status %q", *patch.Status)
		}
		t.Status = *patch.Status
	}
	t.UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(path, t); err != nil {
		return Task{}, err
	}
	return t, nil
}
