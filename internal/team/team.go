// Package team is the file-backed coordination substrate: teams,
// per-agent inboxes, and monotonic task boards under a shared root
// directory. Mutation discipline is atomic rename plus sidecar locks;
// readers never lock.
package team

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrTeamExists  = errors.New("team already exists")
	ErrNoTeam      = errors.New("no such team")
	ErrNoInbox     = errors.New("no such inbox")
	ErrNoTask      = errors.New("no such task")
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// Config is a team's on-disk record at teams/<name>/config.json.
type Config struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LeadAgent string    `json:"lead_agent"`
	Members   []Member  `json:"members"`
}

type Member struct {
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// Envelope is one inbox entry. Inboxes are append-only arrays;
// readers flip Read by rewriting the whole file atomically.
type Envelope struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

func ValidStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// Task ids are integers allocated per team from counter.json.
type Task struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store roots all coordination state, normally ~/.octo-code.
type Store struct {
	Root string
}

func NewStore(root string) *Store { return &Store{Root: root} }

func (s *Store) teamDir(team string) string    { return filepath.Join(s.Root, "teams", team) }
func (s *Store) configPath(team string) string { return filepath.Join(s.teamDir(team), "config.json") }
func (s *Store) inboxesDir(team string) string { return filepath.Join(s.teamDir(team), "inboxes") }
func (s *Store) inboxPath(team, agent string) string {
	return filepath.Join(s.inboxesDir(team), agent+".json")
}
func (s *Store) tasksDir(team string) string { return filepath.Join(s.Root, "tasks", team) }
func (s *Store) taskPath(team string, id int) string {
	return filepath.Join(s.tasksDir(team), fmt.Sprintf("%d.json", id))
}
func (s *Store) counterPath(team string) string {
	return filepath.Join(s.tasksDir(team), "counter.json")
}

// CreateTeam creates the team layout with the lead as sole member.
func (s *Store) CreateTeam(name, leadAgent string) (Config, error) {
	if _, err := os.Stat(s.configPath(name)); err == nil {
		return Config{}, fmt.Errorf("%w: %s", ErrTeamExists, name)
	}
	for _, dir := range []string{s.teamDir(name), s.inboxesDir(name), s.tasksDir(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, fmt.Errorf("create team layout: %w", err)
		}
	}

	now := time.Now().UTC()
	cfg := Config{
		Name:      name,
		CreatedAt: now,
		LeadAgent: leadAgent,
		Members: []Member{{
			Name:     leadAgent,
			Role:     "team-lead",
			Status:   "active",
			JoinedAt: now,
		}},
	}
	if err := writeJSONAtomic(s.configPath(name), cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DeleteTeam removes both the teams/ and tasks/ subtrees.
func (s *Store) DeleteTeam(name string) error {
	if _, err := os.Stat(s.teamDir(name)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNoTeam, name)
	}
	if err := os.RemoveAll(s.teamDir(name)); err != nil {
		return err
	}
	return os.RemoveAll(s.tasksDir(name))
}

func (s *Store) ReadTeam(name string) (Config, error) {
	var cfg Config
	if err := readJSON(s.configPath(name), &cfg); err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNoTeam, name)
		}
		return Config{}, err
	}
	return cfg, nil
}

// AddMember registers an agent and creates its empty inbox. The team
// config is a shared file, so the rewrite happens under its lock.
func (s *Store) AddMember(team string, m Member) error {
	unlock, err := acquireLock(s.configPath(team))
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := s.ReadTeam(team)
	if err != nil {
		return err
	}
	for _, existing := range cfg.Members {
		if existing.Name == m.Name {
			return fmt.Errorf("agent %q already in team %q", m.Name, team)
		}
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	cfg.Members = append(cfg.Members, m)
	if err := writeJSONAtomic(s.configPath(team), cfg); err != nil {
		return err
	}
	return writeJSONAtomic(s.inboxPath(team, m.Name), []Envelope{})
}

// IsMember reports whether the agent belongs to the team.
func (s *Store) IsMember(team, agent string) bool {
	cfg, err := s.ReadTeam(team)
	if err != nil {
		return false
	}
	for _, m := range cfg.Members {
		if m.Name == agent {
			return true
		}
	}
	return false
}
