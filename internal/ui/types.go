package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"octo/internal/agent"
	"octo/internal/bus"
	"octo/internal/config"
	"octo/internal/db"
	"octo/internal/message"
	"octo/internal/team"
)

// busEventMsg wraps one engine event for the update loop.
type busEventMsg bus.Event

// runDoneMsg signals the bus closed: the run is over.
type runDoneMsg struct{}

// inboxMsg signals new mail in this agent's inbox.
type inboxMsg struct{}

// Model is the bubbletea front-end. It renders what the event bus
// describes; the agent loop owns all conversation state.
type Model struct {
	Runner  *agent.Runner
	Store   *db.Store
	Config  *config.Config
	History []message.Message

	SessionID string

	Viewport  viewport.Model
	TextInput textarea.Model
	Spinner   spinner.Model
	Renderer  *glamour.TermRenderer

	WindowWidth  int
	WindowHeight int

	Transcript []string // rendered blocks, joined for the viewport
	StreamBuf  string   // assistant text still streaming
	ToolLines  []string // tool activity for the in-flight turn

	Loading    bool
	Events     <-chan bus.Event
	CancelRun  context.CancelFunc
	Permission *bus.PermissionRequest

	ContextTokens int64
	StatusLine    string
	Err           error

	InboxCh chan struct{}
	Watcher *team.InboxWatcher
}
