package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"octo/internal/agent"
	"octo/internal/bus"
	"octo/internal/config"
	"octo/internal/db"
	"octo/internal/message"
	"octo/internal/styles"
	"octo/internal/team"
)

// NewModel wires the TUI to a runner and session store.
func NewModel(runner *agent.Runner, store *db.Store, cfg *config.Config) *Model {
	ti := textarea.New()
	ti.Placeholder = "Ask octo anything... (/cost /clear /model, esc cancels)"
	ti.Focus()
	ti.ShowLineNumbers = false
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		Runner:    runner,
		Store:     store,
		Config:    cfg,
		SessionID: uuid.NewString(),
		TextInput: ti,
		Spinner:   sp,
		Viewport:  viewport.New(80, 20),
	}
}

func (m *Model) Init() tea.Cmd {
	if m.Store != nil {
		m.Store.CreateSession(m.SessionID, "")
	}

	cmds := []tea.Cmd{textarea.Blink}
	if m.Runner.Identity.InTeam() {
		m.InboxCh = make(chan struct{}, 1)
		st := team.NewStore(m.Runner.Root)
		w, err := st.WatchInbox(m.Runner.Identity.Team, m.Runner.Identity.Agent, func() {
			select {
			case m.InboxCh <- struct{}{}:
			default:
			}
		})
		if err == nil {
			m.Watcher = w
			cmds = append(cmds, waitForInbox(m.InboxCh))
		}
	}
	return tea.Batch(cmds...)
}

func waitForInbox(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return inboxMsg{}
	}
}

// waitForEvent pulls the next engine event off the bus.
func waitForEvent(ch <-chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return runDoneMsg{}
		}
		return busEventMsg(ev)
	}
}

func (m *Model) startRun(input string) tea.Cmd {
	b, cancel := m.Runner.Run(context.Background(), m.SessionID, m.History, input)
	m.Events = b.Events()
	m.CancelRun = cancel
	m.Loading = true
	m.StreamBuf = ""
	m.ToolLines = nil
	return tea.Batch(waitForEvent(m.Events), m.Spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		if m.Loading {
			m.refreshViewport()
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.Permission != nil {
			return m.handlePermissionKey(msg)
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			if m.CancelRun != nil {
				m.CancelRun()
			}
			if m.Watcher != nil {
				m.Watcher.Close()
			}
			return m, tea.Quit

		case tea.KeyEsc:
			if m.Loading && m.CancelRun != nil {
				m.CancelRun()
				m.StatusLine = "cancelling..."
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if m.Loading {
				return m, nil
			}
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				return m, nil
			}
			m.TextInput.Reset()
			if cmd, handled := m.handleSlashCommand(input); handled {
				return m, cmd
			}
			m.Transcript = append(m.Transcript, formatUserMessage(input))
			m.refreshViewport()
			return m, m.startRun(input)
		}

	case busEventMsg:
		cmd := m.handleBusEvent(bus.Event(msg))
		return m, cmd

	case inboxMsg:
		m.Transcript = append(m.Transcript, styles.ToastStyle.Render("📬 new message in your inbox (check_inbox to read)"))
		m.refreshViewport()
		return m, waitForInbox(m.InboxCh)

	case runDoneMsg:
		m.Loading = false
		m.Events = nil
		m.CancelRun = nil
		// The loop appended its messages through the store sink; the
		// next run borrows the refreshed history.
		if m.Store != nil {
			if msgs, err := m.Store.Messages(m.SessionID); err == nil {
				m.History = msgs
			}
		}
		m.refreshViewport()
		return m, nil

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height
		m.Viewport.Width = msg.Width - 4
		m.Viewport.Height = msg.Height - 8
		m.TextInput.SetWidth(msg.Width - 6)
		m.TextInput.SetHeight(inputHeight(m.TextInput.Value(), msg.Width-8))

		style := "dark"
		if !lipgloss.HasDarkBackground() {
			style = "light"
		}
		m.Renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath(style),
			glamour.WithWordWrap(m.Viewport.Width-2),
		)
		m.refreshViewport()
		return m, nil
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.Viewport, vpCmd = m.Viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) handlePermissionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	req := m.Permission
	switch msg.String() {
	case "y":
		req.Reply <- bus.Allow
	case "a":
		req.Reply <- bus.AllowAlways
	case "n", "esc":
		req.Reply <- bus.Deny
	case "ctrl+c":
		req.Reply <- bus.Deny
		return m, tea.Quit
	default:
		return m, nil
	}
	m.Permission = nil
	m.refreshViewport()
	return m, nil
}

func (m *Model) handleSlashCommand(input string) (tea.Cmd, bool) {
	switch {
	case input == "/clear":
		m.History = nil
		m.Transcript = nil
		m.SessionID = uuid.NewString()
		if m.Store != nil {
			m.Store.CreateSession(m.SessionID, "")
		}
		m.Runner.Accountant.Reset()
		m.refreshViewport()
		return nil, true

	case input == "/cost":
		usage, cost := m.Runner.Accountant.Totals()
		m.Transcript = append(m.Transcript, styles.StatusStyle.Render(fmt.Sprintf(
			"session cost: $%.4f (%d prompt + %d completion tokens)",
			cost, usage.PromptTokens, usage.CompletionTokens)))
		m.refreshViewport()
		return nil, true

	case input == "/model" || strings.HasPrefix(input, "/model "):
		arg := strings.TrimSpace(strings.TrimPrefix(input, "/model"))
		if arg == "" {
			var lines []string
			for _, mc := range m.Config.Models {
				marker := "  "
				if mc.ID == m.Runner.Provider.Model().ID {
					marker = "* "
				}
				lines = append(lines, marker+mc.ID)
			}
			m.Transcript = append(m.Transcript, styles.StatusStyle.Render("models:\n"+strings.Join(lines, "\n")))
		} else {
			m.Transcript = append(m.Transcript, styles.StatusStyle.Render(
				"restart with --model "+arg+" to switch models"))
		}
		m.refreshViewport()
		return nil, true
	}
	return nil, false
}

func (m *Model) handleBusEvent(ev bus.Event) tea.Cmd {
	next := waitForEvent(m.Events)

	switch ev.Kind {
	case bus.KindStarted:
		m.StatusLine = "thinking"

	case bus.KindContentDelta:
		m.StreamBuf += ev.Text
		m.refreshViewport()

	case bus.KindReasoningDelta:
		m.StatusLine = "reasoning"

	case bus.KindToolCallStart:
		m.ToolLines = append(m.ToolLines, styles.ToolActionStyle.Render("→ "+ev.ToolName))
		m.StatusLine = "running " + ev.ToolName
		m.refreshViewport()

	case bus.KindToolResult:
		line := "→ " + ev.ToolName + " ✓"
		style := styles.ToolActionStyle
		if ev.IsError {
			line = "→ " + ev.ToolName + " ✗ " + firstLine(ev.Text)
			style = styles.ToolErrorStyle
		}
		if n := len(m.ToolLines); n > 0 {
			m.ToolLines[n-1] = style.Render(line)
		} else {
			m.ToolLines = append(m.ToolLines, style.Render(line))
		}
		m.refreshViewport()

	case bus.KindPermissionRequest:
		m.Permission = ev.Permission
		m.refreshViewport()

	case bus.KindUsage:
		m.ContextTokens = ev.Usage.PromptTokens

	case bus.KindComplete:
		m.flushTurn(ev)
		m.StatusLine = ""
		if m.Store != nil {
			m.Store.AddUsage(m.SessionID, ev.Usage, ev.Cost)
		}

	case bus.KindError:
		m.flushStream()
		m.Transcript = append(m.Transcript, styles.ErrorStyle.Render("error: "+ev.Text))
		m.StatusLine = ""
		m.refreshViewport()

	case bus.KindInbox:
		m.Transcript = append(m.Transcript, styles.ToastStyle.Render("📬 "+ev.Text))
		m.refreshViewport()
	}

	return next
}

// flushTurn renders the completed assistant turn into the transcript.
func (m *Model) flushTurn(ev bus.Event) {
	text := m.StreamBuf
	if text == "" && ev.Message != nil {
		text = ev.Message.TextContent()
	}
	if ev.FinishReason == message.FinishCancelled {
		text = strings.TrimSpace(text + "\n\n*(cancelled)*")
	}

	rendered := text
	if m.Renderer != nil && text != "" {
		if out, err := m.Renderer.Render(text); err == nil {
			rendered = strings.TrimSpace(out)
		}
	}

	var block []string
	block = append(block, styles.AgentLabelStyle.Render("OCTO"))
	if len(m.ToolLines) > 0 {
		block = append(block, strings.Join(m.ToolLines, "\n"))
	}
	if rendered != "" {
		block = append(block, styles.AgentMsgStyle.Render(rendered))
	}
	m.Transcript = append(m.Transcript, strings.Join(block, "\n"))

	m.StreamBuf = ""
	m.ToolLines = nil
	m.refreshViewport()
}

func (m *Model) flushStream() {
	if m.StreamBuf == "" {
		return
	}
	m.Transcript = append(m.Transcript, styles.AgentMsgStyle.Render(m.StreamBuf))
	m.StreamBuf = ""
}

func (m *Model) refreshViewport() {
	var b strings.Builder
	b.WriteString(strings.Join(m.Transcript, "\n\n"))

	if m.Loading {
		b.WriteString("\n\n")
		if len(m.ToolLines) > 0 {
			b.WriteString(strings.Join(m.ToolLines, "\n"))
			b.WriteString("\n")
		}
		if m.StreamBuf != "" {
			b.WriteString(styles.AgentMsgStyle.Render(m.StreamBuf))
			b.WriteString("\n")
		}
		b.WriteString(m.Spinner.View() + " " + styles.StatusStyle.Render(m.StatusLine))
	}

	m.Viewport.SetContent(b.String())
	m.Viewport.GotoBottom()
}

func (m *Model) View() string {
	if m.WindowWidth == 0 {
		return "starting octo..."
	}

	var sections []string
	sections = append(sections, m.Viewport.View())

	if m.Permission != nil {
		box := styles.PermissionBoxStyle.Render(fmt.Sprintf(
			"Permission needed\n\n%s\n\n[y] allow   [a] always   [n] deny",
			m.Permission.Description))
		sections = append(sections, box)
	}

	sections = append(sections, styles.InputBoxStyle.Render(m.TextInput.View()))

	model := m.Runner.Provider.Model()
	_, cost := m.Runner.Accountant.Totals()
	status := fmt.Sprintf(" %s · ctx %d · $%.4f", model.DisplayName, m.ContextTokens, cost)
	sections = append(sections, styles.StatusStyle.Render(status))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func formatUserMessage(input string) string {
	return styles.UserLabelStyle.Render("YOU") + "\n" + styles.UserMsgStyle.Render(input)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if runewidth.StringWidth(s) > 60 {
		s = runewidth.Truncate(s, 60, "…")
	}
	return s
}

// inputHeight grows the textarea with wrapped content, capped at 6.
func inputHeight(value string, width int) int {
	if width <= 0 {
		return 1
	}
	count := 0
	for _, line := range strings.Split(value, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	if count < 1 {
		count = 1
	}
	if count > 6 {
		count = 6
	}
	return count
}
