package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"octo/internal/agent"
	"octo/internal/bus"
	"octo/internal/config"
	"octo/internal/db"
	"octo/internal/logging"
	"octo/internal/message"
	"octo/internal/permission"
	"octo/internal/pricing"
	"octo/internal/provider"
	"octo/internal/team"
	"octo/internal/tools"
	"octo/internal/ui"
)

var version = "dev"

func main() {
	var (
		prompt    string
		modelID   string
		teamName  string
		agentName string
	)

	root := &cobra.Command{
		Use:   "octo",
		Short: "octo is a terminal coding agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}
			if err := logging.EnableFileLogging(cfg.Home, cfg.LogLevel); err != nil {
				return err
			}
			defer logging.Close()

			if modelID == "" {
				modelID = cfg.Model
			}
			model, ok := cfg.FindModel(modelID)
			if !ok {
				// Unknown models still run; they just price at zero.
				model = provider.Model{ID: modelID, DisplayName: modelID, ContextWindow: 128_000, MaxTokens: 8192}
			}
			if cfg.APIKey == "" {
				return fmt.Errorf("no API key: set %s or api_key in %s/config.yaml", config.EnvAPIKey, cfg.Home)
			}

			workDir, err := os.Getwd()
			if err != nil {
				return err
			}

			store, err := db.Open(cfg.Home)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer store.Close()

			accountant := pricing.NewAccountant(cfg.PriceTable())
			accountant.OnUnknownModel = func(id string) {
				logging.Warn("model not in price table, cost untracked", "model", id)
			}

			identity := tools.TeamIdentity{Team: teamName, Agent: agentName}
			interactive := prompt == ""

			runner := &agent.Runner{
				Provider:     provider.NewOpenAI(cfg.APIKey, cfg.BaseURL, model),
				Registry:     tools.NewRegistry(append(tools.BuiltinTools(), tools.CoordinationTools()...)...),
				Gate:         permission.NewGate(interactive),
				Accountant:   accountant,
				SystemPrompt: agent.BuildSystemPrompt(workDir, identity),
				WorkDir:      workDir,
				Root:         cfg.Home,
				MaxTurns:     cfg.MaxTurns,
				Identity:     identity,
			}
			runner.Sink = func(m message.Message) {
				if err := store.AppendMessage(m); err != nil {
					logging.Error("persist message", "error", err)
				}
			}
			runner.NewSession = func(sessionID, title string) {
				if _, err := store.CreateSession(sessionID, title); err != nil {
					logging.Error("create session", "session", sessionID, "error", err)
				}
			}

			if !interactive {
				return runHeadless(runner, store, prompt)
			}

			program := tea.NewProgram(ui.NewModel(runner, store, cfg), tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}

	root.Flags().StringVarP(&prompt, "prompt", "p", "", "run one prompt headlessly and exit")
	root.Flags().StringVar(&modelID, "model", "", "model id (overrides config)")
	root.Flags().StringVar(&teamName, "team-name", "", "team identity for spawned agents")
	root.Flags().StringVar(&agentName, "agent-name", "", "agent identity for spawned agents")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the octo version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("octo", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runHeadless drives one run without a TUI: deltas to stdout, tool
// activity to stderr. The exit code reflects the final event.
func runHeadless(runner *agent.Runner, store *db.Store, prompt string) error {
	sessionID := uuid.NewString()
	if _, err := store.CreateSession(sessionID, prompt); err != nil {
		return err
	}

	if runner.Identity.InTeam() {
		st := team.NewStore(runner.Root)
		if w, err := st.WatchInbox(runner.Identity.Team, runner.Identity.Agent, func() {
			fmt.Fprintln(os.Stderr, "[inbox] new message")
		}); err == nil {
			defer w.Close()
		}
	}

	runner.Teammates = &sync.WaitGroup{}

	b, cancel := runner.Run(context.Background(), sessionID, nil, prompt)
	defer cancel()

	failed := false
	for ev := range b.Events() {
		switch ev.Kind {
		case bus.KindContentDelta:
			fmt.Print(ev.Text)
		case bus.KindToolCallStart:
			fmt.Fprintf(os.Stderr, "[tool] %s\n", ev.ToolName)
		case bus.KindToolResult:
			if ev.IsError {
				fmt.Fprintf(os.Stderr, "[tool] %s failed: %s\n", ev.ToolName, ev.Text)
			}
		case bus.KindComplete:
			fmt.Println()
			store.AddUsage(sessionID, ev.Usage, ev.Cost)
		case bus.KindError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Text)
			failed = true
		case bus.KindPermissionRequest:
			// Headless gates are non-interactive; this is a safety net.
			ev.Permission.Reply <- bus.Deny
		}
	}

	// Spawned teammates are goroutines in this process; let them report
	// in before the process goes away.
	runner.Teammates.Wait()

	if failed {
		return fmt.Errorf("run finished with errors")
	}
	return nil
}
