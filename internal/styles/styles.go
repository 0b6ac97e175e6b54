package styles

import "github.com/charmbracelet/lipgloss"

var (
	UserLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	UserMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	AgentLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	AgentMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	ToolActionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	ToolErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	PermissionBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(1, 2)

	InputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	ToastStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))
)
