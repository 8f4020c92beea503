package styles

import (
	"github.com/allbin/serialterm/internal/tui/colors"
	"github.com/allbin/serialterm/relay"
	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve).
			Background(colors.Surface0).
			Padding(0, 1)

	StatusConnectedStyle = lipgloss.NewStyle().
				Foreground(colors.Green).
				Bold(true)

	StatusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(colors.Red).
				Bold(true)

	StatusConnectingStyle = lipgloss.NewStyle().
				Foreground(colors.Yellow).
				Bold(true)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(0, 1)

	PanelHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colors.Text)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Red)
)

// StateStyle colors the connection indicator
func StateStyle(state relay.State) lipgloss.Style {
	switch state {
	case relay.StateConnected:
		return StatusConnectedStyle
	case relay.StatePending:
		return StatusConnectingStyle
	default:
		return StatusDisconnectedStyle
	}
}

// StateSymbol is the single-character connection indicator
func StateSymbol(state relay.State) string {
	if state == relay.StateConnected {
		return "●"
	}
	return "○"
}
