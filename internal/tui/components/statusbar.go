package components

import (
	"fmt"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/internal/tui/colors"
	"github.com/allbin/serialterm/internal/tui/styles"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/sender"
	"github.com/charmbracelet/lipgloss"
)

// LineSettings is the configured framing shown next to the port name
type LineSettings struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   serial.Parity
}

func (l LineSettings) String() string {
	return fmt.Sprintf("%d baud %d%s%d", l.BaudRate, l.DataBits, l.Parity, l.StopBits)
}

// StatusState is everything the status bar shows; the model fills it in
// before every render.
type StatusState struct {
	InputMode   string
	SendingMode SendingMode
	State       relay.State
	FlowControl serial.FlowControl
	Permitted   bool
	Indicator   sender.Indicator
	Background  bool
	Queued      int
	Clock       string
}

type StatusBar struct {
	portName string
	settings *LineSettings
	width    int
}

func NewStatusBar(portName string, settings *LineSettings) *StatusBar {
	return &StatusBar{
		portName: portName,
		settings: settings,
	}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func indicatorStyle(i sender.Indicator) (lipgloss.Style, string) {
	switch i {
	case sender.Busy:
		return lipgloss.NewStyle().Foreground(colors.Yellow).Bold(true), "SEND ◐"
	case sender.Blocked:
		return lipgloss.NewStyle().Foreground(colors.Red).Bold(true), "SEND ✗"
	default:
		return lipgloss.NewStyle().Foreground(colors.Green), "SEND ✓"
	}
}

// View renders the bottom bar
func (sb *StatusBar) View(st StatusState) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeColor := colors.Blue
	if st.InputMode == "INSERT" {
		modeColor = colors.Green
	}
	mode := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(modeColor).
		Bold(true).
		Padding(0, 1).
		Render(st.InputMode)

	port := lipgloss.NewStyle().
		Foreground(colors.Mauve).
		Bold(true).
		Padding(0, 1).
		Render(sb.portName)

	conn := styles.StateStyle(st.State).Render(styles.StateSymbol(st.State))

	divider := lipgloss.NewStyle().
		Foreground(colors.Surface2).
		Padding(0, 1).
		Render("│")

	left := []string{mode, port, conn}
	if st.InputMode == "INSERT" {
		left = append(left, lipgloss.NewStyle().
			Foreground(colors.Peach).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("[%s] Tab to toggle", st.SendingMode)))
	}
	if st.Background {
		left = append(left, lipgloss.NewStyle().
			Foreground(colors.Yellow).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("BACKGROUND %d queued", st.Queued)))
	}
	left = append(left, divider)
	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, left...)

	info := "⚡ serial"
	if sb.settings != nil {
		info = "⚡ " + sb.settings.String()
	}
	info += " " + st.FlowControl.String()
	if st.FlowControl != serial.FlowControlNone {
		if st.Permitted {
			info += " ✓"
		} else {
			info += " ✗"
		}
	}
	details := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Padding(0, 1).
		Render(info)

	sendStyle, sendText := indicatorStyle(st.Indicator)
	send := sendStyle.Padding(0, 1).Render(sendText)

	clock := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1).
		Render(st.Clock)

	rightSide := lipgloss.JoinHorizontal(lipgloss.Left, details, divider, send, divider, clock)

	spacerWidth := width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}
