package models

import (
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/allbin/serialterm/internal/tui/keys"
	"github.com/allbin/serialterm/internal/tui/styles"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// BreakDuration is how long ctrl+b holds the line in BREAK
const BreakDuration = 100 * time.Millisecond

// TaskMsg carries a relay task into the bubbletea update loop
type TaskMsg func()

type tickMsg time.Time

type breakMsg struct {
	err error
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// ConnectModel is the interactive terminal
type ConnectModel struct {
	*SerialModel
	terminal  *components.Terminal
	statusBar *components.StatusBar
	input     *components.Input
	panel     *components.ControlLinesPanel
	help      help.Model
	keys      keys.ConnectKeys

	inputMode InputMode
	ready     bool
	width     int
	height    int
	clock     time.Time
}

// ConnectOptions holds the presentation settings of a ConnectModel
type ConnectOptions struct {
	Name        string
	Settings    *components.LineSettings
	SendingMode components.SendingMode
	Newline     []byte
	Hex         bool
}

func NewConnectModel(serialModel *SerialModel, opts ConnectOptions) *ConnectModel {
	return &ConnectModel{
		SerialModel: serialModel,
		terminal:    components.NewTerminal(0, 0, opts.Hex),
		statusBar:   components.NewStatusBar(opts.Name, opts.Settings),
		input:       components.NewInput(opts.SendingMode, opts.Newline),
		panel:       components.NewControlLinesPanel(),
		help:        help.New(),
		keys:        keys.NewConnectKeys(),
		clock:       time.Now(),
	}
}

func (m *ConnectModel) Init() tea.Cmd {
	m.Connect()
	return tick()
}

// InputMode returns the vim-like editing mode
func (m *ConnectModel) InputMode() InputMode {
	return m.inputMode
}

func (m *ConnectModel) layout() {
	if !m.ready {
		return
	}
	// input(3) + status bar(1) + content border(1)
	reserved := 5
	if m.help.ShowAll {
		reserved += lipgloss.Height(m.help.View(m.keys))
	}
	width := m.width
	if m.panel.Visible() {
		width -= lipgloss.Width(m.panel.View())
	}
	height := m.height - reserved
	if height < 1 {
		height = 1
	}
	m.terminal.SetSize(width, height)
	m.input.SetWidth(m.width)
	m.statusBar.SetWidth(m.width)
	m.help.Width = m.width
}

func (m *ConnectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case TaskMsg:
		msg()

	case tickMsg:
		m.clock = time.Time(msg)
		cmds = append(cmds, tick())

	case breakMsg:
		m.BreakDone(msg.err)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.dirty = true

	case tea.MouseMsg:
		_, cmd := m.terminal.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		if m.inputMode == InputModeInsert {
			cmds = append(cmds, m.updateInsert(msg))
		} else {
			cmd, quit := m.updateNormal(msg)
			if quit {
				return m, tea.Quit
			}
			cmds = append(cmds, cmd)
		}
	}

	if m.panel.Visible() != m.ShowingControlLines() {
		m.panel.SetVisible(m.ShowingControlLines())
		m.layout()
		m.dirty = true
	}
	if m.TakeDirty() {
		m.panel.Update(m.ControlLineState())
		m.terminal.Render(m.Entries())
	}
	return m, tea.Batch(cmds...)
}

func (m *ConnectModel) updateInsert(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.inputMode = InputModeNormal
		m.input.Blur()
		return nil
	case key.Matches(msg, m.keys.Enter):
		m.submit()
		return nil
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
		return nil
	case key.Matches(msg, m.keys.HistoryUp):
		m.input.HistoryUp()
		return nil
	case key.Matches(msg, m.keys.HistoryDown):
		m.input.HistoryDown()
		return nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *ConnectModel) submit() {
	line := m.input.Value()
	if line == "" && m.input.GetSendingMode() == components.SendingModeHex {
		return
	}
	payload, err := m.input.Payload()
	if err != nil {
		m.status(err.Error(), true)
		return
	}
	if m.Send(payload) != nil {
		return
	}
	m.input.AddToHistory(line)
	m.input.SetValue("")
}

func (m *ConnectModel) updateNormal(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Disconnect()
		return nil, true

	case key.Matches(msg, m.keys.InsertMode):
		m.inputMode = InputModeInsert
		return m.input.Focus(), false

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()

	case key.Matches(msg, m.keys.Clear):
		m.ClearEntries()

	case key.Matches(msg, m.keys.ToggleHex):
		m.terminal.ToggleHex()
		m.dirty = true

	case key.Matches(msg, m.keys.ToggleASCII):
		m.terminal.ToggleASCII()
		m.dirty = true

	case key.Matches(msg, m.keys.Up):
		m.terminal.ScrollUp(1)

	case key.Matches(msg, m.keys.Down):
		m.terminal.ScrollDown(1)

	case key.Matches(msg, m.keys.GotoTop):
		m.terminal.GotoTop()

	case key.Matches(msg, m.keys.GotoBottom):
		m.terminal.Follow(true)

	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()

	case key.Matches(msg, m.keys.Connect):
		m.ToggleConnection()

	case key.Matches(msg, m.keys.Background):
		m.ToggleBackground()

	case key.Matches(msg, m.keys.Break):
		sm := m.SerialModel
		return func() tea.Msg {
			return breakMsg{err: sm.SendBreak(BreakDuration)}
		}, false

	case key.Matches(msg, m.keys.ToggleRTS):
		m.ToggleLine(serial.RTS)

	case key.Matches(msg, m.keys.ToggleDTR):
		m.ToggleLine(serial.DTR)

	case key.Matches(msg, m.keys.CycleFlow):
		m.CycleFlowControl()

	case key.Matches(msg, m.keys.ToggleLines):
		m.ToggleControlLines()
	}
	return nil, false
}

func (m *ConnectModel) View() string {
	content := "Initializing..."
	if m.ready {
		content = m.terminal.View()
		if m.panel.Visible() {
			content = lipgloss.JoinHorizontal(lipgloss.Top, content, m.panel.View())
		}
	}

	insert := m.inputMode == InputModeInsert
	status := m.statusBar.View(components.StatusState{
		InputMode:   m.inputMode.String(),
		SendingMode: m.input.GetSendingMode(),
		State:       m.Session().State(),
		FlowControl: m.Monitor().Mode(),
		Permitted:   m.Monitor().SendPermitted(),
		Indicator:   m.Indicator(),
		Background:  m.Background(),
		Queued:      m.Queued(),
		Clock:       m.clock.Format("15:04:05"),
	})

	parts := []string{
		styles.ContentBorderStyle.Render(content),
		m.input.View(insert),
		status,
	}
	if m.help.ShowAll {
		parts = append(parts, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
