package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Terminal renders the entry log in a scrolling viewport. It keeps the
// formatted lines; the model owns the entries themselves.
type Terminal struct {
	viewport  viewport.Model
	formatter *DataFormatter
	lines     []string
	follow    bool
}

func NewTerminal(width, height int, hex bool) *Terminal {
	return &Terminal{
		viewport:  viewport.New(width, height),
		formatter: NewDataFormatter(hex, true),
		follow:    true,
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

// Render replaces the content with entries
func (t *Terminal) Render(entries []Entry) {
	t.lines = t.formatter.FormatEntries(entries)
	t.viewport.SetContent(strings.Join(t.lines, "\n"))
	if t.follow {
		t.viewport.GotoBottom()
	}
}

// Follow keeps the view pinned to the newest entry
func (t *Terminal) Follow(follow bool) {
	t.follow = follow
	if follow {
		t.viewport.GotoBottom()
	}
}

func (t *Terminal) Following() bool {
	return t.follow
}

func (t *Terminal) ScrollUp(n int) {
	t.follow = false
	t.viewport.LineUp(n)
}

func (t *Terminal) ScrollDown(n int) {
	t.viewport.LineDown(n)
	if t.viewport.AtBottom() {
		t.follow = true
	}
}

func (t *Terminal) GotoTop() {
	t.follow = false
	t.viewport.GotoTop()
}

func (t *Terminal) ToggleHex() {
	t.formatter.ToggleHex()
}

func (t *Terminal) ToggleASCII() {
	t.formatter.ToggleASCII()
}

func (t *Terminal) GetDisplayMode() DisplayMode {
	return t.formatter.GetDisplayMode()
}

func (t *Terminal) Update(msg tea.Msg) (viewport.Model, tea.Cmd) {
	// Key messages stay with the model's bindings
	switch msg.(type) {
	case tea.WindowSizeMsg, tea.MouseMsg:
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t.viewport, cmd
	default:
		return t.viewport, nil
	}
}

func (t *Terminal) View() string {
	return t.viewport.View()
}
