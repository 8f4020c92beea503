package components

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/allbin/serialterm/internal/tui/colors"
	"github.com/allbin/serialterm/internal/tui/styles"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type SendingMode int

const (
	SendingModeASCII SendingMode = iota
	SendingModeHex
)

func (s SendingMode) String() string {
	if s == SendingModeHex {
		return "HEX"
	}
	return "ASCII"
}

const (
	asciiPlaceholder = "Type message and press Enter to send..."
	hexPlaceholder   = "Enter hex (e.g. 48656C6C6F or 48 65 6C 6C 6F)..."
	historySize      = 100
)

// Input is the single-line send field with history
type Input struct {
	textInput    textinput.Model
	sendingMode  SendingMode
	newline      []byte
	history      []string
	historyIndex int
	draft        string
	width        int
}

// NewInput creates the field. newline is appended to ASCII payloads only.
func NewInput(mode SendingMode, newline []byte) *Input {
	ti := textinput.New()
	ti.CharLimit = 1024
	ti.Prompt = ""

	i := &Input{
		textInput:    ti,
		newline:      newline,
		historyIndex: -1,
	}
	i.setMode(mode)
	return i
}

func (i *Input) SetWidth(width int) {
	i.width = width
	// border(2) + padding(2) + prompt(1) + space(1)
	usable := width - 6
	if usable < 20 {
		usable = 20
	}
	i.textInput.Width = usable
}

func (i *Input) Focus() tea.Cmd {
	return i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) setMode(mode SendingMode) {
	i.sendingMode = mode
	if mode == SendingModeHex {
		i.textInput.Placeholder = hexPlaceholder
	} else {
		i.textInput.Placeholder = asciiPlaceholder
	}
}

func (i *Input) ToggleSendingMode() {
	if i.sendingMode == SendingModeHex {
		i.setMode(SendingModeASCII)
	} else {
		i.setMode(SendingModeHex)
	}
}

func (i *Input) GetSendingMode() SendingMode {
	return i.sendingMode
}

// Payload encodes the current value for sending
func (i *Input) Payload() ([]byte, error) {
	value := i.textInput.Value()
	if i.sendingMode == SendingModeHex {
		return ParseHex(value)
	}
	return append([]byte(value), i.newline...), nil
}

// ParseHex accepts "48656C6C6F" as well as "48 65 6C 6C 6F"
func ParseHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	if clean == "" {
		return nil, fmt.Errorf("empty input")
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even number of digits (got %d)", len(clean))
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}

func (i *Input) Update(msg tea.Msg) (*Input, tea.Cmd) {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return i, cmd
}

func (i *Input) View(insert bool) string {
	symbol, color := ">", colors.Green
	if i.sendingMode == SendingModeHex {
		symbol, color = "#", colors.Yellow
	}
	prompt := lipgloss.NewStyle().Foreground(color).Bold(true).Render(symbol)

	var content string
	if insert {
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", i.textInput.View())
	} else {
		hint := lipgloss.NewStyle().
			Foreground(colors.Overlay0).
			Render("Press 'i' to enter insert mode")
		content = lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", hint)
	}

	// RoundedBorder and padding take two columns each
	width := i.width - 4
	if width < 10 {
		width = 10
	}
	style := styles.InputStyle.
		Width(width).
		AlignHorizontal(lipgloss.Left)
	if insert {
		style = style.BorderForeground(colors.Green)
	}
	return style.Render(content)
}

// AddToHistory records a sent line, skipping blanks and repeats
func (i *Input) AddToHistory(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if n := len(i.history); n == 0 || i.history[n-1] != line {
		i.history = append(i.history, line)
		if len(i.history) > historySize {
			i.history = i.history[1:]
		}
	}
	i.historyIndex = -1
	i.draft = ""
}

func (i *Input) HistoryUp() {
	if len(i.history) == 0 {
		return
	}
	if i.historyIndex == -1 {
		i.draft = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	} else if i.historyIndex > 0 {
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) HistoryDown() {
	if i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.draft)
	i.draft = ""
}
