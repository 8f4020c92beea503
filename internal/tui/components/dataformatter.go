package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/allbin/serialterm/internal/tui/colors"
	"github.com/charmbracelet/lipgloss"
)

// EntryKind separates received data, sent data and status lines
type EntryKind int

const (
	EntryRX EntryKind = iota
	EntryTX
	EntryStatus
)

// TXStatus tracks a sent payload until the device has accepted all of it
type TXStatus int

const (
	TXPending TXStatus = iota
	TXWritten
	TXFailed
)

// Entry is one line of the terminal log
type Entry struct {
	Timestamp time.Time
	Kind      EntryKind
	Data      []byte
	Status    TXStatus
	Text      string
	Error     bool
}

type DisplayMode struct {
	ShowHex   bool
	ShowASCII bool
}

type DataFormatter struct {
	mode DisplayMode
}

func NewDataFormatter(showHex, showASCII bool) *DataFormatter {
	return &DataFormatter{
		mode: DisplayMode{
			ShowHex:   showHex,
			ShowASCII: showASCII,
		},
	}
}

func (df *DataFormatter) GetDisplayMode() DisplayMode {
	return df.mode
}

func (df *DataFormatter) ToggleHex() {
	df.mode.ShowHex = !df.mode.ShowHex
}

func (df *DataFormatter) ToggleASCII() {
	df.mode.ShowASCII = !df.mode.ShowASCII
}

// Printable replaces every byte outside printable ASCII with a dot so that
// device output can never inject terminal control sequences.
func Printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func (df *DataFormatter) indicator(e Entry) string {
	switch e.Kind {
	case EntryTX:
		color, text := colors.Peach, "TX"
		switch e.Status {
		case TXPending:
			color, text = colors.Yellow, "TX ○"
		case TXWritten:
			color, text = colors.Green, "TX ✓"
		case TXFailed:
			color, text = colors.Red, "TX ✗"
		}
		return lipgloss.NewStyle().Foreground(color).Bold(true).Render("↗ " + text)
	case EntryStatus:
		color := colors.Mauve
		if e.Error {
			color = colors.Red
		}
		return lipgloss.NewStyle().Foreground(color).Bold(true).Render("● --")
	default:
		return lipgloss.NewStyle().Foreground(colors.Sky).Bold(true).Render("↙ RX")
	}
}

func (df *DataFormatter) FormatEntry(e Entry) string {
	timestamp := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Render(fmt.Sprintf("[%s]", e.Timestamp.Format("15:04:05.000")))

	if e.Kind == EntryStatus {
		color := colors.Subtext1
		if e.Error {
			color = colors.Red
		}
		text := lipgloss.NewStyle().Foreground(color).Render(e.Text)
		return fmt.Sprintf("%s %s %s", timestamp, df.indicator(e), text)
	}

	var parts []string
	if df.mode.ShowHex {
		parts = append(parts, fmt.Sprintf("HEX: % X", e.Data))
	}
	if df.mode.ShowASCII {
		parts = append(parts, "ASCII: "+Printable(e.Data))
	}
	if !df.mode.ShowHex && !df.mode.ShowASCII {
		parts = append(parts, fmt.Sprintf("BYTES: %d", len(e.Data)))
	}

	return fmt.Sprintf("%s %s: %s", timestamp, df.indicator(e), strings.Join(parts, "  "))
}

func (df *DataFormatter) FormatEntries(entries []Entry) []string {
	formatted := make([]string, len(entries))
	for i, e := range entries {
		formatted[i] = df.FormatEntry(e)
	}
	return formatted
}
