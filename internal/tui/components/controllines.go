package components

import (
	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/internal/tui/colors"
	"github.com/allbin/serialterm/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
)

const (
	columnLine  = "line"
	columnDir   = "dir"
	columnState = "state"
)

// ControlLinesPanel shows one row per modem control line
type ControlLinesPanel struct {
	supported serial.ControlLine
	current   serial.ControlLine
	visible   bool
}

func NewControlLinesPanel() *ControlLinesPanel {
	return &ControlLinesPanel{}
}

func (p *ControlLinesPanel) SetVisible(visible bool) {
	p.visible = visible
}

func (p *ControlLinesPanel) Visible() bool {
	return p.visible
}

// Update stores the latest sample
func (p *ControlLinesPanel) Update(supported, current serial.ControlLine) {
	p.supported = supported
	p.current = current
}

func (p *ControlLinesPanel) View() string {
	if !p.visible {
		return ""
	}
	return ControlLinesTable(p.supported, p.current)
}

// ControlLinesTable renders the lines as a table. Lines outside supported
// are shown greyed out.
func ControlLinesTable(supported, current serial.ControlLine) string {
	columns := []table.Column{
		table.NewColumn(columnLine, "Line", 6),
		table.NewColumn(columnDir, "Dir", 5),
		table.NewColumn(columnState, "State", 7),
	}

	rows := make([]table.Row, 0, len(serial.AllControlLines.Lines()))
	for _, line := range serial.AllControlLines.Lines() {
		dir := "in"
		if serial.OutputLines.Has(line) {
			dir = "out"
		}

		state, color := "off", colors.LineOff
		switch {
		case !supported.Has(line):
			state, color = "n/a", colors.LineUnsupported
		case current.Has(line):
			state, color = "ON", colors.LineOn
		}

		rows = append(rows, table.NewRow(table.RowData{
			columnLine:  line.String(),
			columnDir:   dir,
			columnState: table.NewStyledCell(state, lipgloss.NewStyle().Foreground(color).Bold(state == "ON")),
		}))
	}

	return table.New(columns).
		WithRows(rows).
		HeaderStyle(styles.PanelHeaderStyle).
		WithBaseStyle(lipgloss.NewStyle().
			Foreground(colors.Text).
			BorderForeground(colors.Surface2).
			Align(lipgloss.Left)).
		BorderRounded().
		View()
}
