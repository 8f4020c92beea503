package keys

import "github.com/charmbracelet/bubbles/key"

// ConnectKeys adds sending and line control to the terminal keys
type ConnectKeys struct {
	TerminalKeys
	Enter          key.Binding
	ToggleSendMode key.Binding
	HistoryUp      key.Binding
	HistoryDown    key.Binding
	Connect        key.Binding
	Background     key.Binding
	Break          key.Binding
	ToggleRTS      key.Binding
	ToggleDTR      key.Binding
	CycleFlow      key.Binding
	ToggleLines    key.Binding
}

func NewConnectKeys() ConnectKeys {
	return ConnectKeys{
		TerminalKeys: NewTerminalKeys(),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send message"),
		),
		ToggleSendMode: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle send mode"),
		),
		HistoryUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "previous"),
		),
		HistoryDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "next"),
		),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect/disconnect"),
		),
		Background: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "background"),
		),
		Break: key.NewBinding(
			key.WithKeys("ctrl+b"),
			key.WithHelp("ctrl+b", "send break"),
		),
		ToggleRTS: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "toggle RTS"),
		),
		ToggleDTR: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "toggle DTR"),
		),
		CycleFlow: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "flow control"),
		),
		ToggleLines: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "control lines"),
		),
	}
}

func (k ConnectKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.InsertMode, k.Connect, k.Background, k.Quit}
}

func (k ConnectKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.InsertMode, k.Escape, k.Enter, k.ToggleSendMode},
		{k.Connect, k.Background, k.Break, k.CycleFlow},
		{k.ToggleRTS, k.ToggleDTR, k.ToggleLines, k.Clear},
		{k.ToggleHex, k.ToggleASCII, k.Up, k.Down},
		{k.GotoTop, k.GotoBottom, k.Help, k.Quit},
	}
}
