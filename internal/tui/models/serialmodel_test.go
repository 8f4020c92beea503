package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/flowcontrol"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/serialtest"
	"github.com/allbin/serialterm/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

// harness runs relay tasks on the test goroutine, the way the bubbletea
// program runs them on its update loop
type harness struct {
	tasks  chan func()
	loop   *relay.Loop
	driver *serialtest.Driver
	model  *SerialModel
}

func newHarness(t *testing.T, s Settings) *harness {
	t.Helper()
	h := &harness{
		tasks:  make(chan func(), 1024),
		driver: serialtest.NewDriver(),
	}
	h.loop = relay.NewLoop(relay.WithExecutor(func(task func()) { h.tasks <- task }))
	if s.Trigger == nil {
		s.Trigger = session.NewBroadcast()
	}
	if s.PollInterval == 0 {
		s.PollInterval = 5 * time.Millisecond
	}
	h.model = NewSerialModel(h.driver, h.loop, s)
	t.Cleanup(func() {
		h.model.Session().Disconnect()
		h.loop.Close()
	})
	return h
}

// until runs queued tasks until cond holds
func (h *harness) until(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case task := <-h.tasks:
			task()
		case <-deadline:
			t.Fatal("condition not reached")
		}
	}
}

func (h *harness) connect(t *testing.T) *serialtest.Port {
	t.Helper()
	h.model.Connect()
	h.until(t, func() bool { return h.hasStatus("connected") })
	return h.driver.Last()
}

func (h *harness) hasStatus(text string) bool {
	for _, e := range h.model.Entries() {
		if e.Kind == components.EntryStatus && e.Text == text {
			return true
		}
	}
	return false
}

func (h *harness) statusContaining(sub string) (components.Entry, bool) {
	for _, e := range h.model.Entries() {
		if e.Kind == components.EntryStatus && strings.Contains(e.Text, sub) {
			return e, true
		}
	}
	return components.Entry{}, false
}

func (h *harness) received() []byte {
	var out []byte
	for _, e := range h.model.Entries() {
		if e.Kind == components.EntryRX {
			out = append(out, e.Data...)
		}
	}
	return out
}

func TestConnectAndReceive(t *testing.T) {
	h := newHarness(t, Settings{AssertControlLines: true})
	port := h.connect(t)

	require.Equal(t, relay.StateConnected, h.model.Session().State())
	require.True(t, port.Lines().Has(serial.RTS|serial.DTR))

	port.Emit([]byte("hello "))
	port.Emit([]byte("world"))
	h.until(t, func() bool { return string(h.received()) == "hello world" })
}

func TestConnectFailureStatus(t *testing.T) {
	h := newHarness(t, Settings{})
	h.driver.SetOpenError(serial.ErrDeviceNotFound)

	h.model.Connect()
	h.until(t, func() bool {
		_, ok := h.statusContaining("connection failed")
		return ok
	})

	e, _ := h.statusContaining("connection failed")
	require.True(t, e.Error)
	require.Contains(t, e.Text, "device not found")
	require.Equal(t, relay.StateDisconnected, h.model.Session().State())
}

func TestConnectionLost(t *testing.T) {
	h := newHarness(t, Settings{})
	port := h.connect(t)

	port.Fail(errors.New("EIO"))
	h.until(t, func() bool {
		_, ok := h.statusContaining("connection lost")
		return ok
	})
	require.Eventually(t, port.Closed, time.Second, time.Millisecond)
	require.False(t, h.model.Monitor().Polling())
}

func TestBackgroundQueuesAndDrains(t *testing.T) {
	h := newHarness(t, Settings{})
	port := h.connect(t)

	h.model.ToggleBackground()
	require.True(t, h.model.Background())

	port.Emit([]byte("a"))
	port.Emit([]byte("b"))
	port.Emit([]byte("c"))
	require.Equal(t, 1, h.model.Queued(), "chunks coalesce into one batch")
	require.Empty(t, h.received())

	h.model.ToggleBackground()
	require.False(t, h.model.Background())
	require.Equal(t, 0, h.model.Queued())
	require.Equal(t, []byte("abc"), h.received())
}

func TestBackgroundDisconnectSignal(t *testing.T) {
	trigger := session.NewBroadcast()
	h := newHarness(t, Settings{Trigger: trigger})
	port := h.connect(t)

	trigger.Fire()
	require.Equal(t, relay.StateDisconnected, h.model.Session().State())
	h.until(t, func() bool { return h.hasStatus("connection lost: background disconnect") })
	require.True(t, port.Closed())
}

func TestSendMarksWritten(t *testing.T) {
	h := newHarness(t, Settings{})
	port := h.connect(t)
	port.ScriptWrites(serialtest.WriteResult{Accept: 2})

	require.NoError(t, h.model.Send([]byte("hello")))
	h.until(t, func() bool { return !h.model.Sender().InFlight() })

	require.Equal(t, []byte("hello"), port.Written())
	var tx []components.Entry
	for _, e := range h.model.Entries() {
		if e.Kind == components.EntryTX {
			tx = append(tx, e)
		}
	}
	require.Len(t, tx, 1)
	require.Equal(t, components.TXWritten, tx[0].Status)
}

func TestSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, Settings{})

	err := h.model.Send([]byte("x"))
	require.ErrorIs(t, err, serial.ErrNotConnected)
	require.True(t, h.hasStatus("not connected"))
}

func TestInlineFlowControlFiltersReceivedData(t *testing.T) {
	h := newHarness(t, Settings{FlowControl: serial.FlowControlXONXOFFInline})
	port := h.connect(t)
	require.Equal(t, serial.FlowControlXONXOFFInline, h.model.Monitor().Mode())

	port.Emit([]byte{'o', flowcontrol.XOFF, 'k'})
	h.until(t, func() bool { return string(h.received()) == "ok" })
	h.until(t, func() bool { return !h.model.Monitor().SendPermitted() })
}

func TestUnsupportedFlowControlFallsBack(t *testing.T) {
	h := newHarness(t, Settings{FlowControl: serial.FlowControlRTSCTS})
	h.driver.Setup = func(p *serialtest.Port) {
		p.SetFlowModes(serial.FlowControlXONXOFFInline)
	}
	h.connect(t)

	require.Equal(t, serial.FlowControlNone, h.model.Monitor().Mode())
	_, ok := h.statusContaining("set flow control failed")
	require.True(t, ok)
}

func TestCycleFlowControl(t *testing.T) {
	h := newHarness(t, Settings{})
	port := h.connect(t)
	port.SetLines(serial.RTS | serial.DTR | serial.CTS)

	h.model.CycleFlowControl()
	next := h.model.Monitor().Mode()
	require.NotEqual(t, serial.FlowControlNone, next)
	require.Equal(t, next, port.FlowControl())
}

func TestToggleLine(t *testing.T) {
	h := newHarness(t, Settings{AssertControlLines: true})
	port := h.connect(t)

	h.model.ToggleLine(serial.RTS)
	require.False(t, port.Lines().Has(serial.RTS))
	require.True(t, h.hasStatus("RTS off"))

	h.model.ToggleLine(serial.RTS)
	require.True(t, port.Lines().Has(serial.RTS))
}

func TestControlLinesPanelSampling(t *testing.T) {
	h := newHarness(t, Settings{})
	require.True(t, h.model.ToggleControlLines(), "setting kept while disconnected")

	port := h.connect(t)
	port.SetLines(serial.CTS | serial.DSR)
	h.until(t, func() bool {
		_, current := h.model.ControlLineState()
		return current == serial.CTS|serial.DSR
	})

	require.False(t, h.model.ToggleControlLines())
	require.False(t, h.model.ShowingControlLines())
}

func TestEntriesBounded(t *testing.T) {
	h := newHarness(t, Settings{MaxEntries: 3})
	for i := 0; i < 5; i++ {
		h.model.status("line", false)
	}
	require.Len(t, h.model.Entries(), 3)
}

func TestConnectModelKeys(t *testing.T) {
	h := newHarness(t, Settings{})
	m := NewConnectModel(h.model, ConnectOptions{Name: "fake", Newline: []byte("\r\n")})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	// Init starts connecting; tasks arrive as TaskMsg
	m.Init()
	h.until(t, func() bool { return h.hasStatus("connected") })
	port := h.driver.Last()

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	require.True(t, m.Background())
	require.Contains(t, m.View(), "BACKGROUND")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	require.False(t, m.Background())

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	require.Equal(t, InputModeInsert, m.InputMode())
	for _, r := range "hi" {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	h.until(t, func() bool { return string(port.Written()) == "hi\r\n" })

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, InputModeNormal, m.InputMode())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.Equal(t, relay.StateDisconnected, m.Session().State())
}
