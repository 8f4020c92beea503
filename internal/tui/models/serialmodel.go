package models

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/flowcontrol"
	"github.com/allbin/serialterm/internal/tui/components"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/sender"
	"github.com/allbin/serialterm/session"
)

// InputMode represents the current input mode (vim-like)
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	if m == InputModeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

// DefaultMaxEntries bounds the terminal log
const DefaultMaxEntries = 10000

// Settings configures a SerialModel
type Settings struct {
	WriteTimeout       time.Duration
	PollInterval       time.Duration
	AssertControlLines bool
	ShowControlLines   bool
	FlowControl        serial.FlowControl
	Trigger            *session.Broadcast
	MaxEntries         int
	Logger             *slog.Logger
}

// SerialModel is the foreground consumer of one session. Every method runs
// on the delivery goroutine, which in the terminal UI is the bubbletea
// update loop.
type SerialModel struct {
	session *session.Session
	relay   *relay.Relay
	monitor *flowcontrol.Monitor
	sender  *sender.Controller
	logger  *slog.Logger

	flow       serial.FlowControl
	showLines  bool
	entries    []components.Entry
	maxEntries int
	dirty      bool
	background bool
	indicator  sender.Indicator
	supported  serial.ControlLine
	current    serial.ControlLine
}

var _ relay.Consumer = (*SerialModel)(nil)

// NewSerialModel wires a session for driver and attaches the model to its relay
func NewSerialModel(driver serial.Driver, sched flowcontrol.Scheduler, s Settings) *SerialModel {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &SerialModel{
		logger:     logger,
		flow:       s.FlowControl,
		showLines:  s.ShowControlLines,
		maxEntries: s.MaxEntries,
	}
	if m.maxEntries <= 0 {
		m.maxEntries = DefaultMaxEntries
	}

	m.relay = relay.New(sched, relay.WithLogger(logger))

	opts := []session.Option{
		session.WithInitialControlLines(s.AssertControlLines),
		session.WithLogger(logger),
	}
	if s.WriteTimeout > 0 {
		opts = append(opts, session.WithWriteTimeout(s.WriteTimeout))
	}
	if s.Trigger != nil {
		opts = append(opts, session.WithTrigger(s.Trigger))
	}
	m.session = session.New(driver, m.relay, opts...)

	monitorOpts := []flowcontrol.Option{
		flowcontrol.WithLogger(logger),
		flowcontrol.WithStatusHandler(func(msg string) { m.status(msg, true) }),
		flowcontrol.WithLinesHandler(m.onLines),
		flowcontrol.WithPermitHandler(func(bool) { m.sender.Refresh() }),
	}
	if s.PollInterval > 0 {
		monitorOpts = append(monitorOpts, flowcontrol.WithInterval(s.PollInterval))
	}
	m.monitor = flowcontrol.New(m.session, sched, monitorOpts...)

	m.sender = sender.New(m.session, sched, m.monitor.SendPermitted,
		sender.WithLogger(logger),
		sender.WithIndicatorHandler(func(i sender.Indicator) {
			m.indicator = i
			m.dirty = true
		}),
		sender.WithCompletionHandler(m.onWritten),
	)

	m.relay.Attach(m)
	return m
}

func (m *SerialModel) Session() *session.Session {
	return m.session
}

func (m *SerialModel) Relay() *relay.Relay {
	return m.relay
}

func (m *SerialModel) Monitor() *flowcontrol.Monitor {
	return m.monitor
}

func (m *SerialModel) Sender() *sender.Controller {
	return m.sender
}

func (m *SerialModel) Entries() []components.Entry {
	return m.entries
}

// TakeDirty reports whether the log changed since the last call
func (m *SerialModel) TakeDirty() bool {
	dirty := m.dirty
	m.dirty = false
	return dirty
}

func (m *SerialModel) ClearEntries() {
	m.entries = nil
	m.dirty = true
}

func (m *SerialModel) Background() bool {
	return m.background
}

// Queued returns the number of events held while in the background
func (m *SerialModel) Queued() int {
	return m.relay.Pending()
}

func (m *SerialModel) Indicator() sender.Indicator {
	return m.indicator
}

func (m *SerialModel) ControlLineState() (supported, current serial.ControlLine) {
	return m.supported, m.current
}

// Connect starts connecting; the outcome is delivered as an event
func (m *SerialModel) Connect() {
	if err := m.session.Connect(); err != nil {
		m.status(fmt.Sprintf("connect failed: %v", err), true)
		return
	}
	m.status("connecting to "+m.session.Name()+"...", false)
}

// Disconnect closes the connection and fails payloads still being written
func (m *SerialModel) Disconnect() {
	m.monitor.Stop()
	m.session.Disconnect()
	m.failPending()
	m.status("disconnected", false)
}

// ToggleConnection connects when disconnected and disconnects otherwise
func (m *SerialModel) ToggleConnection() {
	if m.session.State() == relay.StateDisconnected {
		m.Connect()
		return
	}
	m.Disconnect()
}

// ToggleBackground detaches the model from the relay, or re-attaches it
// and drains what was queued meanwhile.
func (m *SerialModel) ToggleBackground() {
	if m.background {
		m.background = false
		m.dirty = true
		m.relay.Attach(m)
		return
	}
	m.relay.Detach()
	m.background = true
	m.dirty = true
}

// Send queues payload for writing and logs it as pending
func (m *SerialModel) Send(payload []byte) error {
	if err := m.sender.Send(payload); err != nil {
		if errors.Is(err, serial.ErrNotConnected) {
			m.status("not connected", true)
		} else {
			m.status(fmt.Sprintf("send failed: %v", err), true)
		}
		return err
	}
	m.add(components.Entry{Kind: components.EntryTX, Data: payload, Status: components.TXPending})
	return nil
}

// SendBreak holds a BREAK condition for d. It blocks for d, so callers run
// it off the delivery goroutine.
func (m *SerialModel) SendBreak(d time.Duration) error {
	return m.session.SendBreak(d)
}

// BreakDone logs the outcome of SendBreak
func (m *SerialModel) BreakDone(err error) {
	if err != nil {
		m.status(fmt.Sprintf("send BREAK failed: %v", err), true)
		return
	}
	m.status("BREAK sent", false)
}

// ToggleLine inverts RTS or DTR
func (m *SerialModel) ToggleLine(line serial.ControlLine) {
	if m.session.State() != relay.StateConnected {
		m.status("not connected", true)
		return
	}
	lines, err := m.session.ControlLines()
	if err != nil {
		m.status(fmt.Sprintf("get control lines failed: %v", err), true)
		return
	}
	on := !lines.Has(line)
	if m.monitor.SetControlLine(line, on) != nil {
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	m.status(fmt.Sprintf("%s %s", line, state), false)
}

// CycleFlowControl selects the next mode the connection supports
func (m *SerialModel) CycleFlowControl() {
	if m.session.State() != relay.StateConnected {
		m.status("not connected", true)
		return
	}
	supported, err := m.session.SupportedFlowControl()
	if err != nil {
		m.status(fmt.Sprintf("get flow control failed: %v", err), true)
		return
	}
	modes := supported.Modes()
	next := modes[0]
	for i, mode := range modes {
		if mode == m.monitor.Mode() {
			next = modes[(i+1)%len(modes)]
			break
		}
	}
	if m.monitor.SelectFlowControl(next) == nil {
		m.status("flow control: "+next.Description(), false)
	}
	m.flow = m.monitor.Mode()
	m.sender.Refresh()
}

// ToggleControlLines shows or hides the control-line panel. While
// disconnected only the setting changes; sampling starts on connect.
func (m *SerialModel) ToggleControlLines() bool {
	m.dirty = true
	if m.session.State() != relay.StateConnected {
		m.showLines = !m.showLines
		return m.showLines
	}
	m.showLines = m.monitor.ShowControlLines(!m.showLines)
	return m.showLines
}

func (m *SerialModel) ShowingControlLines() bool {
	return m.showLines
}

func (m *SerialModel) OnConnected() {
	m.status("connected", false)
	if m.showLines {
		m.showLines = m.monitor.ShowControlLines(true)
	}
	// The device was just opened, so the mode has to be applied again
	if m.monitor.SelectFlowControl(m.flow) != nil {
		m.flow = m.monitor.Mode()
	}
	m.sender.Refresh()
}

func (m *SerialModel) OnConnectError(err error) {
	m.status(err.Error(), true)
	m.monitor.Stop()
	m.session.Disconnect()
}

func (m *SerialModel) OnDataReceived(chunks [][]byte) {
	for _, chunk := range chunks {
		data := m.monitor.Filter(chunk)
		if len(data) == 0 {
			continue
		}
		m.add(components.Entry{Kind: components.EntryRX, Data: data})
	}
}

func (m *SerialModel) OnIoError(err error) {
	m.status(err.Error(), true)
	m.monitor.Stop()
	m.session.Disconnect()
	m.failPending()
}

func (m *SerialModel) onLines(supported, current serial.ControlLine) {
	m.supported = supported
	m.current = current
	m.dirty = true
}

// onWritten marks the oldest pending payload as written
func (m *SerialModel) onWritten(int) {
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind == components.EntryTX && e.Status == components.TXPending {
			e.Status = components.TXWritten
			m.dirty = true
			return
		}
	}
}

func (m *SerialModel) failPending() {
	for i := range m.entries {
		e := &m.entries[i]
		if e.Kind == components.EntryTX && e.Status == components.TXPending {
			e.Status = components.TXFailed
			m.dirty = true
		}
	}
}

func (m *SerialModel) status(text string, isErr bool) {
	if isErr {
		m.logger.Warn(text)
	} else {
		m.logger.Info(text)
	}
	m.add(components.Entry{Kind: components.EntryStatus, Text: text, Error: isErr})
}

func (m *SerialModel) add(e components.Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.maxEntries; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	m.dirty = true
}
