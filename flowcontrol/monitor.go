// Package flowcontrol samples modem control lines while a connection is
// up and derives whether the remote side currently permits sending.
package flowcontrol

import (
	"fmt"
	"log/slog"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/relay"
	"go.uber.org/atomic"
)

// DefaultInterval is the control-line refresh period
const DefaultInterval = 200 * time.Millisecond

// Lines is the slice of the session the monitor reads and drives.
type Lines interface {
	State() relay.State
	ControlLines() (serial.ControlLine, error)
	SupportedControlLines() (serial.ControlLine, error)
	SetControlLine(line serial.ControlLine, state bool) error
	SupportedFlowControl() (serial.FlowControlSet, error)
	SetFlowControl(mode serial.FlowControl) error
	XON() (bool, error)
}

// Scheduler posts tasks to the delivery goroutine, now or after a delay.
type Scheduler interface {
	relay.Dispatcher
	AfterFunc(d time.Duration, task func()) (stop func() bool)
}

// Monitor polls control lines on the delivery goroutine. Apart from
// SendPermitted, its methods must be called on that goroutine.
type Monitor struct {
	lines    Lines
	sched    Scheduler
	interval time.Duration
	logger   *slog.Logger

	onStatus func(msg string)
	onLines  func(supported, current serial.ControlLine)
	onPermit func(permitted bool)

	show      bool
	mode      serial.FlowControl
	filter    *XonXoffFilter
	gen       uint64
	stopTimer func() bool
	polling   bool
	supported serial.ControlLine
	current   serial.ControlLine

	permitted atomic.Bool
}

// Option configures a Monitor
type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithStatusHandler receives user-facing status messages
func WithStatusHandler(fn func(msg string)) Option {
	return func(m *Monitor) {
		m.onStatus = fn
	}
}

// WithLinesHandler receives the control-line indicator state whenever it changes
func WithLinesHandler(fn func(supported, current serial.ControlLine)) Option {
	return func(m *Monitor) {
		m.onLines = fn
	}
}

// WithPermitHandler is called whenever send permission changes
func WithPermitHandler(fn func(permitted bool)) Option {
	return func(m *Monitor) {
		m.onPermit = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// New creates an idle monitor with flow control off
func New(lines Lines, sched Scheduler, opts ...Option) *Monitor {
	m := &Monitor{
		lines:    lines,
		sched:    sched,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	m.permitted.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SendPermitted reports the last sampled permission. Safe from any goroutine.
func (m *Monitor) SendPermitted() bool {
	return m.permitted.Load()
}

// Mode returns the selected flow-control mode
func (m *Monitor) Mode() serial.FlowControl {
	return m.mode
}

// Polling reports whether a refresh is scheduled
func (m *Monitor) Polling() bool {
	return m.polling
}

// ShowingControlLines reports whether indicator sampling is on
func (m *Monitor) ShowingControlLines() bool {
	return m.show
}

// ControlLineState returns the supported lines and the last sample
func (m *Monitor) ControlLineState() (supported, current serial.ControlLine) {
	return m.supported, m.current
}

// Filter applies the inline XON/XOFF filter when that mode is selected.
func (m *Monitor) Filter(chunk []byte) []byte {
	if m.filter == nil {
		return chunk
	}
	return m.filter.Filter(chunk)
}

// ShowControlLines turns indicator sampling on or off and restarts
// polling. It returns the resulting setting, which is false when the
// supported lines cannot be read.
func (m *Monitor) ShowControlLines(show bool) bool {
	m.show = show
	m.Start()
	return m.show
}

// Start samples once and keeps refreshing while connected, if indicators
// are shown or a flow-control mode is selected.
func (m *Monitor) Start() {
	if m.show {
		supported, err := m.lines.SupportedControlLines()
		if err != nil {
			m.show = false
			m.status(fmt.Sprintf("get supported control lines failed: %v", err))
		} else {
			m.supported = supported
		}
	}

	if m.mode == serial.FlowControlNone {
		m.setPermitted(true)
	}

	m.cancel()
	if m.show || m.mode != serial.FlowControlNone {
		m.polling = true
		m.run(m.gen)
	}
}

// Stop cancels the pending refresh and permits sending again
func (m *Monitor) Stop() {
	m.cancel()
	m.setPermitted(true)
	if m.current != 0 {
		m.current = 0
		m.notifyLines()
	}
}

func (m *Monitor) cancel() {
	m.gen++
	m.polling = false
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Monitor) run(gen uint64) {
	if gen != m.gen {
		return
	}
	if m.lines.State() != relay.StateConnected {
		m.polling = false
		return
	}

	// One read serves both the indicators and line-based flow control
	var lines serial.ControlLine
	if m.show || m.mode.UsesControlLines() {
		var err error
		if lines, err = m.lines.ControlLines(); err != nil {
			m.fail(err)
			return
		}
	}

	if m.show && lines != m.current {
		m.current = lines
		m.notifyLines()
	}

	if m.mode != serial.FlowControlNone {
		permitted, err := m.sample(lines)
		if err != nil {
			m.fail(err)
			return
		}
		m.setPermitted(permitted)
	}

	m.stopTimer = m.sched.AfterFunc(m.interval, func() { m.run(gen) })
}

// sample derives send permission for the current mode. lines is the
// sample taken this tick when the mode uses control lines.
func (m *Monitor) sample(lines serial.ControlLine) (bool, error) {
	switch m.mode {
	case serial.FlowControlDTRDSR:
		return lines.Has(serial.DSR), nil
	case serial.FlowControlRTSCTS:
		return lines.Has(serial.CTS), nil
	case serial.FlowControlXONXOFF:
		return m.lines.XON()
	case serial.FlowControlXONXOFFInline:
		return m.filter != nil && m.filter.XON(), nil
	default:
		return true, nil
	}
}

// fail stops refreshing; the connection itself stays up
func (m *Monitor) fail(err error) {
	m.polling = false
	m.stopTimer = nil
	m.logger.Warn("control line refresh stopped", "error", err)
	m.status(fmt.Sprintf("get control lines failed: %v -> stopped control line refresh", err))
}

// SelectFlowControl switches to mode. When the driver does not support
// the mode, or refuses it, flow control falls back to none, the failure
// is reported as a status message and returned.
func (m *Monitor) SelectFlowControl(mode serial.FlowControl) error {
	err := m.applyFlowControl(mode)
	if err != nil {
		m.logger.Warn("set flow control failed", "mode", mode, "error", err)
		m.status(fmt.Sprintf("set flow control failed: %v", err))
		if mode != serial.FlowControlNone {
			if resetErr := m.lines.SetFlowControl(serial.FlowControlNone); resetErr != nil {
				m.logger.Debug("reset flow control failed", "error", resetErr)
			}
		}
		mode = serial.FlowControlNone
	}

	m.mode = mode
	m.filter = nil
	if mode == serial.FlowControlXONXOFFInline {
		m.filter = NewXonXoffFilter()
	}
	m.Start()
	return err
}

func (m *Monitor) applyFlowControl(mode serial.FlowControl) error {
	supported, err := m.lines.SupportedFlowControl()
	if err != nil {
		return err
	}
	if !supported.Has(mode) {
		return fmt.Errorf("%s: %w", mode.Description(), serial.ErrUnsupported)
	}
	return m.lines.SetFlowControl(mode)
}

// SetControlLine drives RTS or DTR on user request. Failures are reported
// and returned but never end the connection.
func (m *Monitor) SetControlLine(line serial.ControlLine, state bool) error {
	if m.lines.State() != relay.StateConnected {
		m.status("not connected")
		return serial.ErrNotConnected
	}
	if err := m.lines.SetControlLine(line, state); err != nil {
		m.logger.Warn("set control line failed", "line", line, "error", err)
		m.status(fmt.Sprintf("set %s failed: %v", line, err))
		return err
	}
	return nil
}

func (m *Monitor) setPermitted(p bool) {
	if m.permitted.Swap(p) != p && m.onPermit != nil {
		m.onPermit(p)
	}
}

func (m *Monitor) notifyLines() {
	if m.onLines != nil {
		m.onLines(m.supported, m.current)
	}
}

func (m *Monitor) status(msg string) {
	if m.onStatus != nil {
		m.onStatus(msg)
	}
}
