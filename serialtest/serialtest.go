// Package serialtest provides an in-memory serial.Driver whose ports can be
// scripted from tests, plus a loopback device for demos.
package serialtest

import (
	"fmt"
	"sync"
	"time"

	serial "github.com/allbin/serialterm"
)

// WriteResult scripts the outcome of one Port.Write call. Accept is the
// number of bytes taken (negative means all of them). A nil Err with a
// short Accept yields *serial.WriteTimeoutError.
type WriteResult struct {
	Accept int
	Err    error
}

// Driver hands out fake ports. Setup, when set, runs on every new port
// before Open returns it.
type Driver struct {
	Setup func(p *Port)

	mu      sync.Mutex
	name    string
	openErr error
	ports   []*Port
}

var _ serial.Driver = (*Driver)(nil)

// NewDriver returns a driver whose ports support every control line and
// flow-control mode.
func NewDriver() *Driver {
	return &Driver{name: "fake"}
}

// Loopback returns a null-modem echo device: written bytes are received
// back, RTS drives CTS and DTR drives DSR and CD.
func Loopback() *Driver {
	return &Driver{
		name: "loop://",
		Setup: func(p *Port) {
			p.echo = true
			p.nullModem = true
		},
	}
}

func (d *Driver) Name() string {
	return d.name
}

// SetOpenError makes subsequent Open calls fail with err (nil clears it).
func (d *Driver) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

func (d *Driver) Open() (serial.Port, error) {
	d.mu.Lock()
	if d.openErr != nil {
		err := d.openErr
		d.mu.Unlock()
		return nil, err
	}
	p := &Port{
		supported: serial.AllControlLines,
		flowModes: serial.NewFlowControlSet(
			serial.FlowControlRTSCTS,
			serial.FlowControlDTRDSR,
			serial.FlowControlXONXOFF,
			serial.FlowControlXONXOFFInline,
		),
		xon:     true,
		lineErr: make(map[serial.ControlLine]error),
	}
	setup := d.Setup
	d.ports = append(d.ports, p)
	d.mu.Unlock()

	if setup != nil {
		setup(p)
	}
	return p, nil
}

// Opens returns the number of ports handed out so far
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ports)
}

// Last returns the most recently opened port, or nil
func (d *Driver) Last() *Port {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ports) == 0 {
		return nil
	}
	return d.ports[len(d.ports)-1]
}

// Port is a scriptable serial.Port
type Port struct {
	mu        sync.Mutex
	listener  serial.Listener
	closed    bool
	closes    int
	echo      bool
	nullModem bool

	lines     serial.ControlLine
	supported serial.ControlLine
	linesErr  error
	lineErr   map[serial.ControlLine]error
	lineReads int

	flowModes serial.FlowControlSet
	flow      serial.FlowControl
	xon       bool

	script   []WriteResult
	attempts int
	written  []byte
	breaks   []time.Duration
}

var _ serial.Port = (*Port)(nil)

func (p *Port) Listen(l serial.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.listener != nil {
		return
	}
	p.listener = l
}

// Listening reports whether Listen was called and the port is still open
func (p *Port) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener != nil && !p.closed
}

// Emit delivers chunk to the listener as if it had been read from the
// device. It reports false when nobody is listening.
func (p *Port) Emit(chunk []byte) bool {
	p.mu.Lock()
	l := p.listener
	closed := p.closed
	p.mu.Unlock()
	if l == nil || closed {
		return false
	}
	l.OnChunk(chunk)
	return true
}

// Fail reports err to the listener as a read failure
func (p *Port) Fail(err error) bool {
	p.mu.Lock()
	l := p.listener
	closed := p.closed
	p.mu.Unlock()
	if l == nil || closed {
		return false
	}
	l.OnError(err)
	return true
}

// ScriptWrites queues outcomes for the next Write calls. Once the script
// is exhausted writes succeed, unless RTS/CTS flow control is selected and
// CTS is low, in which case nothing is accepted.
func (p *Port) ScriptWrites(results ...WriteResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, results...)
}

func (p *Port) Write(data []byte, timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return serial.ErrPortClosed
	}
	p.attempts++

	accept := len(data)
	var err error
	switch {
	case len(p.script) > 0:
		r := p.script[0]
		p.script = p.script[1:]
		if r.Accept >= 0 && r.Accept < accept {
			accept = r.Accept
		}
		err = r.Err
	case p.flow == serial.FlowControlRTSCTS && !p.lines.Has(serial.CTS):
		accept = 0
	}
	if err == nil && accept < len(data) {
		err = &serial.WriteTimeoutError{Transferred: accept, Length: len(data)}
	}

	p.written = append(p.written, data[:accept]...)
	echo := p.echo && accept > 0
	l := p.listener
	p.mu.Unlock()

	if echo && l != nil {
		l.OnChunk(append([]byte(nil), data[:accept]...))
	}
	return err
}

// Written returns every byte accepted so far
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// Attempts returns the number of Write calls on an open port
func (p *Port) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// SetLines sets the sampled control-line state
func (p *Port) SetLines(lines serial.ControlLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = lines
}

// SetLinesError makes ControlLines fail with err (nil clears it)
func (p *Port) SetLinesError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linesErr = err
}

// SetSupportedLines restricts the lines the port reports and drives
func (p *Port) SetSupportedLines(lines serial.ControlLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supported = lines
}

// SetLineError makes SetControlLine(line, ...) fail with err
func (p *Port) SetLineError(line serial.ControlLine, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineErr[line] = err
}

// SetFlowModes replaces the advertised flow-control modes
func (p *Port) SetFlowModes(modes ...serial.FlowControl) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flowModes = serial.NewFlowControlSet(modes...)
}

// SetXON sets the driver-tracked XON state
func (p *Port) SetXON(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.xon = on
}

func (p *Port) ControlLines() (serial.ControlLine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineReads++
	if p.closed {
		return 0, serial.ErrPortClosed
	}
	if p.linesErr != nil {
		return 0, p.linesErr
	}
	return p.lines & p.supported, nil
}

// LineReads returns how many times ControlLines was called
func (p *Port) LineReads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineReads
}

func (p *Port) SupportedControlLines() (serial.ControlLine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, serial.ErrPortClosed
	}
	return p.supported, nil
}

func (p *Port) SetControlLine(line serial.ControlLine, state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return serial.ErrPortClosed
	}
	if err := p.lineErr[line]; err != nil {
		return err
	}
	if line&^serial.OutputLines != 0 || !p.supported.Has(line) {
		return fmt.Errorf("set %s: %w", line, serial.ErrUnsupported)
	}

	mirror := line
	if p.nullModem {
		switch line {
		case serial.RTS:
			mirror |= serial.CTS
		case serial.DTR:
			mirror |= serial.DSR | serial.CD
		}
	}
	if state {
		p.lines |= mirror
	} else {
		p.lines &^= mirror
	}
	return nil
}

func (p *Port) SupportedFlowControl() serial.FlowControlSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flowModes
}

func (p *Port) SetFlowControl(mode serial.FlowControl) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return serial.ErrPortClosed
	}
	if !p.flowModes.Has(mode) {
		return fmt.Errorf("flow control %s: %w", mode, serial.ErrUnsupported)
	}
	p.flow = mode
	return nil
}

func (p *Port) FlowControl() serial.FlowControl {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

func (p *Port) XON() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, serial.ErrPortClosed
	}
	if p.flow != serial.FlowControlXONXOFF {
		return false, fmt.Errorf("xon state: %w", serial.ErrUnsupported)
	}
	return p.xon, nil
}

func (p *Port) Break(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return serial.ErrPortClosed
	}
	p.breaks = append(p.breaks, d)
	return nil
}

// Breaks returns the durations of every break sent
func (p *Port) Breaks() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.breaks...)
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	if p.closed {
		return serial.ErrPortClosed
	}
	p.closed = true
	return nil
}

// Closed reports whether Close has been called
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Lines returns the raw line state, including output lines
func (p *Port) Lines() serial.ControlLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}
