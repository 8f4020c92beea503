package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bugst "go.bug.st/serial"
	"go.uber.org/atomic"
)

// portableChunk bounds how long a single blocking write can overrun the
// write deadline.
const portableChunk = 64

// PortableDriver opens devices through go.bug.st/serial. It has no access
// to the kernel output queue, so partial writes are detected between
// fixed-size chunks.
type PortableDriver struct {
	Device string
	Config Config
}

var (
	_ Driver = (*PortableDriver)(nil)
	_ Port   = (*portablePort)(nil)
)

func (d *PortableDriver) Name() string {
	return d.Device
}

func (d *PortableDriver) Open() (Port, error) {
	mode, err := bugstMode(d.Config)
	if err != nil {
		return nil, err
	}

	sp, err := bugst.Open(d.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.Device, portableError(err))
	}

	if err := sp.SetReadTimeout(d.Config.ReadTimeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", portableError(err))
	}

	p := &portablePort{sp: sp}
	if err := p.SetFlowControl(d.Config.FlowControl); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func bugstMode(config Config) (*bugst.Mode, error) {
	mode := &bugst.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		InitialStatusBits: &bugst.ModemOutputBits{
			RTS: false,
			DTR: false,
		},
	}

	switch config.Parity {
	case ParityNone:
		mode.Parity = bugst.NoParity
	case ParityOdd:
		mode.Parity = bugst.OddParity
	case ParityEven:
		mode.Parity = bugst.EvenParity
	case ParityMark:
		mode.Parity = bugst.MarkParity
	case ParitySpace:
		mode.Parity = bugst.SpaceParity
	default:
		return nil, ErrInvalidConfig
	}

	switch config.StopBits {
	case 1:
		mode.StopBits = bugst.OneStopBit
	case 2:
		mode.StopBits = bugst.TwoStopBits
	default:
		return nil, ErrInvalidConfig
	}
	return mode, nil
}

// portableError maps go.bug.st port errors onto the package sentinels
func portableError(err error) error {
	var pe *bugst.PortError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code() {
	case bugst.PortNotFound:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case bugst.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case bugst.PortBusy:
		return fmt.Errorf("%w: %v", ErrDeviceInUse, err)
	case bugst.InvalidSpeed:
		return ErrInvalidBaudRate
	case bugst.InvalidDataBits, bugst.InvalidParity, bugst.InvalidStopBits, bugst.InvalidTimeoutValue:
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	case bugst.PortClosed:
		return ErrPortClosed
	case bugst.FunctionNotImplemented:
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

type portablePort struct {
	sp     bugst.Port
	closed atomic.Bool

	// go.bug.st cannot read back output lines
	mu      sync.Mutex
	outputs ControlLine
	flow    FlowControl

	writeMu  sync.Mutex
	loopDone chan struct{}
}

func (p *portablePort) Listen(l Listener) {
	p.mu.Lock()
	if p.closed.Load() || p.loopDone != nil {
		p.mu.Unlock()
		return
	}
	done := make(chan struct{})
	p.loopDone = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := p.sp.Read(buf)
			if p.closed.Load() {
				return
			}
			if err != nil {
				l.OnError(fmt.Errorf("read: %w", portableError(err)))
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				l.OnChunk(data)
			}
		}
	}()
}

func (p *portablePort) Write(data []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed.Load() {
		return ErrPortClosed
	}

	deadline := time.Now().Add(timeout)
	written := 0
	for written < len(data) {
		if written > 0 && time.Now().After(deadline) {
			return &WriteTimeoutError{Transferred: written, Length: len(data)}
		}
		end := written + portableChunk
		if end > len(data) {
			end = len(data)
		}
		n, err := p.sp.Write(data[written:end])
		written += n
		if err != nil {
			return fmt.Errorf("write: %w", portableError(err))
		}
	}
	return nil
}

func (p *portablePort) ControlLines() (ControlLine, error) {
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	bits, err := p.sp.GetModemStatusBits()
	if err != nil {
		return 0, fmt.Errorf("get control lines: %w", portableError(err))
	}

	p.mu.Lock()
	lines := p.outputs
	p.mu.Unlock()

	if bits.CTS {
		lines |= CTS
	}
	if bits.DSR {
		lines |= DSR
	}
	if bits.DCD {
		lines |= CD
	}
	if bits.RI {
		lines |= RI
	}
	return lines, nil
}

func (p *portablePort) SupportedControlLines() (ControlLine, error) {
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	return AllControlLines, nil
}

func (p *portablePort) SetControlLine(line ControlLine, state bool) error {
	if p.closed.Load() {
		return ErrPortClosed
	}

	var err error
	switch line {
	case RTS:
		err = p.sp.SetRTS(state)
	case DTR:
		err = p.sp.SetDTR(state)
	default:
		return fmt.Errorf("set %s: %w", line, ErrUnsupported)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", line, portableError(err))
	}

	p.mu.Lock()
	if state {
		p.outputs |= line
	} else {
		p.outputs &^= line
	}
	p.mu.Unlock()
	return nil
}

func (p *portablePort) SupportedFlowControl() FlowControlSet {
	return NewFlowControlSet(FlowControlXONXOFFInline)
}

// SetFlowControl only records the mode; go.bug.st leaves IXON off, so
// inline XON/XOFF characters already reach the reader.
func (p *portablePort) SetFlowControl(mode FlowControl) error {
	if !p.SupportedFlowControl().Has(mode) {
		return fmt.Errorf("flow control %s: %w", mode, ErrUnsupported)
	}
	p.mu.Lock()
	p.flow = mode
	p.mu.Unlock()
	return nil
}

func (p *portablePort) FlowControl() FlowControl {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

func (p *portablePort) XON() (bool, error) {
	return false, fmt.Errorf("xon state: %w", ErrUnsupported)
}

func (p *portablePort) Break(d time.Duration) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	if err := p.sp.Break(d); err != nil {
		return fmt.Errorf("break: %w", portableError(err))
	}
	return nil
}

// Close must not be called from a Listener callback.
func (p *portablePort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPortClosed
	}

	err := p.sp.Close()

	p.mu.Lock()
	done := p.loopDone
	p.mu.Unlock()
	if done != nil {
		<-done
	}
	return portableError(err)
}
