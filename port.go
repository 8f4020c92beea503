package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// UnixDriver opens tty devices through termios ioctls.
type UnixDriver struct {
	Device string
	Config Config
}

// Ensure the unix types implement the driver interfaces at compile time
var (
	_ Driver = (*UnixDriver)(nil)
	_ Port   = (*port)(nil)
)

func (d *UnixDriver) Name() string {
	return d.Device
}

// Open opens the device in raw nonblocking mode and applies the configured
// flow control.
func (d *UnixDriver) Open() (Port, error) {
	fd, err := unix.Open(d.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.Device, classifyOpenError(err))
	}

	if err := configurePort(fd, d.Config); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Self-pipe wakes the read goroutine on Close
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	p := &port{
		fd:     fd,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
		config: d.Config,
	}

	if d.Config.FlowControl != FlowControlNone {
		if err := p.SetFlowControl(d.Config.FlowControl); err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %v", ErrDeviceInUse, err)
	default:
		return err
	}
}

// port is the termios implementation of the Port interface
type port struct {
	mu       sync.RWMutex
	fd       int
	pipeR    int
	pipeW    int
	config   Config
	flow     FlowControl
	closed   bool
	loopDone chan struct{}
}

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// fromTIOCM converts TIOCMGET bits to a ControlLine set
func fromTIOCM(status int) ControlLine {
	var lines ControlLine
	if status&unix.TIOCM_RTS != 0 {
		lines |= RTS
	}
	if status&unix.TIOCM_CTS != 0 {
		lines |= CTS
	}
	if status&unix.TIOCM_DTR != 0 {
		lines |= DTR
	}
	if status&unix.TIOCM_DSR != 0 {
		lines |= DSR
	}
	if status&unix.TIOCM_CAR != 0 {
		lines |= CD
	}
	if status&unix.TIOCM_RI != 0 {
		lines |= RI
	}
	return lines
}

// toTIOCM converts a ControlLine set to TIOCM bits
func toTIOCM(lines ControlLine) int {
	var bits int
	if lines&RTS != 0 {
		bits |= unix.TIOCM_RTS
	}
	if lines&CTS != 0 {
		bits |= unix.TIOCM_CTS
	}
	if lines&DTR != 0 {
		bits |= unix.TIOCM_DTR
	}
	if lines&DSR != 0 {
		bits |= unix.TIOCM_DSR
	}
	if lines&CD != 0 {
		bits |= unix.TIOCM_CAR
	}
	if lines&RI != 0 {
		bits |= unix.TIOCM_RI
	}
	return bits
}

// ioctlError maps "this device has no modem lines" errnos to ErrUnsupported
func ioctlError(op string, err error) error {
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnsupported, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// configurePort puts the tty in raw mode with the configured framing
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0 // No input processing
	termios.Oflag = 0 // No output processing
	termios.Lflag = 0 // No line processing (raw mode)

	// Reads are driven by poll, so never block inside read(2)
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %v", err)
	}
	return nil
}

// Listen starts the read goroutine
func (p *port) Listen(l Listener) {
	p.mu.Lock()
	if p.closed || p.loopDone != nil {
		p.mu.Unlock()
		return
	}
	done := make(chan struct{})
	p.loopDone = done
	p.mu.Unlock()

	go p.readLoop(l, done)
}

func (p *port) readLoop(l Listener, done chan struct{}) {
	defer close(done)

	timeout := int(p.config.ReadTimeout / time.Millisecond)
	if timeout <= 0 {
		timeout = -1
	}
	buf := make([]byte, 4096)
	for {
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.OnError(fmt.Errorf("poll: %w", err))
			return
		}

		// Close requested
		if pfd[1].Revents != 0 {
			return
		}

		revents := pfd[0].Revents
		if revents&unix.POLLNVAL != 0 {
			l.OnError(ErrPortClosed)
			return
		}
		if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}

		n, err := unix.Read(p.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			l.OnError(fmt.Errorf("read: %w", err))
			return
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			l.OnChunk(data)
		} else if revents&unix.POLLHUP != 0 {
			l.OnError(errors.New("read: device hung up"))
			return
		}
	}
}

// Write writes data, waiting for the device to drain for at most timeout
func (p *port) Write(data []byte, timeout time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	deadline := time.Now().Add(timeout)
	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if n > 0 {
			written += n
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("write: %w", err)
		}
		if err == nil && n > 0 {
			continue
		}

		// Output buffer full (flow control or a slow line)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &WriteTimeoutError{Transferred: written, Length: len(data)}
		}
		pfd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
		if _, err := unix.Poll(pfd, int(remaining/time.Millisecond)+1); err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll: %w", err)
		}
	}
	return nil
}

// ControlLines returns current state of all modem control signals
func (p *port) ControlLines() (ControlLine, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	status, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return 0, ioctlError("get control lines", err)
	}
	return fromTIOCM(status), nil
}

// SupportedControlLines reports all lines when the device answers TIOCMGET
func (p *port) SupportedControlLines() (ControlLine, error) {
	_, err := p.ControlLines()
	switch {
	case err == nil:
		return AllControlLines, nil
	case errors.Is(err, ErrUnsupported):
		return 0, nil
	default:
		return 0, err
	}
}

// SetControlLine asserts or deasserts RTS or DTR
func (p *port) SetControlLine(line ControlLine, state bool) error {
	if line == 0 || line&^OutputLines != 0 {
		return fmt.Errorf("set %s: %w", line, ErrUnsupported)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	req := uint(unix.TIOCMBIC)
	if state {
		req = unix.TIOCMBIS
	}
	if err := unix.IoctlSetPointerInt(p.fd, req, toTIOCM(line)); err != nil {
		return ioctlError("set "+line.String(), err)
	}
	return nil
}

func (p *port) SupportedFlowControl() FlowControlSet {
	return NewFlowControlSet(FlowControlRTSCTS, FlowControlXONXOFFInline)
}

// SetFlowControl reprograms termios for mode. Inline XON/XOFF leaves the
// kernel out of it so the characters reach the reader.
func (p *port) SetFlowControl(mode FlowControl) error {
	if !p.SupportedFlowControl().Has(mode) {
		return fmt.Errorf("flow control %s: %w", mode, ErrUnsupported)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	termios, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}
	termios.Cflag &^= unix.CRTSCTS
	termios.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	if mode == FlowControlRTSCTS {
		termios.Cflag |= unix.CRTSCTS
	}
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %v", err)
	}

	// For RTS/CTS flow control, ensure RTS is asserted to signal readiness.
	// Non-fatal: some adapters do not allow manual RTS control.
	if mode == FlowControlRTSCTS {
		_ = unix.IoctlSetPointerInt(p.fd, unix.TIOCMBIS, unix.TIOCM_RTS)
	}

	p.flow = mode
	return nil
}

func (p *port) FlowControl() FlowControl {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flow
}

// XON is not observable through termios; the kernel consumes the characters.
func (p *port) XON() (bool, error) {
	return false, fmt.Errorf("xon state: %w", ErrUnsupported)
}

// Break holds TIOCSBRK for d, then clears it
func (p *port) Break(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	if err := unix.IoctlSetInt(p.fd, unix.TIOCSBRK, 0); err != nil {
		return ioctlError("break", err)
	}
	time.Sleep(d)
	if err := unix.IoctlSetInt(p.fd, unix.TIOCCBRK, 0); err != nil {
		return ioctlError("break", err)
	}
	return nil
}

// Close stops the read goroutine and closes the device. It must not be
// called from a Listener callback.
func (p *port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPortClosed
	}
	p.closed = true
	done := p.loopDone
	p.mu.Unlock()

	if done != nil {
		unix.Write(p.pipeW, []byte{1})
		<-done
	}

	unix.Close(p.pipeR)
	unix.Close(p.pipeW)
	return unix.Close(p.fd)
}
