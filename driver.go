package serial

import "time"

// Driver opens a connection to one serial device. Implementations hold
// only the device address and configuration; the returned Port is the
// live handle.
type Driver interface {
	Open() (Port, error)
	Name() string
}

// Listener receives the asynchronous callbacks of a Port's read
// goroutine. Both methods are called from that goroutine and must not
// block.
type Listener interface {
	OnChunk(data []byte)
	OnError(err error)
}

// Port is an open transport handle.
type Port interface {
	// Listen starts the read goroutine. Chunks passed to OnChunk are
	// owned by the listener. After a read error OnError is called once
	// and the goroutine exits.
	Listen(l Listener)

	// Write blocks until all of data is accepted or timeout elapses. A
	// timeout with partial (or zero) progress returns *WriteTimeoutError;
	// any other error means the connection is unusable.
	Write(data []byte, timeout time.Duration) error

	ControlLines() (ControlLine, error)
	SupportedControlLines() (ControlLine, error)
	// SetControlLine returns ErrUnsupported for lines the driver cannot drive.
	SetControlLine(line ControlLine, state bool) error

	SupportedFlowControl() FlowControlSet
	SetFlowControl(mode FlowControl) error
	FlowControl() FlowControl
	// XON reports the driver-tracked XON state for FlowControlXONXOFF.
	XON() (bool, error)

	// Break holds the line in the break condition for d.
	Break(d time.Duration) error

	// Close stops the read goroutine and releases the device. Calling
	// Close on a closed port returns ErrPortClosed.
	Close() error
}

// NewDriver returns the unix termios driver for device
func NewDriver(device string, opts ...Option) (Driver, error) {
	config, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return &UnixDriver{Device: device, Config: config}, nil
}

// NewPortableDriver returns the go.bug.st/serial backed driver for device
func NewPortableDriver(device string, opts ...Option) (Driver, error) {
	config, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return &PortableDriver{Device: device, Config: config}, nil
}

func buildConfig(opts []Option) (Config, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return Config{}, err
		}
	}
	return config, nil
}
