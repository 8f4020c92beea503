package serial

import "time"

// Config holds the configuration for a serial port
type Config struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      Parity
	FlowControl FlowControl
	ReadTimeout time.Duration // how long the read goroutine waits before rechecking for shutdown
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	case ParityMark:
		return "M"
	case ParitySpace:
		return "S"
	default:
		return "N"
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      ParityNone,
		FlowControl: FlowControlNone,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity < ParityNone || parity > ParitySpace {
			return ErrInvalidConfig
		}
		c.Parity = parity
		return nil
	}
}

// WithFlowControl sets the flow control mode applied when the port opens.
// Drivers that do not support the mode fail Open with ErrUnsupported.
func WithFlowControl(fc FlowControl) Option {
	return func(c *Config) error {
		if fc < FlowControlNone || fc > FlowControlXONXOFFInline {
			return ErrInvalidConfig
		}
		c.FlowControl = fc
		return nil
	}
}

// WithReadTimeout sets the poll interval of the read goroutine. Must be a
// positive multiple of 10ms and no longer than 25.5s.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 || timeout > 25500*time.Millisecond || timeout%(10*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// ParseParity converts a single-letter or word parity name.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "n", "N", "none":
		return ParityNone, nil
	case "o", "O", "odd":
		return ParityOdd, nil
	case "e", "E", "even":
		return ParityEven, nil
	case "m", "M", "mark":
		return ParityMark, nil
	case "s", "S", "space":
		return ParitySpace, nil
	default:
		return ParityNone, ErrInvalidConfig
	}
}
