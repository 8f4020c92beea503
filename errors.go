package serial

import (
	"errors"
	"fmt"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")

	// Session-level taxonomy
	ErrNotConnected   = errors.New("not connected")
	ErrConnectFailure = errors.New("connection failed")
	ErrIoFailure      = errors.New("connection lost")
	ErrUnsupported    = errors.New("operation not supported by driver")
)

// WriteTimeoutError reports a write that accepted only a prefix of the
// requested bytes before its timeout elapsed. Transferred may be zero.
type WriteTimeoutError struct {
	Transferred int
	Length      int
}

func (e *WriteTimeoutError) Error() string {
	return fmt.Sprintf("write timed out after %d of %d bytes", e.Transferred, e.Length)
}

// Is makes errors.Is(err, ErrWriteTimeout) match.
func (e *WriteTimeoutError) Is(target error) bool {
	return target == ErrWriteTimeout
}

// AsWriteTimeout extracts the accepted byte count from a partial write.
func AsWriteTimeout(err error) (int, bool) {
	var wte *WriteTimeoutError
	if errors.As(err, &wte) {
		return wte.Transferred, true
	}
	return 0, false
}
