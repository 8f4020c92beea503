// Package serial provides the transport layer of serialterm: drivers that
// open a serial device and hand back a Port delivering received bytes
// asynchronously to a Listener.
//
// Two drivers are available. NewDriver returns the termios driver, which
// talks to the tty through ioctls and supports kernel RTS/CTS flow
// control. NewPortableDriver returns a driver built on go.bug.st/serial.
//
// # Basic Usage
//
//	driver, err := serial.NewDriver("/dev/ttyUSB0",
//	    serial.WithBaudRate(115200),
//	    serial.WithParity(serial.ParityNone),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	port, err := driver.Open()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	port.Listen(listener) // OnChunk / OnError from the read goroutine
//	err = port.Write([]byte("AT\r\n"), 200*time.Millisecond)
//
// # Partial Writes
//
// Write is bounded by a timeout. When the device stops accepting bytes
// (for example because CTS is deasserted under RTS/CTS flow control) it
// returns a *WriteTimeoutError carrying the number of bytes that were
// accepted:
//
//	if n, ok := serial.AsWriteTimeout(err); ok {
//	    resend(data[n:])
//	}
//
// # Control Lines
//
// ControlLine is a bit set over RTS, CTS, DTR, DSR, CD and RI. Only RTS
// and DTR can be driven; drivers return ErrUnsupported for anything they
// cannot do:
//
//	lines, err := port.ControlLines()
//	fmt.Println(lines) // "RTS|CTS|DTR"
//	err = port.SetControlLine(serial.DTR, false)
//
// # Error Handling
//
// Use errors.Is() with the sentinel errors:
//
//	if errors.Is(err, serial.ErrDeviceNotFound) {
//	    // ...
//	}
//
// # Default Configuration
//
//   - BaudRate: 115200
//   - DataBits: 8
//   - StopBits: 1
//   - Parity: None
//   - FlowControl: None
//   - ReadTimeout: 100ms
package serial
