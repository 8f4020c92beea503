// Package session owns one serial connection: it opens the driver off the
// caller's goroutine, turns driver callbacks into relay events and tears
// the connection down when it fails.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/relay"
	"go.uber.org/atomic"
)

var (
	ErrBackgroundDisconnect = errors.New("background disconnect")
	ErrBusy                 = errors.New("session is connecting or connected")
)

// DefaultWriteTimeout bounds a single driver write
const DefaultWriteTimeout = 200 * time.Millisecond

// Session is a single connection to a device through a Driver.
type Session struct {
	driver       serial.Driver
	relay        *relay.Relay
	trigger      *Broadcast
	writeTimeout time.Duration
	assertLines  bool
	logger       *slog.Logger

	mu   sync.Mutex
	link *link
}

// Option configures a Session
type Option func(*Session)

// WithTrigger sets the broadcast that forces the session down
func WithTrigger(b *Broadcast) Option {
	return func(s *Session) {
		s.trigger = b
	}
}

// WithWriteTimeout sets the per-write driver timeout
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = d
	}
}

// WithInitialControlLines controls whether DTR and RTS are asserted on
// connect and deasserted on disconnect
func WithInitialControlLines(assert bool) Option {
	return func(s *Session) {
		s.assertLines = assert
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a disconnected session producing into r
func New(driver serial.Driver, r *relay.Relay, opts ...Option) *Session {
	s := &Session{
		driver:       driver,
		relay:        r,
		trigger:      DisconnectAll,
		writeTimeout: DefaultWriteTimeout,
		assertLines:  true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Relay returns the relay the session produces into
func (s *Session) Relay() *relay.Relay {
	return s.relay
}

// Name returns the driver name
func (s *Session) Name() string {
	return s.driver.Name()
}

// State returns the connection state
func (s *Session) State() relay.State {
	return s.relay.State()
}

// Connect starts opening the device and returns immediately. The outcome
// arrives as a Connected or ConnectError event.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.relay.State() != relay.StateDisconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	// A connection whose fatal event is recorded but not yet torn down
	stale := s.link

	s.relay.Arm()
	l := &link{s: s}
	s.link = l
	s.mu.Unlock()

	if stale != nil {
		stale.teardown()
	}

	s.logger.Debug("connecting", "device", s.driver.Name())
	go l.open()
	return nil
}

// Disconnect discards undelivered events and releases the device. It is a
// no-op when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()

	s.relay.Reset()
	if l != nil {
		l.teardown()
		s.logger.Info("disconnected", "device", s.driver.Name())
	}
}

// teardownLink releases l if it is still the current connection's link
func (s *Session) teardownLink(l *link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
	l.teardown()
}

// Fail reports err as an I/O failure of the current connection
func (s *Session) Fail(err error) {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return
	}
	l.produce(relay.NewIoError(fmt.Errorf("%w: %w", serial.ErrIoFailure, err)))
}

func (s *Session) port() serial.Port {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Write sends data with the configured write timeout. A partial write
// returns *serial.WriteTimeoutError.
func (s *Session) Write(data []byte) error {
	p := s.port()
	if p == nil {
		return serial.ErrNotConnected
	}
	err := p.Write(data, s.writeTimeout)
	if errors.Is(err, serial.ErrPortClosed) {
		return serial.ErrNotConnected
	}
	return err
}

func (s *Session) ControlLines() (serial.ControlLine, error) {
	p := s.port()
	if p == nil {
		return 0, serial.ErrNotConnected
	}
	return p.ControlLines()
}

func (s *Session) SupportedControlLines() (serial.ControlLine, error) {
	p := s.port()
	if p == nil {
		return 0, serial.ErrNotConnected
	}
	return p.SupportedControlLines()
}

func (s *Session) SetControlLine(line serial.ControlLine, state bool) error {
	p := s.port()
	if p == nil {
		return serial.ErrNotConnected
	}
	return p.SetControlLine(line, state)
}

func (s *Session) SupportedFlowControl() (serial.FlowControlSet, error) {
	p := s.port()
	if p == nil {
		return 0, serial.ErrNotConnected
	}
	return p.SupportedFlowControl(), nil
}

func (s *Session) SetFlowControl(mode serial.FlowControl) error {
	p := s.port()
	if p == nil {
		return serial.ErrNotConnected
	}
	return p.SetFlowControl(mode)
}

func (s *Session) XON() (bool, error) {
	p := s.port()
	if p == nil {
		return false, serial.ErrNotConnected
	}
	return p.XON()
}

// SendBreak holds the line in break condition for d
func (s *Session) SendBreak(d time.Duration) error {
	p := s.port()
	if p == nil {
		return serial.ErrNotConnected
	}
	return p.Break(d)
}

// link is one connection attempt. Callbacks from a link that has been
// torn down are ignored, so a stale read goroutine or fatal event cannot
// touch a newer connection.
type link struct {
	s      *Session
	closed atomic.Bool

	mu          sync.Mutex
	port        serial.Port
	unsubscribe func()
}

func (l *link) open() {
	s := l.s

	port, err := s.driver.Open()
	if err != nil {
		s.logger.Warn("open failed", "device", s.driver.Name(), "error", err)
		l.produce(relay.NewConnectError(fmt.Errorf("%w: %w", serial.ErrConnectFailure, err)))
		return
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		port.Close()
		return
	}
	l.port = port
	l.mu.Unlock()

	if s.assertLines {
		for _, line := range []serial.ControlLine{serial.DTR, serial.RTS} {
			err := port.SetControlLine(line, true)
			if err == nil {
				continue
			}
			if errors.Is(err, serial.ErrUnsupported) {
				s.logger.Debug("control line not supported", "line", line, "error", err)
				continue
			}
			l.produce(relay.NewConnectError(fmt.Errorf("%w: %w", serial.ErrConnectFailure, err)))
			return
		}
	}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return
	}
	l.unsubscribe = s.trigger.Subscribe(l.backgroundDisconnect)
	l.mu.Unlock()

	port.Listen(l)
	s.logger.Info("connected", "device", s.driver.Name())
	l.produce(relay.NewConnected())
}

// produce records ev and schedules teardown after a fatal event
func (l *link) produce(ev relay.Event) {
	if l.closed.Load() {
		return
	}
	r := l.s.relay
	if r.Produce(ev) && ev.Fatal() {
		r.Dispatcher().Post(func() { l.s.teardownLink(l) })
	}
}

func (l *link) OnChunk(data []byte) {
	l.produce(relay.NewData(data))
}

func (l *link) OnError(err error) {
	l.s.logger.Warn("read failed", "device", l.s.driver.Name(), "error", err)
	l.produce(relay.NewIoError(fmt.Errorf("%w: %w", serial.ErrIoFailure, err)))
}

func (l *link) backgroundDisconnect() {
	l.s.logger.Info("background disconnect", "device", l.s.driver.Name())
	l.produce(relay.NewIoError(fmt.Errorf("%w: %w", serial.ErrIoFailure, ErrBackgroundDisconnect)))
	l.s.teardownLink(l)
}

func (l *link) teardown() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}

	l.mu.Lock()
	port := l.port
	unsubscribe := l.unsubscribe
	l.port = nil
	l.unsubscribe = nil
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if port == nil {
		return
	}

	logger := l.s.logger
	if l.s.assertLines {
		for _, line := range []serial.ControlLine{serial.DTR, serial.RTS} {
			if err := port.SetControlLine(line, false); err != nil {
				logger.Debug("deassert failed", "line", line, "error", err)
			}
		}
	}
	if err := port.Close(); err != nil {
		logger.Debug("close failed", "device", l.s.driver.Name(), "error", err)
	}
}
