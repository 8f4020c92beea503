// Package sender writes user payloads through a session, resuming after
// partial writes until every byte has been accepted.
package sender

import (
	"errors"
	"log/slog"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/relay"
)

// Target is the session surface the controller writes through.
type Target interface {
	State() relay.State
	Write(data []byte) error
	Fail(err error)
}

// Indicator is the send state shown to the user
type Indicator int

const (
	Idle Indicator = iota
	Busy
	Blocked
)

func (i Indicator) String() string {
	switch i {
	case Busy:
		return "busy"
	case Blocked:
		return "blocked"
	default:
		return "idle"
	}
}

// Controller runs on the delivery goroutine; Send and every handler are
// called there.
type Controller struct {
	target     Target
	dispatcher relay.Dispatcher
	permit     func() bool
	logger     *slog.Logger

	onIndicator func(Indicator)
	onComplete  func(n int)

	inflight  bool
	backlog   [][]byte
	indicator Indicator
}

// Option configures a Controller
type Option func(*Controller)

// WithIndicatorHandler is called whenever the indicator changes
func WithIndicatorHandler(fn func(Indicator)) Option {
	return func(c *Controller) {
		c.onIndicator = fn
	}
}

// WithCompletionHandler is called with the payload size once a payload
// has been fully accepted
func WithCompletionHandler(fn func(n int)) Option {
	return func(c *Controller) {
		c.onComplete = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller. permit reports the current send permission
// (typically Monitor.SendPermitted); nil means always permitted.
func New(target Target, dispatcher relay.Dispatcher, permit func() bool, opts ...Option) *Controller {
	if permit == nil {
		permit = func() bool { return true }
	}
	c := &Controller{
		target:     target,
		dispatcher: dispatcher,
		permit:     permit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Indicator returns the current send indicator
func (c *Controller) Indicator() Indicator {
	return c.indicator
}

// InFlight reports whether a payload is still being written
func (c *Controller) InFlight() bool {
	return c.inflight
}

// Queued returns the number of payloads waiting behind the one in flight
func (c *Controller) Queued() int {
	return len(c.backlog)
}

// Send writes data. Permission only affects the indicator; the write is
// attempted either way. Payloads sent while another is being resumed are
// written after it, in order.
func (c *Controller) Send(data []byte) error {
	if c.target.State() != relay.StateConnected {
		return serial.ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}

	buf := append([]byte(nil), data...)
	if c.inflight {
		c.backlog = append(c.backlog, buf)
		return nil
	}
	c.inflight = true
	c.write(buf, len(buf))
	return nil
}

// Refresh re-derives the idle indicator from the current permission
func (c *Controller) Refresh() {
	if !c.inflight {
		c.setIndicator(c.idle())
	}
}

func (c *Controller) write(buf []byte, total int) {
	err := c.target.Write(buf)
	if err == nil {
		c.finish(total)
		return
	}

	if n, ok := serial.AsWriteTimeout(err); ok {
		if n < 0 || n > len(buf) {
			c.logger.Warn("driver misreported write progress", "transferred", n, "length", len(buf))
			n = max(0, min(n, len(buf)))
		}
		// Zero progress resumes the whole remainder
		rest := buf[n:]
		if len(rest) == 0 {
			c.finish(total)
			return
		}
		if c.permit() {
			c.setIndicator(Busy)
		} else {
			c.setIndicator(Blocked)
		}
		c.dispatcher.Post(func() { c.resume(rest, total) })
		return
	}

	if errors.Is(err, serial.ErrNotConnected) {
		c.logger.Debug("write dropped", "reason", err, "discarded", len(buf))
		c.drop()
		return
	}

	c.logger.Warn("write failed", "error", err, "discarded", len(buf))
	c.drop()
	c.target.Fail(err)
}

func (c *Controller) resume(rest []byte, total int) {
	if c.target.State() != relay.StateConnected {
		c.logger.Debug("resume dropped, not connected", "discarded", len(rest))
		c.drop()
		return
	}
	c.write(rest, total)
}

func (c *Controller) finish(total int) {
	if c.onComplete != nil {
		c.onComplete(total)
	}
	if len(c.backlog) > 0 {
		next := c.backlog[0]
		c.backlog[0] = nil
		c.backlog = c.backlog[1:]
		c.dispatcher.Post(func() { c.resume(next, len(next)) })
		return
	}
	c.inflight = false
	c.setIndicator(c.idle())
}

func (c *Controller) drop() {
	c.inflight = false
	c.backlog = nil
	c.setIndicator(Idle)
}

func (c *Controller) idle() Indicator {
	if c.permit() {
		return Idle
	}
	return Blocked
}

func (c *Controller) setIndicator(i Indicator) {
	if c.indicator == i {
		return
	}
	c.indicator = i
	if c.onIndicator != nil {
		c.onIndicator(i)
	}
}
