// Package relay decouples the producer of connection events (the read
// goroutine of a serial port) from the foreground consumer that displays
// them. Events are delivered in production order on a single delivery
// goroutine while a consumer is attached and buffered while none is.
package relay

import (
	"log/slog"
	"sync"
)

// item is a posted or buffered event. posted is true while a delivery
// task for it sits in the dispatcher; clearing it turns that task into a
// no-op.
type item struct {
	ev     Event
	posted bool
}

// Relay buffers events for a detachable consumer.
//
// One mutex guards the consumer, the buffer, the posted-but-undelivered
// list, the open data batch and the connection state, so attach and
// detach can never interleave with an event being recorded.
type Relay struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	consumer Consumer
	state    State
	inflight []*item // posted, not yet run, in posting order
	queue    []*item // undelivered while detached
	open     *item   // data batch still accepting chunks
	epoch    uint64  // bumped whenever undelivered events are discarded
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the logger used for dropped-event diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// New creates a detached relay in the Disconnected state.
func New(dispatcher Dispatcher, opts ...Option) *Relay {
	r := &Relay{
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatcher returns the delivery dispatcher
func (r *Relay) Dispatcher() Dispatcher {
	return r.dispatcher
}

// Produce records an event. It is safe to call from any goroutine and
// never blocks on the consumer. Events produced while Disconnected are
// dropped and Produce reports false.
func (r *Relay) Produce(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDisconnected {
		r.logger.Debug("dropping event while disconnected", "kind", ev.Kind)
		return false
	}

	switch ev.Kind {
	case KindConnected:
		r.state = StateConnected
	case KindConnectError, KindIoError:
		r.state = StateDisconnected
	}

	if ev.Kind == KindData && r.open != nil {
		r.open.ev.Chunks = append(r.open.ev.Chunks, ev.Chunks...)
		return true
	}

	it := &item{ev: ev}
	if ev.Kind == KindData {
		it.ev.Chunks = append([][]byte(nil), ev.Chunks...)
		r.open = it
	} else {
		r.open = nil
	}

	if r.consumer == nil {
		r.queue = append(r.queue, it)
		return true
	}

	// Posting under the lock keeps dispatcher order equal to inflight order
	it.posted = true
	r.inflight = append(r.inflight, it)
	r.dispatcher.Post(func() { r.run(it) })
	return true
}

// run delivers one posted event on the delivery goroutine
func (r *Relay) run(it *item) {
	r.mu.Lock()
	if !it.posted {
		r.mu.Unlock()
		return
	}
	it.posted = false
	r.removeInflight(it)
	if r.open == it {
		r.open = nil
	}
	c := r.consumer
	r.mu.Unlock()

	Deliver(c, it.ev)
}

func (r *Relay) removeInflight(it *item) {
	for i, x := range r.inflight {
		if x == it {
			r.inflight = append(r.inflight[:i], r.inflight[i+1:]...)
			return
		}
	}
}

// Attach installs c and delivers everything buffered while detached, in
// order, before any event produced afterwards. Must be called on the
// delivery goroutine.
func (r *Relay) Attach(c Consumer) {
	r.mu.Lock()
	r.consumer = c
	pending := r.queue
	r.queue = nil
	r.open = nil
	epoch := r.epoch
	r.mu.Unlock()

	for i, it := range pending {
		r.mu.Lock()
		if r.epoch != epoch {
			// Reset or re-armed from a callback: the rest belongs to a
			// connection that no longer exists.
			r.logger.Debug("discarding undelivered events", "count", len(pending)-i)
			r.mu.Unlock()
			return
		}
		if r.consumer != c {
			// Detached (or replaced) from a callback: keep the rest, ahead
			// of anything captured since.
			rest := make([]*item, 0, len(pending)-i+len(r.queue))
			rest = append(rest, pending[i:]...)
			r.queue = append(rest, r.queue...)
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		Deliver(c, it.ev)
	}
}

// Detach removes the consumer. Events posted but not yet delivered move
// to the front of the buffer, ahead of everything produced from now on.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumer == nil {
		return
	}
	captured := make([]*item, 0, len(r.inflight)+len(r.queue))
	for _, it := range r.inflight {
		it.posted = false
		captured = append(captured, it)
	}
	r.queue = append(captured, r.queue...)
	r.inflight = nil
	r.open = nil
	r.consumer = nil
}

// Attached reports whether a consumer is installed
func (r *Relay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumer != nil
}

// Arm discards stale events and enters Pending for a new connection attempt
func (r *Relay) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discard()
	r.state = StatePending
}

// Reset discards every undelivered event and enters Disconnected
func (r *Relay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discard()
	r.state = StateDisconnected
}

func (r *Relay) discard() {
	if n := len(r.queue) + len(r.inflight); n > 0 {
		r.logger.Debug("discarding undelivered events", "count", n)
	}
	for _, it := range r.inflight {
		it.posted = false
	}
	r.inflight = nil
	r.queue = nil
	r.open = nil
	r.epoch++
}

// State returns the connection state
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns the number of buffered events waiting for a consumer
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
