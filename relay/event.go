package relay

import "fmt"

// Kind identifies the type of an Event
type Kind int

const (
	KindConnected Kind = iota
	KindConnectError
	KindData
	KindIoError
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindConnectError:
		return "connect-error"
	case KindData:
		return "data"
	case KindIoError:
		return "io-error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one notification from the connection to its consumer. Only
// data events carry Chunks; a delivered data event may hold several
// chunks merged while it waited.
type Event struct {
	Kind   Kind
	Chunks [][]byte
	Err    error
}

func NewConnected() Event {
	return Event{Kind: KindConnected}
}

func NewConnectError(err error) Event {
	return Event{Kind: KindConnectError, Err: err}
}

func NewData(chunk []byte) Event {
	return Event{Kind: KindData, Chunks: [][]byte{chunk}}
}

func NewIoError(err error) Event {
	return Event{Kind: KindIoError, Err: err}
}

// Fatal reports whether the event ends the connection
func (e Event) Fatal() bool {
	return e.Kind == KindConnectError || e.Kind == KindIoError
}

// Size returns the number of payload bytes in a data event
func (e Event) Size() int {
	n := 0
	for _, c := range e.Chunks {
		n += len(c)
	}
	return n
}

// Consumer receives events on the delivery goroutine.
type Consumer interface {
	OnConnected()
	OnConnectError(err error)
	OnDataReceived(chunks [][]byte)
	OnIoError(err error)
}

// Deliver calls the Consumer method matching the event kind.
func Deliver(c Consumer, e Event) {
	switch e.Kind {
	case KindConnected:
		c.OnConnected()
	case KindConnectError:
		c.OnConnectError(e.Err)
	case KindData:
		c.OnDataReceived(e.Chunks)
	case KindIoError:
		c.OnIoError(e.Err)
	}
}

// State is the connection state as seen by the relay
type State int

const (
	StateDisconnected State = iota
	StatePending
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher runs tasks one at a time, in posting order, on a single
// delivery goroutine. Post must not block and must not run the task
// inline.
type Dispatcher interface {
	Post(task func())
}
