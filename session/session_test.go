package session

import (
	"errors"
	"testing"
	"time"

	serial "github.com/allbin/serialterm"
	"github.com/allbin/serialterm/relay"
	"github.com/allbin/serialterm/serialtest"
	"github.com/stretchr/testify/require"
)

type consumer struct {
	events    chan relay.Event
	onIoError func(err error)
}

func newConsumer() *consumer {
	return &consumer{events: make(chan relay.Event, 64)}
}

func (c *consumer) OnConnected()             { c.events <- relay.NewConnected() }
func (c *consumer) OnConnectError(err error) { c.events <- relay.NewConnectError(err) }
func (c *consumer) OnDataReceived(chunks [][]byte) {
	c.events <- relay.Event{Kind: relay.KindData, Chunks: chunks}
}
func (c *consumer) OnIoError(err error) {
	c.events <- relay.NewIoError(err)
	if c.onIoError != nil {
		c.onIoError(err)
	}
}

func (c *consumer) next(t *testing.T) relay.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return relay.Event{}
	}
}

func (c *consumer) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

type fixture struct {
	loop    *relay.Loop
	relay   *relay.Relay
	driver  *serialtest.Driver
	trigger *Broadcast
	session *Session
	c       *consumer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		loop:    relay.NewLoop(),
		driver:  serialtest.NewDriver(),
		trigger: NewBroadcast(),
		c:       newConsumer(),
	}
	f.relay = relay.New(f.loop)
	opts = append([]Option{WithTrigger(f.trigger)}, opts...)
	f.session = New(f.driver, f.relay, opts...)
	f.loop.Do(func() { f.relay.Attach(f.c) })
	t.Cleanup(func() {
		f.session.Disconnect()
		f.loop.Close()
	})
	return f
}

func (f *fixture) connect(t *testing.T) *serialtest.Port {
	t.Helper()
	require.NoError(t, f.session.Connect())
	ev := f.c.next(t)
	require.Equal(t, relay.KindConnected, ev.Kind)
	port := f.driver.Last()
	require.NotNil(t, port)
	return port
}

// settle waits until every task posted so far has run
func (f *fixture) settle() {
	f.loop.Do(func() {})
}

func TestConnectAssertsControlLines(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	require.Equal(t, relay.StateConnected, f.session.State())
	require.True(t, port.Listening())
	require.True(t, port.Lines().Has(serial.DTR|serial.RTS))
	require.Equal(t, 1, f.trigger.Subscribers())
}

func TestConnectWithoutControlLines(t *testing.T) {
	f := newFixture(t, WithInitialControlLines(false))
	port := f.connect(t)

	require.False(t, port.Lines().Has(serial.DTR))
	require.False(t, port.Lines().Has(serial.RTS))
}

func TestConnectWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.ErrorIs(t, f.session.Connect(), ErrBusy)
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.SetOpenError(serial.ErrDeviceNotFound)

	require.NoError(t, f.session.Connect())
	ev := f.c.next(t)
	require.Equal(t, relay.KindConnectError, ev.Kind)
	require.ErrorIs(t, ev.Err, serial.ErrConnectFailure)
	require.ErrorIs(t, ev.Err, serial.ErrDeviceNotFound)
	require.Equal(t, relay.StateDisconnected, f.session.State())
}

func TestUnsupportedControlLinesIgnoredOnConnect(t *testing.T) {
	f := newFixture(t)
	f.driver.Setup = func(p *serialtest.Port) {
		p.SetSupportedLines(serial.CTS | serial.DSR)
	}

	f.connect(t)
	require.Equal(t, relay.StateConnected, f.session.State())
}

func TestControlLineFailureFailsConnect(t *testing.T) {
	f := newFixture(t)
	f.driver.Setup = func(p *serialtest.Port) {
		p.SetLineError(serial.DTR, errors.New("ioctl failed"))
	}

	require.NoError(t, f.session.Connect())
	ev := f.c.next(t)
	require.Equal(t, relay.KindConnectError, ev.Kind)
	require.ErrorIs(t, ev.Err, serial.ErrConnectFailure)

	f.settle()
	require.True(t, f.driver.Last().Closed())
}

func TestReceivedData(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	require.True(t, port.Emit([]byte("hello")))
	ev := f.c.next(t)
	require.Equal(t, relay.KindData, ev.Kind)
	require.Equal(t, [][]byte{[]byte("hello")}, ev.Chunks)
}

func TestReadErrorTearsDown(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	port.Fail(errors.New("device unplugged"))
	ev := f.c.next(t)
	require.Equal(t, relay.KindIoError, ev.Kind)
	require.ErrorIs(t, ev.Err, serial.ErrIoFailure)

	f.settle()
	require.True(t, port.Closed())
	require.Equal(t, 0, f.trigger.Subscribers())
	require.ErrorIs(t, f.session.Write([]byte("x")), serial.ErrNotConnected)

	// Callbacks from the dead connection are ignored
	port.Fail(errors.New("again"))
	f.settle()
	f.c.none(t)
}

func TestDoubleDisconnect(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	f.session.Disconnect()
	f.session.Disconnect()

	require.True(t, port.Closed())
	require.False(t, port.Lines().Has(serial.DTR))
	require.False(t, port.Lines().Has(serial.RTS))
	require.Equal(t, relay.StateDisconnected, f.session.State())
	require.Equal(t, 0, f.trigger.Subscribers())

	f.settle()
	f.c.none(t)
}

func TestBackgroundDisconnect(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	f.trigger.Fire()

	// Disconnected before the event is even delivered
	require.Equal(t, relay.StateDisconnected, f.session.State())
	require.True(t, port.Closed())

	ev := f.c.next(t)
	require.Equal(t, relay.KindIoError, ev.Kind)
	require.ErrorIs(t, ev.Err, ErrBackgroundDisconnect)
	require.Equal(t, "connection lost: background disconnect", ev.Err.Error())

	f.trigger.Fire()
	f.settle()
	f.c.none(t)
}

func TestFatalEventKeptForDetachedConsumer(t *testing.T) {
	f := newFixture(t)
	port := f.connect(t)

	f.loop.Do(f.relay.Detach)
	port.Fail(errors.New("gone"))
	f.settle()

	require.True(t, port.Closed())
	require.Equal(t, 1, f.relay.Pending())

	f.loop.Do(func() { f.relay.Attach(f.c) })
	ev := f.c.next(t)
	require.Equal(t, relay.KindIoError, ev.Kind)
}

func TestReconnectFromConsumer(t *testing.T) {
	f := newFixture(t)
	first := f.connect(t)

	f.c.onIoError = func(error) {
		if err := f.session.Connect(); err != nil {
			t.Errorf("reconnect failed: %v", err)
		}
	}
	first.Fail(errors.New("reset by peer"))

	require.Equal(t, relay.KindIoError, f.c.next(t).Kind)
	require.Equal(t, relay.KindConnected, f.c.next(t).Kind)
	f.settle()

	require.Equal(t, 2, f.driver.Opens())
	require.True(t, first.Closed())
	second := f.driver.Last()
	require.False(t, second.Closed())
	require.Equal(t, relay.StateConnected, f.session.State())
}

func TestWriteAndPassthroughs(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.session.Write([]byte("x")), serial.ErrNotConnected)
	_, err := f.session.ControlLines()
	require.ErrorIs(t, err, serial.ErrNotConnected)
	require.ErrorIs(t, f.session.SendBreak(time.Millisecond), serial.ErrNotConnected)

	port := f.connect(t)

	require.NoError(t, f.session.Write([]byte("abc")))
	require.Equal(t, []byte("abc"), port.Written())

	require.NoError(t, f.session.SetFlowControl(serial.FlowControlRTSCTS))
	require.Equal(t, serial.FlowControlRTSCTS, port.FlowControl())

	require.NoError(t, f.session.SendBreak(100*time.Millisecond))
	require.Equal(t, []time.Duration{100 * time.Millisecond}, port.Breaks())

	port.ScriptWrites(serialtest.WriteResult{Accept: 2})
	n, ok := serial.AsWriteTimeout(f.session.Write([]byte("wxyz")))
	require.True(t, ok)
	require.Equal(t, 2, n)
}

func TestBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcast()
	calls := 0
	unsubscribe := b.Subscribe(func() { calls++ })

	b.Fire()
	unsubscribe()
	unsubscribe()
	b.Fire()

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if b.Subscribers() != 0 {
		t.Errorf("Expected no subscribers, got %d", b.Subscribers())
	}
}
