package relay

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	onData func(chunks [][]byte)
	onConn func()
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnConnectError(err error) { r.add(NewConnectError(err)) }
func (r *recorder) OnIoError(err error)      { r.add(NewIoError(err)) }
func (r *recorder) OnConnected() {
	r.add(NewConnected())
	if r.onConn != nil {
		r.onConn()
	}
}
func (r *recorder) OnDataReceived(chunks [][]byte) {
	r.add(Event{Kind: KindData, Chunks: chunks})
	if r.onData != nil {
		r.onData(chunks)
	}
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, e := range r.events {
		if e.Kind != KindData {
			continue
		}
		var batch []string
		for _, c := range e.Chunks {
			batch = append(batch, string(c))
		}
		out = append(out, batch)
	}
	return out
}

// block stalls the loop until the returned function is called
func block(l *Loop) func() {
	gate := make(chan struct{})
	started := make(chan struct{})
	l.Post(func() {
		close(started)
		<-gate
	})
	<-started
	return func() { close(gate) }
}

func newRelay(t *testing.T) (*Relay, *Loop) {
	t.Helper()
	l := NewLoop()
	t.Cleanup(l.Close)
	return New(l), l
}

func TestProduceDroppedWhileDisconnected(t *testing.T) {
	r, _ := newRelay(t)

	if r.Produce(NewData([]byte("x"))) {
		t.Error("Expected Produce to report false while disconnected")
	}
	if r.Pending() != 0 {
		t.Errorf("Expected no pending events, got %d", r.Pending())
	}
}

func TestStateTransitions(t *testing.T) {
	r, _ := newRelay(t)

	steps := []struct {
		name  string
		do    func()
		state State
	}{
		{"arm", r.Arm, StatePending},
		{"connected", func() { r.Produce(NewConnected()) }, StateConnected},
		{"data", func() { r.Produce(NewData([]byte("a"))) }, StateConnected},
		{"io error", func() { r.Produce(NewIoError(errors.New("gone"))) }, StateDisconnected},
		{"rearm", r.Arm, StatePending},
		{"connect error", func() { r.Produce(NewConnectError(errors.New("no"))) }, StateDisconnected},
	}

	for _, step := range steps {
		step.do()
		if got := r.State(); got != step.state {
			t.Errorf("after %s: state = %v, want %v", step.name, got, step.state)
		}
	}
}

func TestAttachedDeliveryMergesConsecutiveData(t *testing.T) {
	r, l := newRelay(t)
	c := &recorder{}
	l.Do(func() { r.Attach(c) })
	r.Arm()

	release := block(l)
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("a")))
	r.Produce(NewData([]byte("b")))
	r.Produce(NewData([]byte("c")))
	r.Produce(NewIoError(errors.New("lost")))
	r.Produce(NewData([]byte("late")))
	release()
	l.Do(func() {})

	wantKinds := []Kind{KindConnected, KindData, KindIoError}
	if got := c.kinds(); !reflect.DeepEqual(got, wantKinds) {
		t.Fatalf("kinds = %v, want %v", got, wantKinds)
	}
	wantBatches := [][]string{{"a", "b", "c"}}
	if got := c.batches(); !reflect.DeepEqual(got, wantBatches) {
		t.Errorf("batches = %v, want %v", got, wantBatches)
	}
}

func TestDeliveredBatchIsClosed(t *testing.T) {
	r, l := newRelay(t)
	c := &recorder{}
	l.Do(func() { r.Attach(c) })
	r.Arm()
	r.Produce(NewConnected())

	r.Produce(NewData([]byte("a")))
	l.Do(func() {})
	r.Produce(NewData([]byte("b")))
	l.Do(func() {})

	want := [][]string{{"a"}, {"b"}}
	if got := c.batches(); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
}

func TestDetachedEventsCoalesce(t *testing.T) {
	r, l := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())

	for _, s := range []string{"a", "b", "c"} {
		r.Produce(NewData([]byte(s)))
	}

	if got := r.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2 (connected + one batch)", got)
	}

	c := &recorder{}
	l.Do(func() { r.Attach(c) })

	want := [][]string{{"a", "b", "c"}}
	if got := c.batches(); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
	if r.Pending() != 0 {
		t.Errorf("Expected buffer to be empty after attach, got %d", r.Pending())
	}
}

func TestDetachCapturesPostedEvents(t *testing.T) {
	r, l := newRelay(t)
	c := &recorder{}
	l.Do(func() { r.Attach(c) })
	r.Arm()

	// Connected and "x" are posted but the loop is stalled
	release := block(l)
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("x")))
	r.Detach()
	r.Produce(NewData([]byte("y")))
	r.Produce(NewData([]byte("z")))
	release()
	l.Do(func() {})

	if got := c.kinds(); len(got) != 0 {
		t.Fatalf("Expected nothing delivered while detached, got %v", got)
	}
	if got := r.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}

	l.Do(func() { r.Attach(c) })

	wantKinds := []Kind{KindConnected, KindData, KindData}
	if got := c.kinds(); !reflect.DeepEqual(got, wantKinds) {
		t.Fatalf("kinds = %v, want %v", got, wantKinds)
	}
	wantBatches := [][]string{{"x"}, {"y", "z"}}
	if got := c.batches(); !reflect.DeepEqual(got, wantBatches) {
		t.Errorf("batches = %v, want %v", got, wantBatches)
	}
}

func TestEventsDeliveredAtMostOnce(t *testing.T) {
	r, l := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("once")))

	c := &recorder{}
	l.Do(func() { r.Attach(c) })
	l.Do(func() {
		r.Detach()
		r.Attach(c)
	})
	l.Do(func() {})

	if got := len(c.kinds()); got != 2 {
		t.Errorf("Expected 2 deliveries, got %d", got)
	}
}

func TestDetachDuringDrainKeepsRemainder(t *testing.T) {
	r, l := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("first")))
	r.Produce(NewIoError(errors.New("lost")))

	c := &recorder{}
	c.onData = func([][]byte) { r.Detach() }
	l.Do(func() { r.Attach(c) })

	wantKinds := []Kind{KindConnected, KindData}
	if got := c.kinds(); !reflect.DeepEqual(got, wantKinds) {
		t.Fatalf("kinds = %v, want %v", got, wantKinds)
	}
	if got := r.Pending(); got != 1 {
		t.Fatalf("Pending() = %d, want 1", got)
	}

	c.onData = nil
	l.Do(func() { r.Attach(c) })

	wantKinds = append(wantKinds, KindIoError)
	if got := c.kinds(); !reflect.DeepEqual(got, wantKinds) {
		t.Errorf("kinds = %v, want %v", got, wantKinds)
	}
}

func TestResetDuringDrainDropsRemainder(t *testing.T) {
	r, l := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("stale")))
	r.Produce(NewIoError(errors.New("lost")))

	c := &recorder{}
	c.onConn = func() { r.Reset() }
	l.Do(func() { r.Attach(c) })
	l.Do(func() {})

	if got, want := c.kinds(), []Kind{KindConnected}; !reflect.DeepEqual(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	if r.State() != StateDisconnected {
		t.Errorf("Expected Disconnected, got %v", r.State())
	}
}

func TestReconnectDuringDrainDeliversOnlyNewEvents(t *testing.T) {
	r, l := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("stale")))

	c := &recorder{}
	c.onConn = func() {
		c.onConn = nil
		r.Arm()
		r.Produce(NewConnected())
		r.Produce(NewData([]byte("fresh")))
	}
	l.Do(func() { r.Attach(c) })
	l.Do(func() {})

	want := []Kind{KindConnected, KindConnected, KindData}
	if got := c.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if got := c.batches(); !reflect.DeepEqual(got, [][]string{{"fresh"}}) {
		t.Errorf("batches = %v, want [[fresh]]", got)
	}
}

func TestResetDiscardsUndelivered(t *testing.T) {
	r, l := newRelay(t)
	c := &recorder{}
	l.Do(func() { r.Attach(c) })
	r.Arm()

	release := block(l)
	r.Produce(NewConnected())
	r.Produce(NewData([]byte("stale")))
	r.Reset()
	release()
	l.Do(func() {})

	if got := c.kinds(); len(got) != 0 {
		t.Errorf("Expected no deliveries after reset, got %v", got)
	}
	if r.State() != StateDisconnected {
		t.Errorf("Expected Disconnected, got %v", r.State())
	}
}

func TestArmDiscardsQueuedEvents(t *testing.T) {
	r, _ := newRelay(t)
	r.Arm()
	r.Produce(NewConnected())
	r.Produce(NewIoError(errors.New("lost")))

	if r.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", r.Pending())
	}

	r.Arm()
	if r.Pending() != 0 {
		t.Errorf("Expected Arm to drop stale events, got %d", r.Pending())
	}
}
