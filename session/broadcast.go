package session

import "sync"

// Broadcast is a process-wide trigger. Every connected session subscribes
// while it holds a port; Fire forces all of them down.
type Broadcast struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

// DisconnectAll is the default trigger sessions subscribe to.
var DisconnectAll = NewBroadcast()

func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]func())}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcast) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Fire calls every subscriber on the calling goroutine
func (b *Broadcast) Fire() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of registered subscribers
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
