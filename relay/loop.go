package relay

import (
	"sync"
	"time"
)

// Loop is a Dispatcher backed by one goroutine and an unbounded FIFO.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	exec   func(task func())
}

// LoopOption configures a Loop
type LoopOption func(*Loop)

// WithExecutor hands each task to exec instead of running it on the loop
// goroutine. exec is called in posting order and may block; it is how the
// delivery goroutine becomes another event loop (a bubbletea program).
func WithExecutor(exec func(task func())) LoopOption {
	return func(l *Loop) {
		l.exec = exec
	}
}

// NewLoop starts a loop
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Post queues task. Tasks posted after Close are dropped.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.tasks) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		if l.exec != nil {
			l.exec(task)
		} else {
			task()
		}
	}
}

// Do posts task and waits for it to finish. It deadlocks when called
// from the delivery goroutine itself.
func (l *Loop) Do(task func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
	case <-l.done:
	}
}

// AfterFunc posts task once d has elapsed. The returned function cancels
// the timer and reports whether it stopped it before firing.
func (l *Loop) AfterFunc(d time.Duration, task func()) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(task) })
	return t.Stop
}

// Close drops queued tasks and stops the loop goroutine. It does not wait.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
