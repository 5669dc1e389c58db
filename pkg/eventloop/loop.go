// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Everything that touches controller state is posted here: user actions,
// network completions and timer ticks. Blocking work happens on other
// goroutines which post their result back with Post.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/killallgit/atelier/pkg/logger"
)

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("event loop stopped")

// Loop is an unbounded FIFO of callbacks drained by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	log     *logger.Logger
}

// New creates a loop. Call Run (usually in its own goroutine) to start it.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger.WithComponent("event_loop"),
	}
}

// Start runs the loop on a new goroutine and returns it.
func Start(ctx context.Context) *Loop {
	l := New()
	go l.Run(ctx)
	return l
}

// Run drains callbacks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.invoke(fn)
		}

		select {
		case <-l.wake:
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.stopped {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Loop callback panicked: %v", r)
		}
	}()
	fn()
}

// Post enqueues fn. It never blocks and reports false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be used
// from inside a loop callback.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Stop stops the loop; queued callbacks are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a cancellable callback scheduled on the loop.
type Timer struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// AfterFunc runs fn on the loop after d. A timer stopped before its callback
// runs on the loop never runs it, even if the underlying timer already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return t
}

// Stop cancels the timer. Safe to call more than once.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.timer.Stop()
}
