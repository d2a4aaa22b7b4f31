package service

import (
	"context"
	"sync"
)

// Loop runs posted functions on whichever goroutine drains it, in post
// order. It stands in for the caller's UI thread: async continuations and
// surface updates are posted here.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
}

// NewLoop returns an open, empty loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn. It never blocks and returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain runs everything posted so far, including functions posted by the
// functions it runs, and returns how many ran.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Run drains the loop until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()

		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.Drain()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting posts. Already posted functions still run on the
// next Drain.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}
