package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopStopped is returned for work posted after Stop.
var ErrLoopStopped = errors.New("loop stopped")

const loopBuffer = 64

// Loop runs posted functions one at a time on a single goroutine. Everything that
// touches a state.Store goes through it.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
}

// NewLoop returns a loop that is not running yet.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), loopBuffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until Stop. Tasks still queued at Stop are discarded.
func (l *Loop) Run() {
	defer close(l.done)

	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Post queues fn without waiting for it. It blocks while the queue is full and
// reports false once the loop is stopped. Posting from inside a task can deadlock
// when the queue is full; tasks should call helpers directly instead.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called from a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Stop ends Run. It does not wait; use Done for that.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
