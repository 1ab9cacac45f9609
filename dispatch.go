package serial

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorClosed is returned by Executor.Dispatch after Close.
var ErrExecutorClosed = errors.New("serial: executor closed")

// Dispatcher runs consumer callbacks on a designated execution context.
// Implementations must run functions one at a time, in submission order.
type Dispatcher interface {
	// Dispatch submits fn. It may block until the context accepts the work
	// and must give up with ctx.Err() once ctx is done.
	Dispatch(ctx context.Context, fn func()) error
}

// InlineDispatcher runs callbacks directly on the transport goroutine.
// A callback running inline must not call Monitor.Stop.
type InlineDispatcher struct{}

func (InlineDispatcher) Dispatch(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Executor is a single goroutine that runs dispatched callbacks serially.
// Hand-off is unbuffered: Dispatch returns once the goroutine has taken the
// function, so nothing is ever queued behind a slow callback.
type Executor struct {
	work      chan func()
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewExecutor starts the executor goroutine.
func NewExecutor() *Executor {
	e := &Executor{
		work:   make(chan func()),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.exited)
	for {
		select {
		case fn := <-e.work:
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *Executor) Dispatch(ctx context.Context, fn func()) error {
	select {
	case e.work <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	}
}

// Close stops the executor and waits for a running callback to return.
// It must not be called from a callback. Safe to call multiple times.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	<-e.exited
}
