package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// call is one unit of work queued on an Executor.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all operations on an LState through one goroutine.
//
// gopher-lua's LState is not goroutine-safe. Every capability call, hook
// invocation and inter-plugin call is marshalled onto the goroutine started
// by Run.
type Executor struct {
	L      *lua.LState
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an Executor for L. queueSize bounds pending calls.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Executor{
		L:      L,
		queue:  make(chan *call, queueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Run processes queued calls until ctx is cancelled or Close is called.
func (e *Executor) Run(ctx context.Context) {
	defer close(e.exited)
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.run(c)
			close(c.result)
		}
	}
}

// run executes c.fn, turning a panic into an error.
func (e *Executor) run(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("lua panic: %w", v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return c.fn(e.L)
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute queues fn and waits for it to finish or for ctx to end. When ctx
// ends first, fn may still run; callers attach ctx to the LState so the
// script aborts too.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// Close stops the executor. Pending calls fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// Wait blocks until Run has returned or ctx ends.
func (e *Executor) Wait(ctx context.Context) error {
	select {
	case <-e.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
