// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

type (
	// Base tracks the lifecycle of one server instance. Concrete servers
	// embed it and call the transition methods from Start and Stop.
	Base struct {
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
		ready   chan struct{}
		errCh   chan error
		errOnce sync.Once
	}

	// Option configures a Base.
	Option func(*Base)
)

// WithErrorBuffer sets the capacity of the Err channel. The default is 1.
func WithErrorBuffer(n int) Option {
	return func(b *Base) { b.errCh = make(chan error, n) }
}

// NewBase returns a Base in StateCreated.
func NewBase(opts ...Option) *Base {
	b := &Base{
		ready: make(chan struct{}),
		errCh: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state without locking.
func (b *Base) State() State { return State(b.state.Load()) }

// IsRunning reports whether the server is serving.
func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err delivers asynchronous serve failures.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError is the error that moved the server to StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Context is canceled when the server starts stopping or fails. It is nil
// before Begin.
func (b *Base) Context() context.Context { return b.ctx }

// Begin moves Created to Starting. It fails if ctx is already done or the
// server was started before.
func (b *Base) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("context canceled before start: %w", err)
		b.Fail(err)
		return err
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// MarkRunning moves Starting to Running and releases WaitReady callers.
func (b *Base) MarkRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.ready)
	}
}

// Fail records err, cancels the server context and moves to StateFailed.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	b.Report(err)
}

// Report sends err on the Err channel, dropping it when the buffer is full.
func (b *Base) Report(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

// BeginStop moves a started server to Stopping and reports whether the
// caller owns the shutdown. A server that never started goes straight to
// Stopped.
func (b *Base) BeginStop() bool {
	for {
		cur := b.State()
		switch cur {
		case StateCreated:
			if b.state.CompareAndSwap(int32(cur), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				b.cancel()
				return true
			}
		default:
			return false
		}
	}
}

// MarkStopped moves to StateStopped and closes the Err channel. Call it once
// every goroutine started with Go has returned.
func (b *Base) MarkStopped() {
	b.state.Store(int32(StateStopped))
	b.errOnce.Do(func() { close(b.errCh) })
}

// WaitReady blocks until MarkRunning or ctx is done.
func (b *Base) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for server: %w", ctx.Err())
	}
}

// Go runs fn in a tracked goroutine with the server context.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Wait blocks until every goroutine started with Go has returned.
func (b *Base) Wait() { b.wg.Wait() }
