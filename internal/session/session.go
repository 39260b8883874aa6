// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"
	"time"
)

const (
	// Completed means the session's retrieval flow finished.
	Completed Outcome = iota + 1
	// Canceled means the flow ended without success, failed to start, or
	// the coordinator shut down.
	Canceled
)

type (
	// Outcome is a session's terminal state.
	Outcome int

	// Session is one requester's in-flight request. Data carries the
	// requester's parameters for the Activator.
	Session[T any] struct {
		Data T

		id        int
		submitted time.Time
		done      chan Outcome
		once      sync.Once
	}
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// New wraps data in a session ready for Coordinator.Submit.
func New[T any](data T) *Session[T] {
	return &Session[T]{Data: data, done: make(chan Outcome, 1)}
}

// ID is the id assigned by Submit, or 0 before submission.
func (s *Session[T]) ID() int { return s.id }

// Submitted is when the session was admitted.
func (s *Session[T]) Submitted() time.Time { return s.submitted }

// Done yields the outcome once and is then closed.
func (s *Session[T]) Done() <-chan Outcome { return s.done }

// Wait blocks until the session terminates or ctx ends.
func (s *Session[T]) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o, ok := <-s.done:
		if !ok {
			return Canceled, nil
		}
		return o, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Session[T]) deliver(o Outcome) {
	s.once.Do(func() {
		s.done <- o
		close(s.done)
	})
}
