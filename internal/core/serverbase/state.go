// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"errors"
	"fmt"
)

const (
	// StateCreated is the state of a server that was never started.
	StateCreated State = iota
	// StateStarting is set while the listener is being prepared.
	StateStarting
	// StateRunning means requests are being served.
	StateRunning
	// StateStopping is set while a graceful shutdown drains connections.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal and carries the error from LastError.
	StateFailed
)

// ErrInvalidState is the sentinel wrapped by InvalidStateError.
var ErrInvalidState = errors.New("invalid server state")

type (
	// State is a server lifecycle state.
	State int32

	// InvalidStateError reports a State outside the defined range.
	InvalidStateError struct {
		Value State
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Validate rejects values outside the defined states.
func (s State) Validate() error {
	if s < StateCreated || s > StateFailed {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid server state %d", int32(e.Value))
}

// Unwrap returns ErrInvalidState for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
