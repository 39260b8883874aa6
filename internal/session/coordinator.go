// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/metrics"
)

var (
	// ErrUnknownSession is returned by CompleteActive for an id that is not
	// pending.
	ErrUnknownSession = errors.New("unknown session")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("coordinator closed")
)

const (
	// Idle means no session is active.
	Idle State = iota
	// Active means one session is driving a retrieval.
	Active
)

type (
	// State is the coordinator's queue state.
	State int

	// Activator starts the retrieval flow of the active session. It must
	// not block for the duration of the retrieval: the flow runs elsewhere
	// and reports back through Coordinator.CompleteActive. promoted is true
	// when the session waited behind another one and should re-check its
	// resolution first. A returned error cancels the session.
	Activator[T any] interface {
		Activate(ctx context.Context, s *Session[T], promoted bool) error
	}

	// ActivatorFunc adapts a function to Activator.
	ActivatorFunc[T any] func(ctx context.Context, s *Session[T], promoted bool) error

	// Info describes one pending session.
	Info[T any] struct {
		ID        int
		Active    bool
		Submitted time.Time
		Data      T
	}

	// Coordinator admits sessions and runs at most one retrieval at a time.
	Coordinator[T any] struct {
		activator Activator[T]
		logger    *log.Logger
		now       func() time.Time

		ctx    context.Context
		cancel context.CancelFunc

		// mu guards everything below. It is never held while calling the
		// activator.
		mu      sync.Mutex
		nextID  int
		pending map[int]*Session[T]
		order   []int
		active  int
		closed  bool
	}

	// Option configures a Coordinator.
	Option func(*options)

	options struct {
		logger *log.Logger
		now    func() time.Time
	}
)

// Activate calls f.
func (f ActivatorFunc[T]) Activate(ctx context.Context, s *Session[T], promoted bool) error {
	return f(ctx, s, promoted)
}

// String returns the lowercase state name.
func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNow replaces the clock used for submission times.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewCoordinator creates an idle coordinator. Close releases it.
func NewCoordinator[T any](activator Activator[T], opts ...Option) *Coordinator[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "session"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		activator: activator,
		logger:    o.logger,
		now:       o.now,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[int]*Session[T]),
	}
}

// Submit admits s and returns its id. If no session is active, s becomes
// active and is activated before Submit returns; otherwise it waits in
// submission order.
func (c *Coordinator[T]) Submit(s *Session[T]) (int, error) {
	id, activate, err := c.admit(s, false)
	if err != nil {
		return 0, err
	}
	if activate {
		c.run(s, false)
	}
	return id, nil
}

// SubmitIfIdle admits s only when no session is active or queued. The
// boolean reports whether s was admitted.
func (c *Coordinator[T]) SubmitIfIdle(s *Session[T]) (int, bool, error) {
	id, activate, err := c.admit(s, true)
	if err != nil || !activate {
		return 0, false, err
	}
	c.run(s, false)
	return id, true, nil
}

func (c *Coordinator[T]) admit(s *Session[T], onlyIfIdle bool) (id int, activate bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, false, ErrClosed
	}
	if onlyIfIdle && len(c.pending) > 0 {
		return 0, false, nil
	}

	c.nextID++
	s.id = c.nextID
	s.submitted = c.now()
	c.pending[s.id] = s
	c.order = append(c.order, s.id)

	if c.active == 0 {
		c.active = s.id
		activate = true
	}
	c.observe()
	return s.id, activate, nil
}

// CompleteActive delivers outcome to the session id and removes it. When id
// is the active session the next queued session, if any, is promoted and
// activated; when the queue empties the coordinator returns to Idle and
// restarts ids from 1. Completing a queued session only removes it.
func (c *Coordinator[T]) CompleteActive(id int, outcome Outcome) error {
	next, err := c.complete(id, outcome)
	if err != nil {
		return err
	}
	if next != nil {
		c.run(next, true)
	}
	return nil
}

func (c *Coordinator[T]) complete(id int, outcome Outcome) (*Session[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.pending[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	delete(c.pending, id)
	c.order = slices.DeleteFunc(c.order, func(v int) bool { return v == id })
	s.deliver(outcome)
	metrics.SessionOutcomesTotal.WithLabelValues(outcome.String()).Inc()

	var next *Session[T]
	if id == c.active {
		c.active = 0
		if len(c.order) > 0 {
			c.active = c.order[0]
			next = c.pending[c.active]
		}
	}
	if len(c.order) == 0 {
		c.nextID = 0
	}
	c.observe()
	return next, nil
}

// run activates s, cancelling it and moving on to the next queued session
// for as long as activations fail.
func (c *Coordinator[T]) run(s *Session[T], promoted bool) {
	for s != nil {
		err := c.activator.Activate(c.ctx, s, promoted)
		if err == nil {
			return
		}
		c.logger.Warn("session activation failed", "session", s.id, "error", err)

		next, cerr := c.complete(s.id, Canceled)
		if cerr != nil {
			// The activator already completed the session itself.
			return
		}
		s, promoted = next, true
	}
}

// State reports whether a session is active.
func (c *Coordinator[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != 0 {
		return Active
	}
	return Idle
}

// ActiveID returns the active session id, or 0 when idle.
func (c *Coordinator[T]) ActiveID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot lists pending sessions in submission order, active first.
func (c *Coordinator[T]) Snapshot() []Info[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Info[T], 0, len(c.order))
	for _, id := range c.order {
		s := c.pending[id]
		out = append(out, Info[T]{ID: id, Active: id == c.active, Submitted: s.submitted, Data: s.Data})
	}
	return out
}

// Close cancels the activation context and every pending session. Later
// submissions fail with ErrClosed.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	drained := make([]*Session[T], 0, len(c.order))
	for _, id := range c.order {
		drained = append(drained, c.pending[id])
	}
	c.pending = make(map[int]*Session[T])
	c.order = nil
	c.active = 0
	c.nextID = 0
	c.observe()
	c.mu.Unlock()

	c.cancel()
	for _, s := range drained {
		s.deliver(Canceled)
		metrics.SessionOutcomesTotal.WithLabelValues(Canceled.String()).Inc()
	}
}

func (c *Coordinator[T]) observe() {
	waiting := len(c.order)
	if c.active != 0 {
		metrics.SessionsActive.Set(1)
		waiting--
	} else {
		metrics.SessionsActive.Set(0)
	}
	metrics.SessionsPending.Set(float64(waiting))
}
