// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts wall-clock reads so update scheduling and
// session timestamps can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock is the time source of the host.
	Clock interface {
		Now() time.Time
		// After fires once the clock has moved d past the current time.
		After(d time.Duration) <-chan time.Time
		Since(t time.Time) time.Duration
	}

	// Real reads the system clock.
	Real struct{}

	// Fake only moves when Advance or Set is called. It is safe for
	// concurrent use.
	Fake struct {
		mu      sync.Mutex
		now     time.Time
		pending []timer
	}

	timer struct {
		at time.Time
		ch chan time.Time
	}
)

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Since(t time.Time) time.Duration        { return time.Since(t) }

// NewFake returns a Fake set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, timer{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires due timers.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fire()
}

// Set moves the clock to t and fires due timers.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.fire()
}

// fire must be called with mu held.
func (c *Fake) fire() {
	kept := c.pending[:0]
	for _, t := range c.pending {
		if c.now.Before(t.at) {
			kept = append(kept, t)
			continue
		}
		t.ch <- c.now
	}
	c.pending = kept
}
