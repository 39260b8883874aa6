// SPDX-License-Identifier: MPL-2.0

package events

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

const (
	SessionQueued    Kind = "session.queued"
	SessionActivated Kind = "session.activated"
	SessionCompleted Kind = "session.completed"
	SessionCanceled  Kind = "session.canceled"
	CatalogSynced    Kind = "catalog.synced"
	ModulesInstalled Kind = "modules.installed"
	UpdateAvailable  Kind = "update.available"
)

type (
	// Kind names an event type.
	Kind string

	// Event is one notification sent to subscribers.
	Event struct {
		Kind    Kind      `json:"kind"`
		Time    time.Time `json:"time"`
		Session int       `json:"session,omitempty"`
		Title   string    `json:"title,omitempty"`
		Source  string    `json:"source,omitempty"`
		Version string    `json:"version,omitempty"`
		Modules []string  `json:"modules,omitempty"`
		Message string    `json:"message,omitempty"`
	}

	// Publisher accepts events. *Hub implements it.
	Publisher interface {
		Publish(e Event)
	}

	// Hub delivers published events to every current subscriber.
	Hub struct {
		buffer int
		logger *log.Logger

		mu     sync.Mutex
		subs   map[*Subscription]struct{}
		closed bool
	}

	// Subscription is one subscriber's event queue.
	Subscription struct {
		hub     *Hub
		ch      chan Event
		dropped int
		once    sync.Once
	}

	// HubOption configures a Hub.
	HubOption func(*Hub)
)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates a hub with no subscribers.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer: DefaultBuffer,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "events"}),
		subs:   make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish stamps e if needed and queues it for every subscriber without
// blocking.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
			h.logger.Debug("subscriber queue full, dropping event", "kind", e.Kind)
		}
	}
}

// Subscribe registers a new subscriber. Close releases it. After the hub is
// closed the returned subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	clear(h.subs)
}

// C yields events until the subscription or hub is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events did not fit in the queue.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s)
	s.once.Do(func() { close(s.ch) })
}
