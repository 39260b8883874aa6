// SPDX-License-Identifier: MPL-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// ErrStreamClosed is returned by Stream.Next once the server closed the
// stream normally.
var ErrStreamClosed = errors.New("event stream closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The endpoint is bearer-token protected and bound to loopback.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Stream is a client connection to a hub's websocket endpoint.
type Stream struct {
	conn *websocket.Conn
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.Subscribe()
	defer sub.Close()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Subscribers send nothing; reading only services control frames and
	// notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hub closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Dial connects to an event endpoint. url uses the ws or wss scheme.
func Dial(ctx context.Context, url string, header http.Header) (*Stream, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to event stream: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next event.
func (s *Stream) Next() (Event, error) {
	var e Event
	if err := s.conn.ReadJSON(&e); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Event{}, ErrStreamClosed
		}
		return Event{}, err
	}
	return e, nil
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
