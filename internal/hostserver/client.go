// SPDX-License-Identifier: MPL-2.0

package hostserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/host"
)

type (
	// Client talks to a running Server.
	Client struct {
		baseURL string
		token   string
		client  *http.Client
	}

	// StatusError is a non-2xx answer.
	StatusError struct {
		StatusCode int
		Message    string
	}
)

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("host server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("host server returned %d: %s", e.StatusCode, e.Message)
}

// NewClientFromEnv creates a client from EnvAddr and EnvToken. It returns
// nil when either is unset.
func NewClientFromEnv() *Client {
	addr := os.Getenv(EnvAddr)
	token := os.Getenv(EnvToken)
	if addr == "" || token == "" {
		return nil
	}
	return NewClient(addr, token)
}

// NewClient creates a client for addr, which is a URL or a bare host:port.
// Loader requests can wait on retrievals, so there is no overall timeout;
// callers bound them with their context.
func NewClient(addr, token string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// IsAvailable reports whether the server answers its health check.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Load sends a loader request and waits for the answer.
func (c *Client) Load(ctx context.Context, req *host.LoaderRequest) (*host.LoaderResponse, error) {
	var resp host.LoaderResponse
	if err := c.do(ctx, http.MethodPost, PathLoader, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions returns the pending sessions, active first.
func (c *Client) Sessions(ctx context.Context) ([]host.SessionInfo, error) {
	var resp SessionsResponse
	if err := c.do(ctx, http.MethodGet, PathSessions, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Update queues a maintenance update and returns its session id. A busy
// server yields an error wrapping host.ErrBusy.
func (c *Client) Update(ctx context.Context) (int, error) {
	var resp UpdateResponse
	err := c.do(ctx, http.MethodPost, PathUpdate, nil, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return 0, fmt.Errorf("%w: %s", host.ErrBusy, se.Message)
	}
	if err != nil {
		return 0, err
	}
	return resp.Session, nil
}

// Events subscribes to the server's event stream.
func (c *Client) Events(ctx context.Context) (*events.Stream, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + PathEvents
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	return events.Dial(ctx, url, header)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body := io.Reader(http.NoBody)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach host server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
