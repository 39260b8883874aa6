// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single transfer when no HTTP client is supplied.
const DefaultTimeout = 5 * time.Minute

type (
	// HTTPBackend reads objects with GET requests.
	HTTPBackend struct {
		httpClient *http.Client
		userAgent  string
	}

	// HTTPOption configures an HTTPBackend.
	HTTPOption func(*HTTPBackend)
)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(b *HTTPBackend) {
		if ua != "" {
			b.userAgent = ua
		}
	}
}

// NewHTTPBackend creates an HTTPBackend with a DefaultTimeout client.
func NewHTTPBackend(opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "modhost/dev",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open issues GET <source><key>. The caller closes the returned body.
func (b *HTTPBackend) Open(ctx context.Context, source, key string) (io.ReadCloser, error) {
	target := source + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", redactURL(target), err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound, http.StatusGone:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, redactURL(target))
	default:
		_ = resp.Body.Close()
		return nil, &StatusError{URL: redactURL(target), StatusCode: resp.StatusCode}
	}
}

// redactURL drops credentials, query and fragment so URLs can be logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "?")
}
