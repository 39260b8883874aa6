// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a source does not have the requested object.
var ErrNotFound = errors.New("object not found")

type (
	// Backend opens objects relative to a source base.
	Backend interface {
		Open(ctx context.Context, source, key string) (io.ReadCloser, error)
	}

	// StatusError reports an unexpected HTTP status.
	StatusError struct {
		URL        string
		StatusCode int
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}
