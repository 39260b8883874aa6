// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxFileSize bounds any CUE document read from disk or the network (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	parseOptions struct {
		maxFileSize int64
		concrete    bool
		filename    string
	}

	// Option configures ParseAndDecode.
	Option func(*parseOptions)
)

func defaultOptions() parseOptions {
	return parseOptions{
		maxFileSize: DefaultMaxFileSize,
		concrete:    true,
	}
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(size int64) Option {
	return func(o *parseOptions) {
		o.maxFileSize = size
	}
}

// WithConcrete controls whether every field must be concrete after
// unification. Configuration files pass false so unset optional fields are
// accepted.
func WithConcrete(concrete bool) Option {
	return func(o *parseOptions) {
		o.concrete = concrete
	}
}

// WithFilename names the document in error messages.
func WithFilename(name string) Option {
	return func(o *parseOptions) {
		o.filename = name
	}
}
