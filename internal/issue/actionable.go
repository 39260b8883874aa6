// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

type (
	// ActionableError is a user-facing failure. Besides the failed operation
	// it names the modules and catalog involved, hints at a fix, and may
	// point at the guide rendered below the message.
	//
	// Build one with the ErrorContext builder:
	//
	//	err := issue.ModulesNotFound("stable", "Core", "Gui").
	//		Wrap(cause).
	//		Build()
	ActionableError struct {
		// Operation is a verb phrase such as "sync catalogs".
		Operation string
		// Resource is the file or address involved (optional).
		Resource string
		// Modules are the modules the operation was about (optional).
		Modules []string
		// Source is the catalog source URL, or a comma separated list.
		Source string
		// Repository is the release channel of the catalog.
		Repository string
		// Issue selects the guide shown with the error. Zero means none.
		Issue Id
		// Suggestions are one-line hints printed below the message.
		Suggestions []string
		// Cause is the underlying error.
		Cause error
	}

	// ErrorContext incrementally collects the fields of an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext starts an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// ModulesNotFound starts a builder for modules that no catalog of
// repository provides.
func ModulesNotFound(repository string, modules ...string) *ErrorContext {
	return NewErrorContext().
		WithOperation("resolve").
		WithModules(modules...).
		WithRepository(repository).
		WithIssue(ModulesNotFoundId).
		WithSuggestion("Run 'modhost catalog list' to see what the sources offer")
}

// ChecksumMismatch starts a builder for installed modules of source whose
// files do not match the catalog.
func ChecksumMismatch(source string, modules ...string) *ErrorContext {
	return NewErrorContext().
		WithOperation("verify").
		WithModules(modules...).
		WithSource(source).
		WithIssue(ChecksumMismatchId).
		WithSuggestion("Run 'modhost sync' to download them again")
}

// SourceUnreachable starts a builder for sources that could not be synced.
func SourceUnreachable(sources ...string) *ErrorContext {
	return NewErrorContext().
		WithOperation("sync catalogs").
		WithSource(strings.Join(sources, ", ")).
		WithIssue(SourceUnreachableId).
		WithSuggestions(
			"Check the source URL and your network connection",
			"Pass --source to sync a single source",
		)
}

// WrapWithOperation wraps err with the operation that failed. It returns nil
// for a nil err.
func WrapWithOperation(err error, operation string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{Operation: operation, Cause: err}
}

// IdOf returns the guide for err: the Issue of the outermost ActionableError
// that sets one, else PermissionDeniedId for permission failures, else zero.
func IdOf(err error) Id {
	for e := err; e != nil; {
		var ae *ActionableError
		if !errors.As(e, &ae) {
			break
		}
		if ae.Issue != 0 {
			return ae.Issue
		}
		e = ae.Cause
	}
	if errors.Is(err, fs.ErrPermission) {
		return PermissionDeniedId
	}
	return 0
}

// Error returns the one-line form:
//
//	failed to <operation> <modules> in <source> [<repository>]: <resource>: <cause>
func (e *ActionableError) Error() string {
	var msg strings.Builder

	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if len(e.Modules) > 0 {
		msg.WriteString(" ")
		msg.WriteString(strings.Join(e.Modules, ", "))
	}
	if where := e.location(); where != "" {
		msg.WriteString(" in ")
		msg.WriteString(where)
	}
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

func (e *ActionableError) location() string {
	switch {
	case e.Source != "" && e.Repository != "":
		return fmt.Sprintf("%s [%s]", e.Source, e.Repository)
	case e.Source != "":
		return e.Source
	case e.Repository != "":
		return fmt.Sprintf("[%s]", e.Repository)
	default:
		return ""
	}
}

// Unwrap returns the cause for errors.Is and errors.As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format returns Error followed by the suggestions as a bullet list. In
// verbose mode the cause chain is listed too.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, s := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(s)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}
	return msg.String()
}

// WithOperation sets the verb phrase of the failed operation.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

// WithResource sets the file or address involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithModules appends to the modules the operation was about.
func (c *ErrorContext) WithModules(modules ...string) *ErrorContext {
	c.err.Modules = append(c.err.Modules, modules...)
	return c
}

// WithSource sets the catalog source.
func (c *ErrorContext) WithSource(source string) *ErrorContext {
	c.err.Source = source
	return c
}

// WithRepository sets the release channel.
func (c *ErrorContext) WithRepository(repo string) *ErrorContext {
	c.err.Repository = repo
	return c
}

// WithIssue selects the guide shown with the error.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.err.Issue = id
	return c
}

// WithSuggestion appends one hint.
func (c *ErrorContext) WithSuggestion(s string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, s)
	return c
}

// WithSuggestions appends several hints.
func (c *ErrorContext) WithSuggestions(s ...string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, s...)
	return c
}

// Wrap sets the underlying error.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the collected error, or nil when no operation was set.
// Slices are copied so the builder can be reused.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	out := c.err
	out.Modules = append([]string(nil), c.err.Modules...)
	out.Suggestions = append([]string(nil), c.err.Suggestions...)
	return &out
}
