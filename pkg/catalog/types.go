// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AuxKindJar marks auxiliary files that are exposed on the loader's jar path.
const AuxKindJar AuxKind = "jar"

const (
	// RepositoryStable is the default repository.
	RepositoryStable Repository = "stable"
	// RepositoryTesting carries release candidates.
	RepositoryTesting Repository = "testing"
	// RepositoryUnstable carries nightly builds.
	RepositoryUnstable Repository = "unstable"
)

var (
	// ErrInvalidModuleName is the sentinel wrapped by InvalidModuleNameError.
	ErrInvalidModuleName = errors.New("invalid module name")
	// ErrInvalidRepository is the sentinel wrapped by InvalidRepositoryError.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrInvalidContentHash is the sentinel wrapped by InvalidContentHashError.
	ErrInvalidContentHash = errors.New("invalid content hash")
	// ErrInvalidSourceID is returned for negative source ids.
	ErrInvalidSourceID = errors.New("invalid source id")
)

type (
	// ModuleName identifies a library within one catalog generation.
	ModuleName string

	// InvalidModuleNameError wraps ErrInvalidModuleName.
	InvalidModuleNameError struct {
		Value ModuleName
	}

	// SourceID is the registry-assigned id of a catalog source.
	SourceID int

	// Repository selects a release channel within a source.
	Repository string

	// InvalidRepositoryError wraps ErrInvalidRepository.
	InvalidRepositoryError struct {
		Value Repository
	}

	// ContentHash is a lowercase hex digest. SHA-1 (40 chars) and SHA-256
	// (64 chars) digests are accepted.
	ContentHash string

	// InvalidContentHashError wraps ErrInvalidContentHash.
	InvalidContentHashError struct {
		Value ContentHash
	}

	// AuxKind classifies auxiliary files.
	AuxKind string
)

// String returns the name as a plain string.
func (n ModuleName) String() string { return string(n) }

// Validate rejects empty names and names containing path separators or
// whitespace, since names end up in file-system keys.
func (n ModuleName) Validate() error {
	s := string(n)
	if strings.TrimSpace(s) == "" || strings.ContainsAny(s, "/\\ \t\n") {
		return &InvalidModuleNameError{Value: n}
	}
	return nil
}

func (e *InvalidModuleNameError) Error() string {
	return fmt.Sprintf("invalid module name %q: must be non-empty without separators or whitespace", e.Value)
}

// Unwrap returns ErrInvalidModuleName for errors.Is() compatibility.
func (e *InvalidModuleNameError) Unwrap() error { return ErrInvalidModuleName }

// String returns the decimal form of the id.
func (id SourceID) String() string { return strconv.Itoa(int(id)) }

// Validate rejects negative ids.
func (id SourceID) Validate() error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSourceID, int(id))
	}
	return nil
}

// Repositories lists every known repository, default first.
func Repositories() []Repository {
	return []Repository{RepositoryStable, RepositoryTesting, RepositoryUnstable}
}

// String returns the repository name.
func (r Repository) String() string { return string(r) }

// Validate returns an error unless r is one of Repositories().
func (r Repository) Validate() error {
	switch r {
	case RepositoryStable, RepositoryTesting, RepositoryUnstable:
		return nil
	default:
		return &InvalidRepositoryError{Value: r}
	}
}

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid repository %q (must be one of: stable, testing, unstable)", e.Value)
}

// Unwrap returns ErrInvalidRepository for errors.Is() compatibility.
func (e *InvalidRepositoryError) Unwrap() error { return ErrInvalidRepository }

// String returns the digest.
func (h ContentHash) String() string { return string(h) }

// Validate checks that h is a 40 or 64 character hex digest.
func (h ContentHash) Validate() error {
	if (len(h) != 40 && len(h) != 64) || !isHex(string(h)) {
		return &InvalidContentHashError{Value: h}
	}
	return nil
}

// Equal compares two digests case-insensitively.
func (h ContentHash) Equal(other ContentHash) bool {
	return strings.EqualFold(string(h), string(other))
}

func (e *InvalidContentHashError) Error() string {
	return fmt.Sprintf("invalid content hash %q: must be a 40 or 64 character hex digest", e.Value)
}

// Unwrap returns ErrInvalidContentHash for errors.Is() compatibility.
func (e *InvalidContentHashError) Unwrap() error { return ErrInvalidContentHash }

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return s != ""
}
