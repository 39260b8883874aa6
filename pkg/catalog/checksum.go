// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"crypto/sha1" //nolint:gosec // legacy manifests publish SHA-1 digests
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ErrChecksumMismatch indicates a file's digest differs from its record.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumError wraps ErrChecksumMismatch with the offending values.
type ChecksumError struct {
	Filename string
	Expected ContentHash
	Got      ContentHash
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Filename, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// NewHasher returns the hash function matching the digest length of like.
func NewHasher(like ContentHash) hash.Hash {
	if len(like) == 40 {
		return sha1.New() //nolint:gosec // see import
	}
	return sha256.New()
}

// Sum formats h's current digest as a ContentHash.
func Sum(h hash.Hash) ContentHash {
	return ContentHash(hex.EncodeToString(h.Sum(nil)))
}

// ComputeFileHash streams the file at path through the hash algorithm that
// matches like.
func ComputeFileHash(path string, like ContentHash) (ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := NewHasher(like)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}
	return Sum(h), nil
}

// VerifyFile returns a *ChecksumError unless the file hashes to expected.
func VerifyFile(path string, expected ContentHash) error {
	got, err := ComputeFileHash(path, expected)
	if err != nil {
		return err
	}
	if !got.Equal(expected) {
		return &ChecksumError{
			Filename: path,
			Expected: ContentHash(strings.ToLower(string(expected))),
			Got:      got,
		}
	}
	return nil
}
