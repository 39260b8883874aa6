// SPDX-License-Identifier: MPL-2.0

// Package fetch retrieves catalog manifests and module artifacts from
// sources.
//
// A source is a base URL ending in "/". http and https sources are read with
// plain GET requests; s3 sources (s3://bucket/prefix/) are read through an
// S3-compatible object store client. Objects are addressed relative to the
// source as
//
//	<repository>/<platform>/versions.cue
//	<repository>/<platform>/libs-<version>.cue
//	<repository>/<platform>/<file>
//
// Parsed manifests are kept in an LRU cache keyed by source, repository,
// platform and version until Invalidate is called for their source.
// Artifacts are streamed to a temporary file, hash-checked and renamed into
// place, so a partially written or corrupt artifact never appears at its
// final path.
package fetch
