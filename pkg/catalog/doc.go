// SPDX-License-Identifier: MPL-2.0

// Package catalog models the module catalogs served by a source: the
// libraries a manifest declares, which of them are present on local storage,
// and where their artifacts live.
//
// A Catalog holds two views of one source. Available is everything the
// latest manifest declares; Installed is the subset whose artifact and
// auxiliary files were found (and optionally hash-verified) on disk.
// Catalogs are treated as immutable once published so they can be shared
// between concurrent resolutions without locking.
//
// Manifests are CUE documents validated against an embedded schema; see
// ParseManifest and Manifest.Save.
package catalog
