// SPDX-License-Identifier: MPL-2.0

// Package catalogsync moves a source from one catalog generation to the
// next.
//
// Diff compares the installed view of a source with a new manifest and
// deletes the local files of modules that were removed or changed. Syncer
// wraps it: it fetches the latest manifest, runs the diff, persists the
// manifest and publishes the rebuilt catalog in one swap, so resolutions
// running concurrently keep seeing the previous generation until the new
// one is complete.
package catalogsync
