// SPDX-License-Identifier: MPL-2.0

// Package store owns the published catalog of every source.
//
// Catalogs are swapped in whole: readers take a snapshot under a read lock
// and keep using it after the lock is released, while writers build the
// next generation off to the side and publish it with Swap. A reader
// therefore sees either the old generation or the new one, never a mix.
package store

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/pkg/catalog"
)

type (
	// Store holds the current catalog generation per source.
	Store struct {
		layout catalog.Layout
		verify bool
		logger *log.Logger

		mu       sync.RWMutex
		catalogs map[catalog.SourceID]*catalog.Catalog
	}

	// Option configures a Store.
	Option func(*Store)

	// VerifyFailure names a library that did not pass verification.
	VerifyFailure struct {
		Library catalog.Library
		Path    string
		Err     error
	}
)

// WithVerifyHashes makes installed detection compare content hashes rather
// than only checking that files exist.
func WithVerifyHashes(verify bool) Option {
	return func(s *Store) {
		s.verify = verify
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store rooted at layout.
func New(layout catalog.Layout, opts ...Option) *Store {
	s := &Store{
		layout:   layout,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "store"}),
		catalogs: make(map[catalog.SourceID]*catalog.Catalog),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the store's path layout.
func (s *Store) Layout() catalog.Layout { return s.layout }

// Catalog returns the published catalog of one source.
func (s *Store) Catalog(source catalog.SourceID) (*catalog.Catalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.catalogs[source]
	return c, ok
}

// Snapshot merges the published catalogs of sources, in priority order.
// Sources without a published catalog contribute nothing.
func (s *Store) Snapshot(sources ...catalog.SourceID) *catalog.Catalog {
	s.mu.RLock()
	parts := make([]*catalog.Catalog, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, s.catalogs[src])
	}
	s.mu.RUnlock()

	return catalog.Merge(parts...)
}

// Sources lists the sources with a published catalog.
func (s *Store) Sources() []catalog.SourceID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.catalogs))
}

// Swap publishes c as the current generation of source and returns the
// previous one. c must not be modified afterwards.
func (s *Store) Swap(source catalog.SourceID, c *catalog.Catalog) *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.catalogs[source]
	s.catalogs[source] = c
	return old
}

// LoadLocal reads the persisted manifest of source. A source that was never
// synced yields catalog.ErrManifestNotFound.
func (s *Store) LoadLocal(source catalog.SourceID) (*catalog.Manifest, error) {
	return catalog.LoadManifest(s.layout.ManifestPath(source))
}

// PersistLocal writes m as the local manifest of source.
func (s *Store) PersistLocal(source catalog.SourceID, m *catalog.Manifest) error {
	return m.Save(s.layout.ManifestPath(source))
}

// Build turns a manifest into a catalog generation, marking a library
// installed when all of its files are present (and verified, if enabled).
func (s *Store) Build(source catalog.SourceID, m *catalog.Manifest) *catalog.Catalog {
	return m.Catalog(source, func(lib catalog.Library) bool {
		return s.check(lib) == nil
	})
}

// Refresh rebuilds and publishes the catalog of source from its local
// manifest. A source that was never synced publishes an empty catalog. A
// manifest that fails to load is returned as an error and the previous
// generation stays published.
func (s *Store) Refresh(source catalog.SourceID) error {
	m, err := s.LoadLocal(source)
	switch {
	case errors.Is(err, catalog.ErrManifestNotFound):
		s.Swap(source, catalog.New())
		return nil
	case err != nil:
		return fmt.Errorf("failed to load catalog for source %d: %w", source, err)
	}

	c := s.Build(source, m)
	s.Swap(source, c)
	s.logger.Debug("catalog refreshed", "source", source, "version", c.Version,
		"installed", len(c.Installed), "available", len(c.Available))
	return nil
}

// Verify re-checks every library of the published catalog of source with
// hash verification, regardless of WithVerifyHashes.
func (s *Store) Verify(source catalog.SourceID) []VerifyFailure {
	c, ok := s.Catalog(source)
	if !ok {
		return nil
	}
	var failures []VerifyFailure
	for _, name := range c.Names() {
		lib, _, _ := c.Lookup(name)
		for _, f := range s.files(lib) {
			if err := verifyFile(f.path, f.hash, true); err != nil {
				failures = append(failures, VerifyFailure{Library: lib, Path: f.path, Err: err})
				break
			}
		}
	}
	return failures
}

// RemoveArtifact deletes one local file. A file that is already gone is
// not an error.
func (s *Store) RemoveArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type fileRef struct {
	path string
	hash catalog.ContentHash
}

func (s *Store) files(lib catalog.Library) []fileRef {
	out := make([]fileRef, 0, 1+len(lib.Aux))
	out = append(out, fileRef{path: s.layout.ArtifactPath(lib), hash: lib.Hash})
	for _, aux := range lib.Aux {
		out = append(out, fileRef{path: s.layout.AuxPath(lib, aux), hash: aux.Hash})
	}
	return out
}

func (s *Store) check(lib catalog.Library) error {
	for _, f := range s.files(lib) {
		if err := verifyFile(f.path, f.hash, s.verify); err != nil {
			return err
		}
	}
	return nil
}

func verifyFile(path string, hash catalog.ContentHash, withHash bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	if withHash {
		return catalog.VerifyFile(path, hash)
	}
	return nil
}
