// SPDX-License-Identifier: MPL-2.0

package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/fetch"
	"github.com/modhost/modhost/internal/metrics"
	"github.com/modhost/modhost/internal/store"
	"github.com/modhost/modhost/pkg/catalog"
)

type (
	// ManifestFetcher retrieves remote manifests. *fetch.Client implements it.
	ManifestFetcher interface {
		FetchManifest(ctx context.Context, t fetch.Target) (*catalog.Manifest, error)
		LatestVersion(ctx context.Context, t fetch.Target) (string, error)
	}

	// Source pairs a registered source id with its base URL.
	Source struct {
		ID  catalog.SourceID
		URL string
	}

	// Result describes one completed sync.
	Result struct {
		Source          Source
		PreviousVersion string
		Version         string
		Diff            DiffResult
	}

	// Update reports a source whose remote catalog is newer than the local one.
	Update struct {
		Source Source
		Local  string
		Remote string
	}

	// Syncer fetches, diffs, persists and publishes source catalogs.
	Syncer struct {
		store    *store.Store
		fetcher  ManifestFetcher
		platform string
		logger   *log.Logger

		mu    sync.Mutex
		locks map[catalog.SourceID]*sync.Mutex
	}

	// Option configures a Syncer.
	Option func(*Syncer)
)

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// NewSyncer creates a Syncer publishing into st.
func NewSyncer(st *store.Store, fetcher ManifestFetcher, platform string, opts ...Option) *Syncer {
	s := &Syncer{
		store:    st,
		fetcher:  fetcher,
		platform: platform,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "catalogsync"}),
		locks:    make(map[catalog.SourceID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Target returns the fetch target of src in the store's repository.
func (s *Syncer) Target(src Source) fetch.Target {
	return fetch.Target{Source: src.URL, Repository: s.store.Layout().Repository, Platform: s.platform}
}

func (s *Syncer) lock(id catalog.SourceID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Sync brings src to its latest remote generation. Syncs of the same source
// are serialized. When fetching fails nothing local is touched.
func (s *Syncer) Sync(ctx context.Context, src Source) (*Result, error) {
	unlock := s.lock(src.ID)
	defer unlock()

	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(src.ID.String()).Observe(time.Since(start).Seconds())
	}()

	next, err := s.fetcher.FetchManifest(ctx, s.Target(src))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest from %s: %w", src.URL, err)
	}

	prev := s.previous(src.ID)
	diff := Compare(src.ID, prev.Installed, next.Index(src.ID))

	// Stop advertising invalidated modules before their files go away.
	if invalid := diff.Invalidated(); len(invalid) > 0 {
		interim := prev.Clone()
		for _, name := range invalid {
			delete(interim.Installed, name)
		}
		s.store.Swap(src.ID, interim)
	}
	Cleanup(diff, prev.Installed, s.store.Layout(), s.store, s.logger)

	if err := s.store.PersistLocal(src.ID, next); err != nil {
		return nil, fmt.Errorf("failed to persist manifest for source %d: %w", src.ID, err)
	}
	s.store.Swap(src.ID, s.store.Build(src.ID, next))

	s.logger.Info("catalog synced", "source", src.URL, "version", next.Version,
		"changed", len(diff.Changed), "removed", len(diff.Removed))

	return &Result{
		Source:          src,
		PreviousVersion: prev.Version,
		Version:         next.Version,
		Diff:            diff,
	}, nil
}

// previous returns the generation src is moving away from: the published
// catalog if any, else one rebuilt from the local manifest. A local manifest
// that cannot be read is logged and treated as empty, since it is about to
// be replaced.
func (s *Syncer) previous(id catalog.SourceID) *catalog.Catalog {
	if c, ok := s.store.Catalog(id); ok {
		return c
	}
	m, err := s.store.LoadLocal(id)
	switch {
	case errors.Is(err, catalog.ErrManifestNotFound):
		return catalog.New()
	case err != nil:
		s.logger.Warn("ignoring unreadable local manifest", "source", id, "error", err)
		return catalog.New()
	}
	return s.store.Build(id, m)
}

// CheckForUpdates compares the local version of each source with the
// remote index. Sources that fail to answer are logged and skipped; the
// error is only returned when every source failed.
func (s *Syncer) CheckForUpdates(ctx context.Context, srcs []Source) ([]Update, error) {
	var (
		updates []Update
		errs    []error
	)
	for _, src := range srcs {
		remote, err := s.fetcher.LatestVersion(ctx, s.Target(src))
		if err != nil {
			s.logger.Warn("update check failed", "source", src.URL, "error", err)
			errs = append(errs, err)
			continue
		}
		local := s.localVersion(src.ID)
		if Newer(remote, local) {
			updates = append(updates, Update{Source: src, Local: local, Remote: remote})
		}
	}
	if len(srcs) > 0 && len(errs) == len(srcs) {
		return nil, errors.Join(errs...)
	}
	return updates, nil
}

func (s *Syncer) localVersion(id catalog.SourceID) string {
	if c, ok := s.store.Catalog(id); ok && c.Version != "" {
		return c.Version
	}
	if m, err := s.store.LoadLocal(id); err == nil {
		return m.Version
	}
	return ""
}

// Newer reports whether remote is a later catalog version than local. An
// empty local version is always older. Versions that are not semantic
// versions compare by inequality.
func Newer(remote, local string) bool {
	if local == "" {
		return remote != ""
	}
	rv, rerr := semver.NewVersion(remote)
	lv, lerr := semver.NewVersion(local)
	if rerr != nil || lerr != nil {
		return remote != local
	}
	return rv.GreaterThan(lv)
}
