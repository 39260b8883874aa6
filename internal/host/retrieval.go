// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/modhost/modhost/internal/catalogsync"
	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/fetch"
	"github.com/modhost/modhost/internal/session"
	"github.com/modhost/modhost/pkg/catalog"
)

// maxCheckInterval bounds how long Run sleeps between due checks, so a
// changed check frequency or a wall clock jump is noticed.
const maxCheckInterval = time.Hour

// ErrBusy is returned by Update when another session is active or queued.
var ErrBusy = errors.New("a session is already in progress")

// Activate starts the retrieval of s in the background and returns. The
// goroutine completes the session on the coordinator when it ends.
func (h *Host) Activate(ctx context.Context, s *session.Session[*Job], promoted bool) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	h.events.Publish(events.Event{Kind: events.SessionActivated, Session: s.ID(), Title: s.Data.Title})

	go func() {
		defer h.wg.Done()

		outcome := h.run(ctx, s.Data, promoted)

		kind := events.SessionCompleted
		if outcome == session.Canceled {
			kind = events.SessionCanceled
		}
		h.events.Publish(events.Event{Kind: kind, Session: s.ID(), Title: s.Data.Title})

		if err := h.coord.CompleteActive(s.ID(), outcome); err != nil {
			h.logger.Debug("session already gone", "session", s.ID(), "error", err)
		}
	}()
	return nil
}

func (h *Host) run(ctx context.Context, job *Job, promoted bool) session.Outcome {
	ch, err := h.channel(job.Repository)
	if err != nil {
		h.logger.Error("retrieval failed", "error", err)
		return session.Canceled
	}

	switch job.Kind {
	case JobUpdate:
		results, err := h.update(ctx, ch, job.Sources)
		job.Results = results
		if err != nil {
			h.logger.Warn("update failed", "error", err)
			return session.Canceled
		}
		return session.Completed
	default:
		return h.retrieve(ctx, ch, job, promoted)
	}
}

// retrieve syncs the job's sources, downloads every module the request is
// still missing and publishes the refreshed catalogs.
func (h *Host) retrieve(ctx context.Context, ch *channel, job *Job, promoted bool) session.Outcome {
	if promoted {
		// The session ahead of this one may already have installed
		// everything.
		res, _, err := ch.resolve(job.Sources, job.Modules)
		if err == nil && res.Satisfied {
			return session.Completed
		}
	}

	synced := h.syncAll(ctx, ch, job.Sources)
	defer h.invalidate(job.Sources)
	if len(synced) == 0 {
		return session.Canceled
	}

	res, _, err := ch.resolve(job.Sources, job.Modules)
	if err != nil {
		h.logger.Error("failed to plan retrieval", "title", job.Title, "error", err)
		return session.Canceled
	}
	if len(res.Missing) == 0 {
		// Nothing more can be fetched; the requester re-resolves and
		// reports whatever is still unknown.
		return session.Completed
	}

	libs := make([]catalog.Library, 0, len(res.Missing))
	for _, name := range res.MissingNames() {
		libs = append(libs, res.Missing[name])
	}
	if err := h.download(ctx, ch, job.Sources, libs); err != nil {
		h.logger.Warn("retrieval failed", "title", job.Title, "error", err)
		return session.Canceled
	}
	return session.Completed
}

// update syncs srcs and downloads the new generation of every module that
// was installed and changed. It returns an error only when no source could
// be synced or a download failed.
func (h *Host) update(ctx context.Context, ch *channel, srcs []catalogsync.Source) ([]*catalogsync.Result, error) {
	defer h.invalidate(srcs)

	results := h.syncAll(ctx, ch, srcs)
	if len(results) == 0 && len(srcs) > 0 {
		return nil, fmt.Errorf("none of %d sources could be synced", len(srcs))
	}

	var libs []catalog.Library
	for _, r := range results {
		for _, key := range slices.Sorted(maps.Keys(r.Diff.Changed)) {
			libs = append(libs, r.Diff.Changed[key])
		}
	}
	if err := h.download(ctx, ch, srcs, libs); err != nil {
		return results, err
	}
	if err := h.registry.SetLastCheck(h.clock.Now()); err != nil {
		h.logger.Warn("failed to record update check", "error", err)
	}
	return results, nil
}

func (h *Host) syncAll(ctx context.Context, ch *channel, srcs []catalogsync.Source) []*catalogsync.Result {
	results := make([]*catalogsync.Result, 0, len(srcs))
	for _, src := range srcs {
		res, err := ch.syncer.Sync(ctx, src)
		if err != nil {
			h.logger.Warn("sync failed", "source", src.URL, "error", err)
			continue
		}
		results = append(results, res)
		h.events.Publish(events.Event{Kind: events.CatalogSynced, Source: src.URL, Version: res.Version})
	}
	return results
}

// download fetches libs, each from the source it belongs to, then
// republishes the catalogs of those sources. Catalogs are refreshed even
// after a failure so completed downloads become visible.
func (h *Host) download(ctx context.Context, ch *channel, srcs []catalogsync.Source, libs []catalog.Library) error {
	if len(libs) == 0 {
		return nil
	}

	byID := make(map[catalog.SourceID]catalogsync.Source, len(srcs))
	for _, s := range srcs {
		byID[s.ID] = s
	}
	jobs := make([]fetch.Job, 0, len(libs))
	touched := make(map[catalog.SourceID]bool)
	for _, lib := range libs {
		src, ok := byID[lib.SourceID]
		if !ok {
			continue
		}
		jobs = append(jobs, fetch.Job{Target: ch.syncer.Target(src), Library: lib})
		touched[lib.SourceID] = true
	}

	err := h.fetcher.Download(ctx, ch.store.Layout(), jobs)

	for id := range touched {
		if rerr := ch.store.Refresh(id); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	if err != nil {
		return err
	}

	mods := make([]string, 0, len(jobs))
	for _, j := range jobs {
		mods = append(mods, string(j.Library.Name))
	}
	h.events.Publish(events.Event{Kind: events.ModulesInstalled, Modules: mods})
	return nil
}

func (h *Host) invalidate(srcs []catalogsync.Source) {
	for _, s := range srcs {
		h.fetcher.Invalidate(s.URL)
	}
}

// Update queues a maintenance session that syncs the configured sources,
// but only when no other session is active or queued. It returns the
// session to wait on, or ErrBusy.
func (h *Host) Update() (*session.Session[*Job], error) {
	srcs, err := h.Sources(nil)
	if err != nil {
		return nil, err
	}
	s := session.New(&Job{Kind: JobUpdate, Title: "update", Repository: h.repository, Sources: srcs})
	id, ok, err := h.coord.SubmitIfIdle(s)
	if err != nil {
		return nil, ErrClosed
	}
	if !ok {
		return nil, ErrBusy
	}
	h.events.Publish(events.Event{Kind: events.SessionQueued, Session: id, Title: s.Data.Title})
	return s, nil
}

// Sync runs an update of urls, or of the configured sources, in the
// calling goroutine, bypassing the coordinator. It is meant for one-shot
// CLI use without a running server.
func (h *Host) Sync(ctx context.Context, urls []string) ([]*catalogsync.Result, error) {
	srcs, err := h.Sources(urls)
	if err != nil {
		return nil, err
	}
	ch, err := h.channel(h.repository)
	if err != nil {
		return nil, err
	}
	if err := ch.ensureLoaded(srcs); err != nil {
		return nil, err
	}
	return h.update(ctx, ch, srcs)
}

// CheckForUpdates reports configured sources with a newer remote catalog.
func (h *Host) CheckForUpdates(ctx context.Context) ([]catalogsync.Update, error) {
	srcs, err := h.Sources(nil)
	if err != nil {
		return nil, err
	}
	ch, err := h.channel(h.repository)
	if err != nil {
		return nil, err
	}
	if err := ch.ensureLoaded(srcs); err != nil {
		return nil, err
	}
	return ch.syncer.CheckForUpdates(ctx, srcs)
}

// CheckDue reports whether the check frequency has elapsed since the last
// update check.
func (h *Host) CheckDue() bool {
	last := h.registry.LastCheck()
	return last.IsZero() || h.clock.Since(last) >= h.checkFrequency
}

// MaybeUpdate checks for newer catalogs when a check is due and queues an
// update session if any source has one. It reports whether an update was
// queued.
func (h *Host) MaybeUpdate(ctx context.Context) (bool, error) {
	if !h.CheckDue() {
		return false, nil
	}

	updates, err := h.CheckForUpdates(ctx)
	if err != nil {
		return false, err
	}
	if len(updates) == 0 {
		return false, h.registry.SetLastCheck(h.clock.Now())
	}
	for _, u := range updates {
		h.events.Publish(events.Event{
			Kind:    events.UpdateAvailable,
			Source:  u.Source.URL,
			Version: u.Remote,
			Message: fmt.Sprintf("%s -> %s", u.Local, u.Remote),
		})
	}

	if _, err := h.Update(); err != nil {
		if errors.Is(err, ErrBusy) {
			// Try again on the next tick; the check stays due.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Run performs due update checks until ctx ends.
func (h *Host) Run(ctx context.Context) {
	interval := min(h.checkFrequency, maxCheckInterval)
	for {
		if _, err := h.MaybeUpdate(ctx); err != nil && !errors.Is(err, ErrNoSources) {
			h.logger.Warn("update check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.clock.After(interval):
		}
	}
}
