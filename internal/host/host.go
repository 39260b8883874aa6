// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/maps"

	"github.com/modhost/modhost/internal/catalogsync"
	"github.com/modhost/modhost/internal/clock"
	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/fetch"
	"github.com/modhost/modhost/internal/metrics"
	"github.com/modhost/modhost/internal/session"
	"github.com/modhost/modhost/internal/state"
	"github.com/modhost/modhost/internal/store"
	"github.com/modhost/modhost/pkg/catalog"
	"github.com/modhost/modhost/pkg/resolve"
)

const (
	// JobRetrieve fetches the modules a loader request is missing.
	JobRetrieve JobKind = "retrieve"
	// JobUpdate syncs every source and re-downloads changed installed
	// modules.
	JobUpdate JobKind = "update"
)

var (
	// ErrClosed is returned once Close was called.
	ErrClosed = errors.New("host closed")
	// ErrNoSources is returned when neither the request nor the
	// configuration names a catalog source.
	ErrNoSources = errors.New("no catalog sources configured")
)

type (
	// Fetcher is the remote side of the host. *fetch.Client implements it.
	Fetcher interface {
		catalogsync.ManifestFetcher
		Download(ctx context.Context, layout catalog.Layout, jobs []fetch.Job) error
		Invalidate(source string)
	}

	// SourceRegistry assigns stable ids to source URLs and remembers the
	// last update check. *state.Registry implements it.
	SourceRegistry interface {
		Register(url string) (catalog.SourceID, error)
		LastCheck() time.Time
		SetLastCheck(t time.Time) error
	}

	// JobKind distinguishes retrieval sessions.
	JobKind string

	// Job is the payload of one coordinator session.
	Job struct {
		Kind       JobKind
		Title      string
		Repository catalog.Repository
		Sources    []catalogsync.Source
		Modules    []catalog.ModuleName
		// Results collects the syncs of an update job.
		Results []*catalogsync.Result
	}

	// SessionInfo describes a pending session.
	SessionInfo struct {
		ID         int                `json:"id"`
		Active     bool               `json:"active"`
		Submitted  time.Time          `json:"submitted"`
		Kind       JobKind            `json:"kind"`
		Title      string             `json:"title,omitempty"`
		Repository catalog.Repository `json:"repository"`
		Modules    []string           `json:"modules,omitempty"`
	}

	// Host serves loader requests. It is safe for concurrent use.
	Host struct {
		root           string
		repository     catalog.Repository
		sources        []string
		platform       string
		verify         bool
		checkFrequency time.Duration

		registry SourceRegistry
		fetcher  Fetcher
		events   events.Publisher
		clock    clock.Clock
		logger   *log.Logger

		coord *session.Coordinator[*Job]

		mu       sync.Mutex
		closed   bool
		channels map[catalog.Repository]*channel
		wg       sync.WaitGroup
	}

	// channel is the store and syncer of one repository.
	channel struct {
		store  *store.Store
		syncer *catalogsync.Syncer
	}

	// Option configures a Host.
	Option func(*Host)

	discardPublisher struct{}
)

func (discardPublisher) Publish(events.Event) {}

// WithRepository sets the repository used when a request names none.
func WithRepository(r catalog.Repository) Option {
	return func(h *Host) { h.repository = r }
}

// WithSources sets the sources used when a request names none, highest
// priority first.
func WithSources(urls ...string) Option {
	return func(h *Host) { h.sources = slices.Clone(urls) }
}

// WithPlatform sets the catalog platform tag.
func WithPlatform(p string) Option {
	return func(h *Host) { h.platform = p }
}

// WithVerifyHashes makes installed detection compare content hashes.
func WithVerifyHashes(v bool) Option {
	return func(h *Host) { h.verify = v }
}

// WithCheckFrequency sets the minimum interval between update checks.
func WithCheckFrequency(d time.Duration) Option {
	return func(h *Host) { h.checkFrequency = d }
}

// WithEvents publishes session and catalog events to p.
func WithEvents(p events.Publisher) Option {
	return func(h *Host) { h.events = p }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a host keeping its catalogs under root. Close releases it.
func New(root string, registry SourceRegistry, fetcher Fetcher, opts ...Option) *Host {
	h := &Host{
		root:           root,
		repository:     catalog.RepositoryStable,
		checkFrequency: 7 * 24 * time.Hour,
		verify:         true,
		registry:       registry,
		fetcher:        fetcher,
		events:         discardPublisher{},
		clock:          clock.Real{},
		logger:         log.NewWithOptions(os.Stderr, log.Options{Prefix: "host"}),
		channels:       make(map[catalog.Repository]*channel),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.coord = session.NewCoordinator[*Job](h,
		session.WithLogger(h.logger.WithPrefix("session")),
		session.WithNow(h.clock.Now))
	return h
}

// Close cancels pending sessions and waits for running retrievals.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.coord.Close()
	h.wg.Wait()
}

// Repository is the default repository.
func (h *Host) Repository() catalog.Repository { return h.repository }

// Store returns the catalog store of repo, loading local manifests of the
// default sources on first use.
func (h *Host) Store(repo catalog.Repository) (*store.Store, error) {
	ch, err := h.channel(repo)
	if err != nil {
		return nil, err
	}
	srcs, err := h.Sources(nil)
	if err != nil && !errors.Is(err, ErrNoSources) {
		return nil, err
	}
	if err := ch.ensureLoaded(srcs); err != nil {
		return nil, err
	}
	return ch.store, nil
}

// Sources registers urls, or the configured sources when urls is empty,
// and returns them in priority order.
func (h *Host) Sources(urls []string) ([]catalogsync.Source, error) {
	if len(urls) == 0 {
		urls = h.sources
	}
	if len(urls) == 0 {
		return nil, ErrNoSources
	}

	out := make([]catalogsync.Source, 0, len(urls))
	seen := make(map[catalog.SourceID]bool, len(urls))
	for _, u := range urls {
		id, err := h.registry.Register(u)
		if err != nil {
			return nil, fmt.Errorf("failed to register source %q: %w", u, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, catalogsync.Source{ID: id, URL: catalog.NormalizeSource(u)})
	}
	return out, nil
}

func (h *Host) channel(repo catalog.Repository) (*channel, error) {
	if err := repo.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[repo]; ok {
		return ch, nil
	}
	st := store.New(catalog.NewLayout(h.root, repo),
		store.WithVerifyHashes(h.verify),
		store.WithLogger(h.logger.WithPrefix("store")))
	ch := &channel{
		store:  st,
		syncer: catalogsync.NewSyncer(st, h.fetcher, h.platform, catalogsync.WithLogger(h.logger.WithPrefix("catalogsync"))),
	}
	h.channels[repo] = ch
	return ch, nil
}

// ensureLoaded publishes the local catalog of every source not yet known
// to the store. A corrupt local manifest is an error, never an empty
// catalog.
func (ch *channel) ensureLoaded(srcs []catalogsync.Source) error {
	for _, src := range srcs {
		if _, ok := ch.store.Catalog(src.ID); ok {
			continue
		}
		if err := ch.store.Refresh(src.ID); err != nil {
			return err
		}
	}
	return nil
}

func (ch *channel) resolve(srcs []catalogsync.Source, modules []catalog.ModuleName) (*resolve.Result, *catalog.Catalog, error) {
	if err := ch.ensureLoaded(srcs); err != nil {
		return nil, nil, err
	}
	ids := make([]catalog.SourceID, len(srcs))
	for i, s := range srcs {
		ids[i] = s.ID
	}
	cat := ch.store.Snapshot(ids...)
	res, err := resolve.Resolve(resolve.Request{Modules: modules, CollectMissing: true}, cat, ch.store.Layout())
	if err != nil {
		return nil, nil, err
	}
	return res, cat, nil
}

// Load answers a loader request, retrieving missing modules first when
// allowed. Protocol outcomes are reported through the response's error
// code; the returned error is reserved for failures of the host itself,
// such as an unreadable catalog or a dependency cycle.
func (h *Host) Load(ctx context.Context, req *LoaderRequest) (resp *LoaderResponse, err error) {
	start := h.clock.Now()
	defer func() {
		code := "error"
		if resp != nil {
			code = resp.ErrorCode.String()
		}
		metrics.ResolutionsTotal.WithLabelValues(code).Inc()
		metrics.ResolutionDuration.Observe(h.clock.Since(start).Seconds())
	}()

	if code, msg := req.check(); code != NoError {
		return failure(code, msg), nil
	}
	minimum, err := parseMinimumVersion(req.MinimumVersion)
	if err != nil {
		return failure(InvalidParameters, err.Error()), nil
	}

	repo := h.repository
	if req.Repository != "" {
		repo = catalog.Repository(req.Repository)
	}
	srcs, err := h.Sources(req.Sources)
	if errors.Is(err, ErrNoSources) {
		return failure(InvalidParameters, err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	ch, err := h.channel(repo)
	if err != nil {
		return failure(InvalidParameters, err.Error()), nil
	}

	res, cat, err := ch.resolve(srcs, req.Modules())
	if err != nil {
		return nil, err
	}
	if cat.Version != "" {
		if ok, msg := minimum.allows(cat.Version); !ok {
			return h.response(req, ch, srcs, res, cat, InvalidRequiredVersion, msg), nil
		}
	}
	if res.Satisfied {
		return h.response(req, ch, srcs, res, cat, NoError, ""), nil
	}
	if !req.ShouldRetrieve() {
		return h.response(req, ch, srcs, res, cat, NotFound, "modules not installed and retrieval disabled"), nil
	}

	s := session.New(&Job{
		Kind:       JobRetrieve,
		Title:      req.ApplicationTitle,
		Repository: repo,
		Sources:    srcs,
		Modules:    req.Modules(),
	})
	id, err := h.coord.Submit(s)
	if err != nil {
		return nil, ErrClosed
	}
	h.events.Publish(events.Event{Kind: events.SessionQueued, Session: id, Title: req.ApplicationTitle, Modules: names(req.Modules())})

	outcome, err := s.Wait(ctx)
	if err != nil {
		return nil, err
	}

	// A canceled retrieval may still have installed part of the request.
	res, cat, err = ch.resolve(srcs, req.Modules())
	if err != nil {
		return nil, err
	}
	switch {
	case outcome == session.Canceled:
		return h.response(req, ch, srcs, res, cat, RetrievalCanceled, "retrieval canceled"), nil
	case !res.Satisfied:
		return h.response(req, ch, srcs, res, cat, NotFound, "modules not found in any source"), nil
	}
	if ok, msg := minimum.allows(cat.Version); !ok {
		return h.response(req, ch, srcs, res, cat, InvalidRequiredVersion, msg), nil
	}
	return h.response(req, ch, srcs, res, cat, NoError, ""), nil
}

func failure(code ErrorCode, msg string) *LoaderResponse {
	return &LoaderResponse{
		NativeLibraries:   []string{},
		StaticInitClasses: []string{},
		ErrorCode:         code,
		ErrorMessage:      msg,
	}
}

func (h *Host) response(
	req *LoaderRequest,
	ch *channel,
	srcs []catalogsync.Source,
	res *resolve.Result,
	cat *catalog.Catalog,
	code ErrorCode,
	msg string,
) *LoaderResponse {
	layout := ch.store.Layout()

	env := maps.Clone(cat.Environment)
	if env == nil {
		env = make(map[string]string, len(req.Environment))
	}
	maps.Copy(env, req.Environment)

	params := slices.Concat(cat.ApplicationParams, req.ApplicationParams)

	resp := &LoaderResponse{
		NativeLibraries:   res.Paths(),
		JarPath:           strings.Join(res.Jars, string(os.PathListSeparator)),
		StaticInitClasses: res.InitClasses,
		LibPath:           layout.SourceDir(srcs[0].ID),
		LibsPath:          layout.LibsRoot(),
		LoaderClass:       cat.LoaderClass,
		Environment:       env,
		ApplicationParams: params,
		ErrorCode:         code,
		ErrorMessage:      msg,
	}
	if resp.StaticInitClasses == nil {
		resp.StaticInitClasses = []string{}
	}
	if !res.Satisfied {
		resp.Missing = missing(req.Modules(), res, cat)
	}
	return resp
}

// missing lists modules to fetch plus requested modules no source offers.
func missing(requested []catalog.ModuleName, res *resolve.Result, cat *catalog.Catalog) []string {
	set := make(map[string]bool)
	for _, n := range res.MissingNames() {
		set[string(n)] = true
	}
	for _, n := range requested {
		if _, _, ok := cat.Lookup(n); !ok {
			set[string(n)] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func names(mods []catalog.ModuleName) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = string(m)
	}
	return out
}

// Sessions lists pending sessions, active first.
func (h *Host) Sessions() []SessionInfo {
	infos := h.coord.Snapshot()
	out := make([]SessionInfo, 0, len(infos))
	for _, in := range infos {
		out = append(out, SessionInfo{
			ID:         in.ID,
			Active:     in.Active,
			Submitted:  in.Submitted,
			Kind:       in.Data.Kind,
			Title:      in.Data.Title,
			Repository: in.Data.Repository,
			Modules:    names(in.Data.Modules),
		})
	}
	return out
}

var _ SourceRegistry = (*state.Registry)(nil)
