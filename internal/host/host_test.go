// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/clock"
	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/fetch"
	"github.com/modhost/modhost/internal/session"
	"github.com/modhost/modhost/internal/state"
	"github.com/modhost/modhost/pkg/catalog"
	"github.com/modhost/modhost/pkg/resolve"
)

const testSource = "https://catalog.example.org/modules/"

func content(name, rev string) string { return name + "@" + rev }

func sha(data string) catalog.ContentHash {
	sum := sha256.Sum256([]byte(data))
	return catalog.ContentHash(hex.EncodeToString(sum[:]))
}

// remoteLib builds a library whose artifact content is derived from name and
// rev, so changing rev changes the hash.
func remoteLib(name, rev string, level int, deps ...catalog.ModuleName) catalog.Library {
	return catalog.Library{
		Name:     catalog.ModuleName(name),
		FilePath: "lib/lib" + name + ".so",
		Hash:     sha(content(name, rev)),
		Level:    level,
		Depends:  deps,
	}
}

type fakeRemote struct {
	mu          sync.Mutex
	manifests   map[string]*catalog.Manifest
	contents    map[string]string
	downloadErr error
	fetches     int
	downloaded  []catalog.ModuleName
	invalidated []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{manifests: make(map[string]*catalog.Manifest), contents: make(map[string]string)}
}

// publish makes m the remote generation of source; rev names the artifact
// contents of its libraries.
func (f *fakeRemote) publish(source string, m *catalog.Manifest, rev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[source] = m
	for _, lib := range m.Libraries {
		f.contents[lib.FilePath] = content(string(lib.Name), rev)
		for _, aux := range lib.Aux {
			f.contents[aux.Path()] = "aux:" + string(aux.Name)
		}
	}
}

func (f *fakeRemote) FetchManifest(_ context.Context, t fetch.Target) (*catalog.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	m, ok := f.manifests[t.Source]
	if !ok {
		return nil, fetch.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRemote) LatestVersion(_ context.Context, t fetch.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[t.Source]
	if !ok {
		return "", fetch.ErrNotFound
	}
	return m.Version, nil
}

func (f *fakeRemote) Download(_ context.Context, layout catalog.Layout, jobs []fetch.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return f.downloadErr
	}
	for _, j := range jobs {
		lib := j.Library
		if err := writeFile(layout.ArtifactPath(lib), f.contents[lib.FilePath]); err != nil {
			return err
		}
		for _, aux := range lib.Aux {
			if err := writeFile(layout.AuxPath(lib, aux), f.contents[aux.Path()]); err != nil {
				return err
			}
		}
		f.downloaded = append(f.downloaded, lib.Name)
	}
	return nil
}

func (f *fakeRemote) Invalidate(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, source)
}

func (f *fakeRemote) stats() (fetches int, downloaded []catalog.ModuleName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, slices.Clone(f.downloaded)
}

func writeFile(path, data string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	root     string
	registry *state.Registry
	remote   *fakeRemote
	events   *recordingPublisher
	clock    *clock.Fake
	host     *Host
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	root := t.TempDir()
	reg, err := state.Open(state.Path(root))
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	f := &fixture{
		root:     root,
		registry: reg,
		remote:   newFakeRemote(),
		events:   &recordingPublisher{},
		clock:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	base := []Option{
		WithSources(testSource),
		WithPlatform("linux-amd64"),
		WithEvents(f.events),
		WithClock(f.clock),
		WithLogger(log.New(io.Discard)),
	}
	f.host = New(root, reg, f.remote, append(base, opts...)...)
	t.Cleanup(f.host.Close)
	return f
}

// install persists m as the local manifest of source and writes the files
// of the named libraries, as a previous retrieval would have.
func (f *fixture) install(t *testing.T, source string, m *catalog.Manifest, rev string, installed ...catalog.ModuleName) {
	t.Helper()

	id, err := f.registry.Register(source)
	if err != nil {
		t.Fatal(err)
	}
	layout := catalog.NewLayout(f.root, catalog.RepositoryStable)
	if err := m.Save(layout.ManifestPath(id)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for _, lib := range m.Libraries {
		if !slices.Contains(installed, lib.Name) {
			continue
		}
		lib.SourceID = id
		if err := writeFile(layout.ArtifactPath(lib), content(string(lib.Name), rev)); err != nil {
			t.Fatal(err)
		}
		for _, aux := range lib.Aux {
			if err := writeFile(layout.AuxPath(lib, aux), "aux:"+string(aux.Name)); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func waitIdle(t *testing.T, h *Host) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(h.Sessions()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions still pending: %+v", h.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func request(modules ...string) *LoaderRequest {
	return &LoaderRequest{
		RequiredModules:  modules,
		ApplicationTitle: "demo",
		MinimumAPILevel:  2,
		MinimumVersion:   "5.0",
	}
}

func load(t *testing.T, h *Host, req *LoaderRequest) *LoaderResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := h.Load(ctx, req)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return resp
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	no := false

	tests := []struct {
		name string
		edit func(*LoaderRequest)
		want ErrorCode
	}{
		{"no modules", func(r *LoaderRequest) { r.RequiredModules = nil }, InvalidParameters},
		{"no title", func(r *LoaderRequest) { r.ApplicationTitle = " " }, InvalidParameters},
		{"no api level", func(r *LoaderRequest) { r.MinimumAPILevel = 0 }, InvalidParameters},
		{"no minimum version", func(r *LoaderRequest) { r.MinimumVersion = "" }, InvalidParameters},
		{"bad module name", func(r *LoaderRequest) { r.RequiredModules = []string{"a/b"} }, InvalidParameters},
		{"bad repository", func(r *LoaderRequest) { r.Repository = "nightly" }, InvalidParameters},
		{"bad minimum version", func(r *LoaderRequest) { r.MinimumVersion = "five" }, InvalidParameters},
		{"api level too new", func(r *LoaderRequest) { r.MinimumAPILevel = MaxAPILevel + 1 }, IncompatibleVersion},
		{"api level negative", func(r *LoaderRequest) { r.MinimumAPILevel = -1 }, IncompatibleVersion},
		// Parameter errors win over the API level.
		{"both invalid", func(r *LoaderRequest) { r.ApplicationTitle = ""; r.MinimumAPILevel = 9 }, InvalidParameters},
		{"no retrieval", func(r *LoaderRequest) { r.Retrieve = &no }, NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("Core")
			tt.edit(req)
			resp := load(t, f.host, req)
			if resp.ErrorCode != tt.want {
				t.Errorf("ErrorCode = %v (%s), want %v", resp.ErrorCode, resp.ErrorMessage, tt.want)
			}
		})
	}

	if fetches, _ := f.remote.stats(); fetches != 0 {
		t.Errorf("invalid requests must not contact sources, got %d fetches", fetches)
	}
}

func TestLoadSatisfiedLocally(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	core := remoteLib("Core", "1", 0)
	core.Aux = []catalog.AuxFile{{
		Name: "Core.jar", FilePath: "jar/Core.jar", Hash: sha("aux:Core.jar"),
		Kind: catalog.AuxKindJar, InitClass: "org.example.CoreInit",
	}}
	gui := remoteLib("Gui", "1", 1, "Core")
	m := &catalog.Manifest{
		Version:           "5.1",
		LoaderClass:       "org.example.Loader",
		Environment:       map[string]string{"QT_PLUGIN_PATH": "plugins", "MODE": "catalog"},
		ApplicationParams: []string{"-platform", "minimal"},
		Libraries:         []catalog.Library{gui, core},
	}
	f.install(t, testSource, m, "1", "Core", "Gui")

	req := request("Gui")
	req.Environment = map[string]string{"MODE": "request"}
	req.ApplicationParams = []string{"--verbose"}
	resp := load(t, f.host, req)

	if resp.ErrorCode != NoError {
		t.Fatalf("ErrorCode = %v: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	if got := baseNames(resp.NativeLibraries); !slices.Equal(got, []string{"libCore.so", "libGui.so"}) {
		t.Errorf("NativeLibraries = %v, want Core before Gui", got)
	}
	if filepath.Base(resp.JarPath) != "Core.jar" {
		t.Errorf("JarPath = %q", resp.JarPath)
	}
	if !slices.Equal(resp.StaticInitClasses, []string{"org.example.CoreInit"}) {
		t.Errorf("StaticInitClasses = %v", resp.StaticInitClasses)
	}
	if resp.LoaderClass != "org.example.Loader" {
		t.Errorf("LoaderClass = %q", resp.LoaderClass)
	}
	if resp.Environment["MODE"] != "request" || resp.Environment["QT_PLUGIN_PATH"] != "plugins" {
		t.Errorf("Environment = %v, request entries should override catalog entries", resp.Environment)
	}
	if !slices.Equal(resp.ApplicationParams, []string{"-platform", "minimal", "--verbose"}) {
		t.Errorf("ApplicationParams = %v", resp.ApplicationParams)
	}
	if resp.LibsPath != filepath.Join(f.root, "libs") {
		t.Errorf("LibsPath = %q", resp.LibsPath)
	}
	if !strings.HasPrefix(resp.LibPath, resp.LibsPath) {
		t.Errorf("LibPath %q should be under LibsPath", resp.LibPath)
	}
	if fetches, _ := f.remote.stats(); fetches != 0 {
		t.Errorf("satisfied request fetched %d manifests", fetches)
	}
}

func TestLoadRetrievesMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.publish(testSource, &catalog.Manifest{
		Version: "5.1",
		Libraries: []catalog.Library{
			remoteLib("Core", "1", 0),
			remoteLib("Gui", "1", 1, "Core"),
			remoteLib("Unused", "1", 2),
		},
	}, "1")

	resp := load(t, f.host, request("Gui"))

	if resp.ErrorCode != NoError {
		t.Fatalf("ErrorCode = %v: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	if got := baseNames(resp.NativeLibraries); !slices.Equal(got, []string{"libCore.so", "libGui.so"}) {
		t.Errorf("NativeLibraries = %v", got)
	}
	_, downloaded := f.remote.stats()
	slices.Sort(downloaded)
	if !slices.Equal(downloaded, []catalog.ModuleName{"Core", "Gui"}) {
		t.Errorf("downloaded = %v, want only Core and Gui", downloaded)
	}
	for _, p := range resp.NativeLibraries {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact %s not installed: %v", p, err)
		}
	}

	f.remote.mu.Lock()
	invalidated := slices.Clone(f.remote.invalidated)
	f.remote.mu.Unlock()
	if !slices.Contains(invalidated, testSource) {
		t.Errorf("manifest cache of %s was not invalidated", testSource)
	}

	kinds := f.events.kinds()
	for _, want := range []events.Kind{events.SessionQueued, events.SessionActivated, events.CatalogSynced, events.ModulesInstalled, events.SessionCompleted} {
		if !slices.Contains(kinds, want) {
			t.Errorf("events %v missing %s", kinds, want)
		}
	}
	if len(f.host.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none after completion", f.host.Sessions())
	}
}

func TestLoadNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.publish(testSource, &catalog.Manifest{
		Version:   "5.1",
		Libraries: []catalog.Library{remoteLib("Core", "1", 0)},
	}, "1")

	resp := load(t, f.host, request("Core", "Nope"))

	if resp.ErrorCode != NotFound {
		t.Fatalf("ErrorCode = %v, want NotFound", resp.ErrorCode)
	}
	if !slices.Equal(resp.Missing, []string{"Nope"}) {
		t.Errorf("Missing = %v, want [Nope]", resp.Missing)
	}
	if got := baseNames(resp.NativeLibraries); !slices.Equal(got, []string{"libCore.so"}) {
		t.Errorf("NativeLibraries = %v, Core should still be installed", got)
	}
}

func TestLoadRetrieveDisabledReportsMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, testSource, &catalog.Manifest{
		Version:   "5.1",
		Libraries: []catalog.Library{remoteLib("Core", "1", 0), remoteLib("Gui", "1", 1, "Core")},
	}, "1")

	no := false
	req := request("Gui")
	req.Retrieve = &no
	resp := load(t, f.host, req)

	if resp.ErrorCode != NotFound {
		t.Fatalf("ErrorCode = %v, want NotFound", resp.ErrorCode)
	}
	slices.Sort(resp.Missing)
	if !slices.Equal(resp.Missing, []string{"Core", "Gui"}) {
		t.Errorf("Missing = %v", resp.Missing)
	}
	if fetches, _ := f.remote.stats(); fetches != 0 {
		t.Errorf("retrieve=false fetched %d manifests", fetches)
	}
}

func TestLoadRetrievalCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.publish(testSource, &catalog.Manifest{
		Version:   "5.1",
		Libraries: []catalog.Library{remoteLib("Core", "1", 0)},
	}, "1")
	f.remote.downloadErr = errors.New("connection reset")

	resp := load(t, f.host, request("Core"))

	if resp.ErrorCode != RetrievalCanceled {
		t.Fatalf("ErrorCode = %v, want RetrievalCanceled", resp.ErrorCode)
	}
	if !slices.Contains(f.events.kinds(), events.SessionCanceled) {
		t.Errorf("events %v missing %s", f.events.kinds(), events.SessionCanceled)
	}
}

func TestLoadUnreachableSourceCancels(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := load(t, f.host, request("Core"))
	if resp.ErrorCode != RetrievalCanceled {
		t.Fatalf("ErrorCode = %v, want RetrievalCanceled", resp.ErrorCode)
	}
}

func TestLoadMinimumVersionIsImmediate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.install(t, testSource, &catalog.Manifest{
		Version:   "5.0",
		Libraries: []catalog.Library{remoteLib("Core", "1", 0)},
	}, "1")

	req := request("Core")
	req.MinimumVersion = "5.1"
	resp := load(t, f.host, req)

	if resp.ErrorCode != InvalidRequiredVersion {
		t.Fatalf("ErrorCode = %v, want InvalidRequiredVersion", resp.ErrorCode)
	}
	if fetches, _ := f.remote.stats(); fetches != 0 {
		t.Errorf("version mismatch fetched %d manifests", fetches)
	}

	req.MinimumVersion = ">= 4.8, < 6"
	if resp := load(t, f.host, req); resp.ErrorCode != NoError {
		t.Errorf("constraint should be satisfied, got %v: %s", resp.ErrorCode, resp.ErrorMessage)
	}
}

func TestLoadCorruptCatalogIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, err := f.registry.Register(testSource)
	if err != nil {
		t.Fatal(err)
	}
	layout := catalog.NewLayout(f.root, catalog.RepositoryStable)
	if err := writeFile(layout.ManifestPath(id), "libraries: [{name: 1}]"); err != nil {
		t.Fatal(err)
	}

	_, err = f.host.Load(context.Background(), request("Core"))
	if err == nil {
		t.Fatal("Load() should fail on an unreadable catalog rather than report not found")
	}
}

func TestLoadCycleIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ch, err := f.host.channel(catalog.RepositoryStable)
	if err != nil {
		t.Fatal(err)
	}
	srcs, err := f.host.Sources(nil)
	if err != nil {
		t.Fatal(err)
	}

	// Manifests with cycles are rejected on load, so publish one directly.
	a := remoteLib("A", "1", 0, "B")
	b := remoteLib("B", "1", 0, "A")
	a.SourceID, b.SourceID = srcs[0].ID, srcs[0].ID
	cyclic := catalog.New()
	cyclic.Installed = map[catalog.ModuleName]catalog.Library{"A": a, "B": b}
	cyclic.Available = map[catalog.ModuleName]catalog.Library{"A": a, "B": b}
	ch.store.Swap(srcs[0].ID, cyclic)

	_, err = f.host.Load(context.Background(), request("A"))
	if !errors.Is(err, resolve.ErrDependencyCycle) {
		t.Fatalf("Load() error = %v, want ErrDependencyCycle", err)
	}
}

func TestConcurrentLoadsShareRetrievals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.publish(testSource, &catalog.Manifest{
		Version:   "5.1",
		Libraries: []catalog.Library{remoteLib("Core", "1", 0), remoteLib("Gui", "1", 1, "Core")},
	}, "1")

	var wg sync.WaitGroup
	codes := make([]ErrorCode, 4)
	for i := range codes {
		wg.Go(func() {
			resp, err := f.host.Load(context.Background(), request("Gui"))
			if err != nil {
				t.Errorf("Load() error = %v", err)
				return
			}
			codes[i] = resp.ErrorCode
		})
	}
	wg.Wait()

	for i, c := range codes {
		if c != NoError {
			t.Errorf("request %d: ErrorCode = %v", i, c)
		}
	}
	// Promoted sessions re-resolve first, so modules are fetched once.
	_, downloaded := f.remote.stats()
	if len(downloaded) != 2 {
		t.Errorf("downloaded = %v, want Core and Gui once", downloaded)
	}
}

func TestMaybeUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithCheckFrequency(24*time.Hour))
	old := &catalog.Manifest{Version: "5.0", Libraries: []catalog.Library{remoteLib("Core", "1", 0), remoteLib("Gui", "1", 1, "Core")}}
	f.install(t, testSource, old, "1", "Core", "Gui")
	if err := f.registry.SetLastCheck(f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	// Core changes, Gui does not.
	f.remote.publish(testSource, &catalog.Manifest{
		Version:   "5.1",
		Libraries: []catalog.Library{remoteLib("Core", "2", 0), remoteLib("Gui", "1", 1, "Core")},
	}, "2")
	f.remote.contents["lib/libGui.so"] = content("Gui", "1")

	ctx := context.Background()
	queued, err := f.host.MaybeUpdate(ctx)
	if err != nil || queued {
		t.Fatalf("MaybeUpdate() before due = %v, %v; want false, nil", queued, err)
	}

	f.clock.Advance(25 * time.Hour)
	if !f.host.CheckDue() {
		t.Fatal("CheckDue() should be true after the frequency elapsed")
	}
	queued, err = f.host.MaybeUpdate(ctx)
	if err != nil || !queued {
		t.Fatalf("MaybeUpdate() when due = %v, %v; want true, nil", queued, err)
	}

	waitIdle(t, f.host)

	resp := load(t, f.host, request("Gui"))
	if resp.ErrorCode != NoError {
		t.Fatalf("ErrorCode = %v: %s", resp.ErrorCode, resp.ErrorMessage)
	}

	_, downloaded := f.remote.stats()
	if !slices.Equal(downloaded, []catalog.ModuleName{"Core"}) {
		t.Errorf("downloaded = %v, want only the changed module", downloaded)
	}
	if !f.registry.LastCheck().Equal(f.clock.Now()) {
		t.Errorf("LastCheck() = %v, want %v", f.registry.LastCheck(), f.clock.Now())
	}
	if f.host.CheckDue() {
		t.Error("CheckDue() should be false right after an update")
	}
	if !slices.Contains(f.events.kinds(), events.UpdateAvailable) {
		t.Errorf("events %v missing %s", f.events.kinds(), events.UpdateAvailable)
	}
}

func TestUpdateBusy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Occupy the coordinator with a session whose activation never
	// completes on its own.
	s := session.New(&Job{Kind: JobRetrieve, Title: "blocker", Repository: catalog.RepositoryStable})
	f.host.coord.Close()
	f.host.coord = session.NewCoordinator[*Job](session.ActivatorFunc[*Job](func(context.Context, *session.Session[*Job], bool) error {
		return nil
	}), session.WithLogger(log.New(io.Discard)))
	if _, err := f.host.coord.Submit(s); err != nil {
		t.Fatal(err)
	}

	if _, err := f.host.Update(); !errors.Is(err, ErrBusy) {
		t.Errorf("Update() error = %v, want ErrBusy", err)
	}
	infos := f.host.Sessions()
	if len(infos) != 1 || infos[0].Title != "blocker" || !infos[0].Active {
		t.Errorf("Sessions() = %+v", infos)
	}
}

func TestSyncDirect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.publish(testSource, &catalog.Manifest{Version: "5.1", Libraries: []catalog.Library{remoteLib("Core", "1", 0)}}, "1")

	results, err := f.host.Sync(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(results) != 1 || results[0].Version != "5.1" {
		t.Fatalf("Sync() = %+v", results)
	}

	st, err := f.host.Store(catalog.RepositoryStable)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := st.Catalog(results[0].Source.ID)
	if !ok || c.Version != "5.1" {
		t.Errorf("published catalog = %+v, %v", c, ok)
	}
	if _, installed := c.Installed["Core"]; installed {
		t.Error("Sync() must not install modules that were never installed")
	}
}

func TestLoadAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.host.Close()

	_, err := f.host.Load(context.Background(), request("Core"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
}
