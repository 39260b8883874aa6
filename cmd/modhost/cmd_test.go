// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/fang"

	"github.com/modhost/modhost/internal/config"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/issue"
)

type (
	fakeClient struct {
		available bool
		resp      *host.LoaderResponse
		loadErr   error
		sessions  []host.SessionInfo
		updateID  int
		updateErr error

		lastReq *host.LoaderRequest
		updates int
	}

	staticConfig struct {
		cfg *config.Config
		err error
	}
)

func (f *fakeClient) Load(_ context.Context, req *host.LoaderRequest) (*host.LoaderResponse, error) {
	f.lastReq = req
	return f.resp, f.loadErr
}

func (f *fakeClient) Sessions(context.Context) ([]host.SessionInfo, error) {
	return f.sessions, nil
}

func (f *fakeClient) Update(context.Context) (int, error) {
	f.updates++
	return f.updateID, f.updateErr
}

func (f *fakeClient) IsAvailable(context.Context) bool { return f.available }

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	return s.cfg, s.err
}

func newTestApp(client HostClient, cfg *config.Config) (*App, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	app := NewApp(Dependencies{
		Config: staticConfig{cfg: cfg},
		Client: func() HostClient { return client },
		Stdout: &stdout,
		Stderr: &stderr,
	})
	return app, &stdout, &stderr
}

func withConfigFile(t *testing.T, path string) {
	t.Helper()
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(nil, nil)
	root := NewRootCommand(app)

	for _, name := range []string{"serve", "resolve", "sync", "update", "catalog", "sessions", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err=%v)", name, err)
		}
	}
	for _, path := range [][]string{{"catalog", "list"}, {"catalog", "show"}, {"catalog", "verify"}, {"config", "init"}, {"config", "path"}, {"config", "show"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Errorf("command %v not registered (err=%v)", path, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil || root.PersistentFlags().Lookup("verbose") == nil {
		t.Error("root should carry --config and --verbose")
	}
}

func TestCheckFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []string{"text", "json", "yaml"} {
		if err := checkFormat(f); err != nil {
			t.Errorf("checkFormat(%q) = %v", f, err)
		}
	}
	if err := checkFormat("xml"); err == nil {
		t.Error("checkFormat(xml) should fail")
	}
}

func TestWriteStructuredYAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	v := map[string][]string{"depends": {"Core", "Gui"}}
	if err := writeStructured(&buf, formatYAML, v); err != nil {
		t.Fatalf("writeStructured() error = %v", err)
	}
	if want := "depends:\n  - Core\n  - Gui\n"; buf.String() != want {
		t.Errorf("yaml = %q, want %q", buf.String(), want)
	}
	if err := writeStructured(&buf, formatText, v); err == nil {
		t.Error("text is not a structured format")
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()

	inner := errors.New("not-found: Gui")
	err := error(&ExitError{Code: 2, Err: inner})
	if err.Error() != "not-found: Gui" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("ExitError should unwrap to its cause")
	}
	if got := (&ExitError{Code: 3}).Error(); got != "exit status 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := formatErrorForDisplay(plain, false); got != "boom" {
		t.Errorf("plain = %q", got)
	}

	ae := issue.NewErrorContext().
		WithOperation("sync catalogs").
		WithSuggestion("Add a source").
		Wrap(plain).
		Build()
	got := formatErrorForDisplay(fmt.Errorf("wrapped: %w", ae), false)
	if !strings.Contains(got, "sync catalogs") || !strings.Contains(got, "Add a source") {
		t.Errorf("actionable format = %q", got)
	}
}

func TestPrintErrorKeepsSuggestions(t *testing.T) {
	t.Parallel()

	ae := issue.NewErrorContext().
		WithOperation("connect to host server").
		WithSuggestion("Start a server with 'modhost serve'").
		Wrap(errors.New("no host server configured")).
		Build()

	var buf bytes.Buffer
	printError(&buf, fang.Styles{}, ae)
	out := buf.String()
	for _, want := range []string{"Error:", "no host server configured", "modhost serve"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintErrorRendersGuide(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	err := &ExitError{Code: 1, Err: issue.ChecksumMismatch("https://a/", "Core").
		Wrap(errors.New("1 of 1 installed modules failed verification")).
		Build()}

	var buf bytes.Buffer
	printError(&buf, fang.Styles{}, err)
	out := buf.String()
	guide := strings.Index(out, "Checksum mismatch")
	msg := strings.Index(out, "failed to verify Core in https://a/")
	if guide < 0 || msg < 0 {
		t.Fatalf("output missing guide or message:\n%s", out)
	}
	if guide > msg {
		t.Errorf("guide should precede the error message:\n%s", out)
	}
	if !strings.Contains(out, "modhost sync") {
		t.Errorf("output missing the suggestion:\n%s", out)
	}
}

func TestLoaderErrorAttachesGuide(t *testing.T) {
	t.Parallel()

	req := &host.LoaderRequest{RequiredModules: []string{"Core", "Gui"}, Repository: "testing"}
	tests := []struct {
		code    host.ErrorCode
		missing []string
		want    issue.Id
		text    string
	}{
		{host.NotFound, []string{"Gui"}, issue.ModulesNotFoundId, "failed to resolve Gui in [testing]"},
		{host.NotFound, nil, issue.ModulesNotFoundId, "failed to resolve Core, Gui in [testing]"},
		{host.IncompatibleVersion, nil, issue.IncompatibleVersionId, "failed to resolve Core, Gui"},
		{host.InvalidRequiredVersion, nil, issue.IncompatibleVersionId, "invalid-required-version"},
		{host.RetrievalCanceled, nil, 0, "retrieval-canceled"},
	}
	for _, tt := range tests {
		err := loaderError(req, &host.LoaderResponse{ErrorCode: tt.code, Missing: tt.missing})
		if got := issue.IdOf(err); got != tt.want {
			t.Errorf("%s: IdOf() = %d, want %d", tt.code, got, tt.want)
		}
		if !strings.Contains(err.Error(), tt.text) {
			t.Errorf("%s: error %q does not contain %q", tt.code, err, tt.text)
		}
	}
}

func TestPrintLoaderResponse(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printLoaderResponse(&buf, &host.LoaderResponse{
		NativeLibraries:   []string{"/r/lib/libCore.so", "/r/lib/libGui.so"},
		JarPath:           "/r/jar/Core.jar",
		StaticInitClasses: []string{"org.example.Init"},
		LoaderClass:       "org.example.Loader",
	})
	out := buf.String()
	for _, want := range []string{"resolved", "1. /r/lib/libCore.so", "2. /r/lib/libGui.so", "/r/jar/Core.jar", "org.example.Init", "org.example.Loader"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printLoaderResponse(&buf, &host.LoaderResponse{
		ErrorCode:    host.NotFound,
		ErrorMessage: "modules not found",
		Missing:      []string{"Gui"},
	})
	out = buf.String()
	if !strings.Contains(out, "not-found") || !strings.Contains(out, "Gui") {
		t.Errorf("failure output = %q", out)
	}
}

func TestRunResolveThroughServer(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: &host.LoaderResponse{NativeLibraries: []string{"/r/lib/libCore.so"}}}
	app, stdout, _ := newTestApp(client, nil)

	opts := resolveOptions{title: "demo", apiLevel: 2, minVersion: "5.0", format: formatText, sources: []string{"https://a.example/"}}
	if err := runResolve(context.Background(), app, []string{"Core"}, opts); err != nil {
		t.Fatalf("runResolve() error = %v", err)
	}

	req := client.lastReq
	if req == nil {
		t.Fatal("request was not sent")
	}
	if req.ApplicationTitle != "demo" || req.MinimumAPILevel != 2 || req.MinimumVersion != "5.0" {
		t.Errorf("request = %+v", req)
	}
	if len(req.RequiredModules) != 1 || req.RequiredModules[0] != "Core" {
		t.Errorf("RequiredModules = %v", req.RequiredModules)
	}
	if req.Retrieve != nil {
		t.Error("Retrieve should be left to the server default")
	}
	if !strings.Contains(stdout.String(), "/r/lib/libCore.so") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunResolveNoRetrieve(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: &host.LoaderResponse{}}
	app, _, _ := newTestApp(client, nil)

	opts := resolveOptions{noRetrieve: true, format: formatText}
	if err := runResolve(context.Background(), app, []string{"Core"}, opts); err != nil {
		t.Fatalf("runResolve() error = %v", err)
	}
	if client.lastReq.Retrieve == nil || *client.lastReq.Retrieve {
		t.Error("--no-retrieve should send retrieve=false")
	}
}

func TestRunResolveErrorCodeBecomesExitCode(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: &host.LoaderResponse{
		ErrorCode:    host.InvalidRequiredVersion,
		ErrorMessage: "catalog older than 5.0",
	}}
	app, stdout, _ := newTestApp(client, nil)

	err := runResolve(context.Background(), app, []string{"Core"}, resolveOptions{format: formatJSON})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	if exitErr.Code != int(host.InvalidRequiredVersion) {
		t.Errorf("Code = %d, want %d", exitErr.Code, host.InvalidRequiredVersion)
	}
	if !strings.Contains(stdout.String(), `"error_code": 4`) {
		t.Errorf("json output = %s", stdout.String())
	}
}

func TestRunResolveRejectsYAML(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(&fakeClient{}, nil)
	if err := runResolve(context.Background(), app, []string{"Core"}, resolveOptions{format: formatYAML}); err == nil {
		t.Error("resolve only supports text and json")
	}
}

func TestRunResolveWithoutServer(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(nil, nil)
	err := runResolve(context.Background(), app, []string{"Core"}, resolveOptions{format: formatText})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *issue.ActionableError", err)
	}
	if len(ae.Suggestions) == 0 {
		t.Error("error should explain how to start a server")
	}
	if ae.Issue != issue.HostNotRunningId {
		t.Errorf("Issue = %d, want HostNotRunningId", ae.Issue)
	}
}

func TestRunSessions(t *testing.T) {
	t.Parallel()

	client := &fakeClient{sessions: []host.SessionInfo{
		{ID: 1, Active: true, Kind: host.JobRetrieve, Title: "demo", Modules: []string{"Core", "Gui"}, Submitted: time.Now()},
		{ID: 2, Kind: host.JobUpdate, Submitted: time.Now()},
	}}
	app, stdout, _ := newTestApp(client, nil)

	if err := runSessions(context.Background(), app); err != nil {
		t.Fatalf("runSessions() error = %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"active", "queued", "demo", "Core, Gui", string(host.JobUpdate)} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunSessionsEmpty(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(&fakeClient{}, nil)
	if err := runSessions(context.Background(), app); err != nil {
		t.Fatalf("runSessions() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "no pending sessions") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunUpdateQueuesThroughServer(t *testing.T) {
	t.Parallel()

	client := &fakeClient{available: true, updateID: 7}
	app, stdout, _ := newTestApp(client, nil)

	if err := runUpdate(context.Background(), app); err != nil {
		t.Fatalf("runUpdate() error = %v", err)
	}
	if client.updates != 1 {
		t.Errorf("updates = %d, want 1", client.updates)
	}
	if !strings.Contains(stdout.String(), "session 7") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunUpdateBusy(t *testing.T) {
	t.Parallel()

	client := &fakeClient{available: true, updateErr: fmt.Errorf("conflict: %w", host.ErrBusy)}
	app, _, _ := newTestApp(client, nil)

	err := runUpdate(context.Background(), app)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("error = %v, want ExitError code 1", err)
	}
	if !errors.Is(err, host.ErrBusy) {
		t.Error("error should wrap host.ErrBusy")
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modhost", "config.cue")
	withConfigFile(t, path)

	app, stdout, _ := newTestApp(nil, nil)
	if err := initConfig(app); err != nil {
		t.Fatalf("initConfig() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "Created default configuration") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	stdout.Reset()
	if err := initConfig(app); err != nil {
		t.Fatalf("second initConfig() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "already exists") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.cue")
	withConfigFile(t, path)

	cfg := config.DefaultConfig()
	cfg.RootDir = "/srv/modhost"
	app, stdout, _ := newTestApp(nil, cfg)

	if err := showConfigPath(context.Background(), app); err != nil {
		t.Fatalf("showConfigPath() error = %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, path) || !strings.Contains(out, "/srv/modhost") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	withConfigFile(t, filepath.Join(t.TempDir(), "absent.cue"))

	cfg := config.DefaultConfig()
	cfg.RootDir = "/srv/modhost"
	cfg.Server.Token = "s3cr3t-token"
	app, stdout, _ := newTestApp(nil, cfg)

	if err := showConfig(context.Background(), app); err != nil {
		t.Fatalf("showConfig() error = %v", err)
	}
	out := stdout.String()
	if strings.Contains(out, "s3cr3t-token") {
		t.Error("config show must not print the server token")
	}
	if !strings.Contains(out, "(using defaults)") {
		t.Errorf("output should note the missing file:\n%s", out)
	}
	if cfg.Server.Token != "s3cr3t-token" {
		t.Error("showConfig must not modify the loaded config")
	}
}

func TestConfigShowLoadFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config: staticConfig{err: config.ErrInvalidConfig},
		Client: func() HostClient { return nil },
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err := showConfig(context.Background(), app); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("showConfig() error = %v, want ErrInvalidConfig", err)
	}
}
