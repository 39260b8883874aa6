// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/config"
	"github.com/modhost/modhost/internal/fetch"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/hostserver"
	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/internal/state"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// HostClient talks to a running `modhost serve`.
	HostClient interface {
		Load(ctx context.Context, req *host.LoaderRequest) (*host.LoaderResponse, error)
		Sessions(ctx context.Context) ([]host.SessionInfo, error)
		Update(ctx context.Context) (int, error)
		IsAvailable(ctx context.Context) bool
	}

	// App wires CLI services. Command handlers receive it instead of
	// reaching for globals, so tests can substitute each dependency.
	App struct {
		Config ConfigProvider
		// Client returns the IPC client, or nil when no server is known.
		Client func() HostClient
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config ConfigProvider
		Client func() HostClient
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp builds an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		Client: deps.Client,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Client == nil {
		app.Client = envClient
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func envClient() HostClient {
	if c := hostserver.NewClientFromEnv(); c != nil {
		return c
	}
	return nil
}

func (a *App) loadConfig(ctx context.Context, envFiles ...string) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile, EnvFiles: envFiles})
}

func (a *App) logger(prefix string) *log.Logger {
	l := log.NewWithOptions(a.stderr, log.Options{Prefix: prefix})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l
}

// client returns the IPC client or an actionable error explaining how to
// start a server.
func (a *App) client() (HostClient, error) {
	c := a.Client()
	if c == nil {
		return nil, issue.NewErrorContext().
			WithOperation("connect to host server").
			WithIssue(issue.HostNotRunningId).
			WithSuggestions(
				"Start a server with 'modhost serve'",
				fmt.Sprintf("Export the %s and %s values it prints", hostserver.EnvAddr, hostserver.EnvToken),
			).
			Wrap(errors.New("no host server configured")).
			Build()
	}
	return c, nil
}

// openHost builds a Host over the configured root directory.
func (a *App) openHost(cfg *config.Config, opts ...host.Option) (*host.Host, *state.Registry, error) {
	registry, err := state.Open(state.Path(cfg.RootDir))
	if err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("open source registry").
			WithResource(state.Path(cfg.RootDir)).
			WithSuggestion("The file is machine-managed; move it aside to start with an empty registry").
			Wrap(err).
			Build()
	}

	fetcher, err := newFetcher(cfg, a.logger("fetch"))
	if err != nil {
		return nil, nil, err
	}

	base := []host.Option{
		host.WithRepository(cfg.Repository),
		host.WithSources(cfg.Sources...),
		host.WithPlatform(cfg.Platform),
		host.WithVerifyHashes(cfg.VerifyHashes),
		host.WithCheckFrequency(cfg.CheckFrequency),
		host.WithLogger(a.logger("host")),
	}
	return host.New(cfg.RootDir, registry, fetcher, append(base, opts...)...), registry, nil
}

// newFetcher builds the remote client. The S3 backend is only configured
// when an endpoint is set.
func newFetcher(cfg *config.Config, logger *log.Logger) (*fetch.Client, error) {
	opts := []fetch.Option{
		fetch.WithHTTPBackend(fetch.NewHTTPBackend(
			fetch.WithHTTPClient(&http.Client{Timeout: cfg.Fetch.Timeout}),
			fetch.WithUserAgent(cfg.Fetch.UserAgent),
		)),
		fetch.WithCacheSize(cfg.Cache.ManifestEntries),
		fetch.WithParallelDownloads(cfg.Fetch.ParallelDownloads),
		fetch.WithLogger(logger),
	}
	if cfg.S3.Endpoint != "" {
		s3, err := fetch.NewS3Backend(fetch.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 backend: %w", err)
		}
		opts = append(opts, fetch.WithS3Backend(s3))
	}
	return fetch.NewClient(opts...)
}
