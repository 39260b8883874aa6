// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/modhost/modhost/internal/metrics"
	"github.com/modhost/modhost/pkg/catalog"
	"github.com/modhost/modhost/pkg/cueutil"
)

const (
	// DefaultCacheSize is the number of parsed manifests kept in memory.
	DefaultCacheSize = 64
	// DefaultParallelDownloads bounds concurrent artifact transfers.
	DefaultParallelDownloads = 4
)

type (
	// Target identifies one repository and platform of a source.
	Target struct {
		Source     string
		Repository catalog.Repository
		Platform   string
	}

	// Job is one library to download into Layout.
	Job struct {
		Target  Target
		Library catalog.Library
	}

	// Client fetches manifests and artifacts, dispatching on the source
	// scheme.
	Client struct {
		backends map[string]Backend
		cache    *lru.Cache[string, *catalog.Manifest]
		parallel int
		logger   *log.Logger
	}

	// Option configures a Client.
	Option func(*clientOptions)

	transfer struct {
		rel  string
		hash catalog.ContentHash
		dst  string
	}

	clientOptions struct {
		http      Backend
		s3        Backend
		cacheSize int
		parallel  int
		logger    *log.Logger
	}
)

// WithHTTPBackend replaces the backend used for http and https sources.
func WithHTTPBackend(b Backend) Option {
	return func(o *clientOptions) { o.http = b }
}

// WithS3Backend enables s3 sources.
func WithS3Backend(b Backend) Option {
	return func(o *clientOptions) { o.s3 = b }
}

// WithCacheSize sets the manifest cache capacity.
func WithCacheSize(n int) Option {
	return func(o *clientOptions) { o.cacheSize = n }
}

// WithParallelDownloads bounds concurrent transfers in Download.
func WithParallelDownloads(n int) Option {
	return func(o *clientOptions) { o.parallel = n }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient builds a Client. Without options, http and https sources use
// NewHTTPBackend() and s3 sources are rejected.
func NewClient(opts ...Option) (*Client, error) {
	o := clientOptions{
		cacheSize: DefaultCacheSize,
		parallel:  DefaultParallelDownloads,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = NewHTTPBackend()
	}
	if o.logger == nil {
		o.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "fetch"})
	}
	if o.parallel < 1 {
		o.parallel = 1
	}

	cache, err := lru.New[string, *catalog.Manifest](max(o.cacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("creating manifest cache: %w", err)
	}

	c := &Client{
		backends: map[string]Backend{"http": o.http, "https": o.http},
		cache:    cache,
		parallel: o.parallel,
		logger:   o.logger,
	}
	if o.s3 != nil {
		c.backends["s3"] = o.s3
	}
	return c, nil
}

func (t Target) key(name string) string {
	return string(t.Repository) + "/" + t.Platform + "/" + strings.TrimPrefix(name, "/")
}

func (t Target) cacheKey(version string) string {
	return t.Source + "|" + t.key(version)
}

func (c *Client) open(ctx context.Context, source, key string) (io.ReadCloser, error) {
	scheme, _, ok := strings.Cut(source, "://")
	if !ok {
		return nil, fmt.Errorf("source %q has no scheme", source)
	}
	b, ok := c.backends[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported source scheme %q", scheme)
	}
	return b.Open(ctx, source, key)
}

func (c *Client) readDocument(ctx context.Context, t Target, name string) ([]byte, error) {
	rc, err := c.open(ctx, t.Source, t.key(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	// One byte past the limit lets the parser report the oversize document.
	data, err := io.ReadAll(io.LimitReader(rc, cueutil.DefaultMaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// LatestVersion reads the version index of t.
func (c *Client) LatestVersion(ctx context.Context, t Target) (string, error) {
	data, err := c.readDocument(ctx, t, "versions.cue")
	if err != nil {
		return "", err
	}
	idx, err := catalog.ParseVersionIndex(data, t.Source+t.key("versions.cue"))
	if err != nil {
		return "", err
	}
	return idx.Latest, nil
}

// FetchManifest returns the latest manifest of t, from the cache when the
// version is unchanged since the last fetch.
func (c *Client) FetchManifest(ctx context.Context, t Target) (*catalog.Manifest, error) {
	version, err := c.LatestVersion(ctx, t)
	if err != nil {
		return nil, err
	}

	key := t.cacheKey(version)
	if m, ok := c.cache.Get(key); ok {
		metrics.ManifestCacheTotal.WithLabelValues("hit").Inc()
		return m, nil
	}
	metrics.ManifestCacheTotal.WithLabelValues("miss").Inc()

	name := "libs-" + version + ".cue"
	data, err := c.readDocument(ctx, t, name)
	if err != nil {
		return nil, err
	}
	m, err := catalog.ParseManifest(data, t.Source+t.key(name))
	if err != nil {
		return nil, err
	}
	if m.Version != version {
		c.logger.Warn("manifest version differs from index", "source", t.Source, "index", version, "manifest", m.Version)
	}

	c.cache.Add(key, m)
	return m, nil
}

// Invalidate drops every cached manifest of source.
func (c *Client) Invalidate(source string) {
	prefix := source + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// DownloadFile streams relPath from t into dst, verifying it against hash.
// dst is only replaced once the content matches.
func (c *Client) DownloadFile(ctx context.Context, t Target, relPath string, hash catalog.ContentHash, dst string) (_ int64, err error) {
	rc, err := c.open(ctx, t.Source, t.key(relPath))
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := catalog.NewHasher(hash)
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", relPath, err)
	}
	if got := catalog.Sum(h); !got.Equal(hash) {
		return 0, &catalog.ChecksumError{Filename: relPath, Expected: hash, Got: got}
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("installing %s: %w", dst, err)
	}
	return n, nil
}

// Download fetches the artifact and auxiliary files of every job into
// layout, at most WithParallelDownloads at a time. The first failure cancels
// the remaining transfers and is returned. Libraries whose files completed
// before the failure stay on disk.
func (c *Client) Download(ctx context.Context, layout catalog.Layout, jobs []Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	for _, job := range jobs {
		lib := job.Library
		files := []transfer{{lib.FilePath, lib.Hash, layout.ArtifactPath(lib)}}
		for _, aux := range lib.Aux {
			files = append(files, transfer{aux.Path(), aux.Hash, layout.AuxPath(lib, aux)})
		}

		for _, f := range files {
			g.Go(func() error {
				n, err := c.DownloadFile(ctx, job.Target, f.rel, f.hash, f.dst)
				if err != nil {
					metrics.DownloadsTotal.WithLabelValues("error").Inc()
					return fmt.Errorf("module %s: %w", lib.Name, err)
				}
				metrics.DownloadsTotal.WithLabelValues("ok").Inc()
				metrics.DownloadBytesTotal.Add(float64(n))
				c.logger.Debug("downloaded", "module", lib.Name, "file", f.rel, "bytes", n)
				return nil
			})
		}
	}
	return g.Wait()
}
