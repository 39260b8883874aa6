// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/modhost/modhost/pkg/catalog"
)

const (
	// DefaultCheckFrequency is how often sources are checked for newer catalogs.
	DefaultCheckFrequency = 7 * 24 * time.Hour
	// DefaultServerAddress binds the host to a random loopback port.
	DefaultServerAddress = "127.0.0.1:0"
	// DefaultManifestEntries is the manifest cache size.
	DefaultManifestEntries = 64
	// DefaultFetchTimeout bounds a single transfer.
	DefaultFetchTimeout = 5 * time.Minute
	// DefaultParallelDownloads is the artifact download concurrency.
	DefaultParallelDownloads = 4
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = errors.New("duration must be positive")
)

type (
	// Config is the host configuration.
	Config struct {
		// RootDir holds manifests, libraries and the state file.
		RootDir string `json:"root_dir" mapstructure:"root_dir"`
		// Repository is the default release channel.
		Repository catalog.Repository `json:"repository" mapstructure:"repository"`
		// Sources are catalog base URLs in priority order.
		Sources []string `json:"sources" mapstructure:"sources"`
		// Platform selects the catalog subdirectory on every source.
		Platform string `json:"platform" mapstructure:"platform"`
		// CheckFrequency is the minimum interval between update checks.
		CheckFrequency time.Duration `json:"check_frequency" mapstructure:"check_frequency"`
		// VerifyHashes makes installed detection check content hashes.
		VerifyHashes bool `json:"verify_hashes" mapstructure:"verify_hashes"`
		// Server configures the IPC listener.
		Server ServerConfig `json:"server" mapstructure:"server"`
		// Cache configures in-memory caches.
		Cache CacheConfig `json:"cache" mapstructure:"cache"`
		// Fetch configures remote transfers.
		Fetch FetchConfig `json:"fetch" mapstructure:"fetch"`
		// S3 configures access to s3:// sources.
		S3 S3Config `json:"s3" mapstructure:"s3"`
	}

	// ServerConfig configures the IPC listener.
	ServerConfig struct {
		Address string `json:"address" mapstructure:"address"`
		// Token is the bearer token clients present. Empty means one is
		// generated at startup.
		Token string `json:"token" mapstructure:"token"`
	}

	// CacheConfig configures in-memory caches.
	CacheConfig struct {
		ManifestEntries int `json:"manifest_entries" mapstructure:"manifest_entries"`
	}

	// FetchConfig configures remote transfers.
	FetchConfig struct {
		Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
		UserAgent         string        `json:"user_agent" mapstructure:"user_agent"`
		ParallelDownloads int           `json:"parallel_downloads" mapstructure:"parallel_downloads"`
	}

	// S3Config configures the S3 backend. Empty keys mean anonymous access.
	S3Config struct {
		Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
		AccessKey string `json:"access_key" mapstructure:"access_key"`
		SecretKey string `json:"secret_key" mapstructure:"secret_key"`
		UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
		Region    string `json:"region" mapstructure:"region"`
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultPlatform is the catalog platform tag of the running binary.
func DefaultPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// DefaultConfig returns the built-in configuration. RootDir is left empty
// and filled from DataDir at load time.
func DefaultConfig() *Config {
	return &Config{
		Repository:     catalog.RepositoryStable,
		Sources:        []string{},
		Platform:       DefaultPlatform(),
		CheckFrequency: DefaultCheckFrequency,
		VerifyHashes:   true,
		Server: ServerConfig{
			Address: DefaultServerAddress,
		},
		Cache: CacheConfig{
			ManifestEntries: DefaultManifestEntries,
		},
		Fetch: FetchConfig{
			Timeout:           DefaultFetchTimeout,
			ParallelDownloads: DefaultParallelDownloads,
		},
		S3: S3Config{
			UseSSL: true,
		},
	}
}

// Validate checks constraints that survive environment overrides, which
// bypass the CUE schema.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Repository.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Platform) == "" {
		errs = append(errs, errors.New("platform: must not be empty"))
	}
	if c.CheckFrequency <= 0 {
		errs = append(errs, fmt.Errorf("check_frequency: %w", ErrInvalidDuration))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout: %w", ErrInvalidDuration))
	}
	if c.Fetch.ParallelDownloads < 1 {
		errs = append(errs, errors.New("fetch.parallel_downloads: must be at least 1"))
	}
	if c.Cache.ManifestEntries < 1 {
		errs = append(errs, errors.New("cache.manifest_entries: must be at least 1"))
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src) == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("%s: %v", ErrInvalidConfig, e.FieldErrors[0])
	}
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %d field errors: %s", ErrInvalidConfig, len(e.FieldErrors), strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig followed by the field errors, so
// errors.Is() matches either.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
