// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/pkg/catalog"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Repository != catalog.RepositoryStable {
		t.Errorf("Repository = %q, want stable", cfg.Repository)
	}
	if cfg.CheckFrequency != 7*24*time.Hour {
		t.Errorf("CheckFrequency = %v, want 168h", cfg.CheckFrequency)
	}
	if !cfg.VerifyHashes {
		t.Error("VerifyHashes should default to true")
	}
	if cfg.Server.Address != "127.0.0.1:0" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Cache.ManifestEntries != 64 {
		t.Errorf("Cache.ManifestEntries = %d, want 64", cfg.Cache.ManifestEntries)
	}
	if cfg.Fetch.Timeout != 5*time.Minute {
		t.Errorf("Fetch.Timeout = %v, want 5m", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.ParallelDownloads != 4 {
		t.Errorf("Fetch.ParallelDownloads = %d, want 4", cfg.Fetch.ParallelDownloads)
	}
	if cfg.Platform != DefaultPlatform() {
		t.Errorf("Platform = %q, want %q", cfg.Platform, DefaultPlatform())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoad_ReturnsDefaultsWhenNoConfigFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/modhost-data")

	cfg, path, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.CheckFrequency != DefaultCheckFrequency {
		t.Errorf("CheckFrequency = %v", cfg.CheckFrequency)
	}
	if cfg.RootDir == "" {
		t.Error("RootDir should default to the data directory")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
root_dir: "/srv/modhost"
repository: "testing"
sources: ["https://a.example/catalog/", "s3://bucket/prefix"]
platform: "android-arm64"
check_frequency: "24h"
verify_hashes: false
fetch: {
	timeout: "30s"
	parallel_downloads: 8
}
s3: endpoint: "minio.local:9000"
`)

	cfg, resolved, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if resolved != path {
		t.Errorf("resolved path = %q, want %q", resolved, path)
	}

	if cfg.RootDir != "/srv/modhost" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
	if cfg.Repository != catalog.RepositoryTesting {
		t.Errorf("Repository = %q", cfg.Repository)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1] != "s3://bucket/prefix" {
		t.Errorf("Sources = %v", cfg.Sources)
	}
	if cfg.Platform != "android-arm64" {
		t.Errorf("Platform = %q", cfg.Platform)
	}
	if cfg.CheckFrequency != 24*time.Hour {
		t.Errorf("CheckFrequency = %v", cfg.CheckFrequency)
	}
	if cfg.VerifyHashes {
		t.Error("VerifyHashes should be false")
	}
	if cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.ParallelDownloads != 8 {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	// Unset keys keep their defaults.
	if cfg.Cache.ManifestEntries != DefaultManifestEntries {
		t.Errorf("Cache.ManifestEntries = %d", cfg.Cache.ManifestEntries)
	}
	if cfg.S3.Endpoint != "minio.local:9000" || !cfg.S3.UseSSL {
		t.Errorf("S3 = %+v", cfg.S3)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `repository: "testing"`)

	t.Setenv("MODHOST_REPOSITORY", "unstable")
	t.Setenv("MODHOST_FETCH_PARALLEL_DOWNLOADS", "2")
	t.Setenv("MODHOST_ROOT_DIR", "/var/lib/modhost")

	cfg, _, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}
	if cfg.Repository != catalog.RepositoryUnstable {
		t.Errorf("Repository = %q, want unstable", cfg.Repository)
	}
	if cfg.Fetch.ParallelDownloads != 2 {
		t.Errorf("ParallelDownloads = %d, want 2", cfg.Fetch.ParallelDownloads)
	}
	if cfg.RootDir != "/var/lib/modhost" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("MODHOST_REPOSITORY", "nightly")

	_, _, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err == nil {
		t.Fatal("LoadWithPath() should reject an unknown repository")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error should wrap ErrInvalidConfig, got: %v", err)
	}
	if !errors.Is(err, catalog.ErrInvalidRepository) {
		t.Errorf("error should wrap ErrInvalidRepository, got: %v", err)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", `colour: "blue"`, "colour"},
		{"bad repository", `repository: "nightly"`, "repository"},
		{"bad duration", `check_frequency: "weekly"`, "check_frequency"},
		{"bad source scheme", `sources: ["ftp://x/"]`, "sources"},
		{"zero parallelism", `fetch: parallel_downloads: 0`, "parallel_downloads"},
		{"syntax", `repository: `, "config.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, _, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir})
			if err == nil {
				t.Fatal("LoadWithPath() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_CustomPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, _, err := LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: missing})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error should be *issue.ActionableError, got %T", err)
	}
	if len(ae.Suggestions) == 0 {
		t.Error("actionable error should carry suggestions")
	}
	if got := issue.IdOf(err); got != issue.ConfigLoadFailedId {
		t.Errorf("IdOf() = %d, want ConfigLoadFailedId", got)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := LoadWithPath(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadWithPath() error = %v, want context.Canceled", err)
	}
}

func TestProviderLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `root_dir: "/data"`)

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RootDir != "/data" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
}

func TestCreateDefaultConfigRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ConfigFileName+"."+ConfigFileExt)

	written, err := CreateDefaultConfig(path)
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	if !written {
		t.Fatal("CreateDefaultConfig() should write a new file")
	}

	written, err = CreateDefaultConfig(path)
	if err != nil || written {
		t.Errorf("second CreateDefaultConfig() = %v, %v; want false, nil", written, err)
	}

	cfg, resolved, err := LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q", resolved)
	}
	if cfg.CheckFrequency != DefaultCheckFrequency || cfg.Fetch.Timeout != DefaultFetchTimeout {
		t.Errorf("durations did not survive the round trip: %+v", cfg)
	}
}

func TestGenerateCUEOmitsSecret(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.S3 = S3Config{Endpoint: "s3.local", AccessKey: "AK", SecretKey: "very-secret"}
	out := GenerateCUE(cfg)
	if strings.Contains(out, "very-secret") {
		t.Error("generated config must not contain the S3 secret key")
	}
	if !strings.Contains(out, `access_key: "AK"`) {
		t.Errorf("generated config should carry the access key:\n%s", out)
	}
}

func TestFilePath(t *testing.T) {
	t.Parallel()

	got, err := FilePath(LoadOptions{ConfigDirPath: "/etc/modhost"})
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("/etc/modhost", "config.cue"); got != want {
		t.Errorf("FilePath() = %q, want %q", got, want)
	}

	got, err = FilePath(LoadOptions{ConfigFilePath: "/x/y.cue", ConfigDirPath: "/etc/modhost"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "/x/y.cue" {
		t.Errorf("FilePath() = %q, want explicit path", got)
	}
}

func TestInvalidConfigError(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.CheckFrequency = 0
	cfg.Fetch.ParallelDownloads = 0
	err := cfg.Validate()

	var cfgErr *InvalidConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() error = %T, want *InvalidConfigError", err)
	}
	if len(cfgErr.FieldErrors) != 2 {
		t.Errorf("FieldErrors = %v, want 2", cfgErr.FieldErrors)
	}
	if !errors.Is(err, ErrInvalidDuration) {
		t.Error("error should wrap ErrInvalidDuration")
	}
	if !strings.Contains(err.Error(), "2 field errors") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestProviderAppliesEnvFile(t *testing.T) {
	// godotenv writes to the process environment; register the key with
	// t.Setenv so it is restored, then clear it for the file to apply.
	t.Setenv("MODHOST_REPOSITORY", "")
	if err := os.Unsetenv("MODHOST_REPOSITORY"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MODHOST_REPOSITORY=testing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := LoadOptions{
		ConfigDirPath: dir,
		EnvFiles:      []string{filepath.Join(dir, "missing.env"), envFile},
	}
	cfg, err := NewProvider().Load(context.Background(), opts)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Repository != catalog.RepositoryTesting {
		t.Errorf("Repository = %q, want testing from the env file", cfg.Repository)
	}
}

func TestProviderEnvironmentWinsOverEnvFile(t *testing.T) {
	t.Setenv("MODHOST_REPOSITORY", "unstable")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MODHOST_REPOSITORY=testing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, EnvFiles: []string{envFile}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Repository != catalog.RepositoryUnstable {
		t.Errorf("Repository = %q, want unstable from the environment", cfg.Repository)
	}
}

func TestProviderRejectsMalformedEnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MODHOST_REPOSITORY='unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, EnvFiles: []string{envFile}}); err == nil {
		t.Error("Load() error = nil, want a parse error for the env file")
	}
}
