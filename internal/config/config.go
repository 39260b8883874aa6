// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "modhost"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "MODHOST"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the modhost configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the default root directory for catalogs and libraries:
// $XDG_DATA_HOME/modhost on Linux, falling back to ~/.local/share/modhost,
// and the user cache directory elsewhere.
func DataDir() (string, error) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to get cache directory: %w", err)
		}
		return filepath.Join(dir, AppName), nil
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, AppName), nil
}

// FilePath returns the config file path for opts: the explicit file when
// set, else config.cue in the config directory.
func FilePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}
	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt), nil
}

// LoadWithPath loads configuration and also returns the file it came from,
// or "" when only defaults and environment overrides apply.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	// If a custom config file path is set via --config flag, use it exclusively.
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'modhost config init' to write a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				Build()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", configFileError(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cuePath, err := FilePath(opts)
		if err != nil {
			return nil, "", err
		}
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", configFileError(cuePath, err)
			}
			resolvedPath = cuePath
		}
		// If no config file found, use defaults (no error)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.RootDir == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, "", err
		}
		cfg.RootDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithResource(resolvedPath).
			WithSuggestion("Check MODHOST_* environment variables for malformed values").
			WithSuggestion("Run 'modhost config show' to see the effective configuration").
			Wrap(err).
			Build()
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("root_dir", defaults.RootDir)
	v.SetDefault("repository", string(defaults.Repository))
	v.SetDefault("sources", defaults.Sources)
	v.SetDefault("platform", defaults.Platform)
	v.SetDefault("check_frequency", defaults.CheckFrequency)
	v.SetDefault("verify_hashes", defaults.VerifyHashes)
	v.SetDefault("server.address", defaults.Server.Address)
	v.SetDefault("server.token", defaults.Server.Token)
	v.SetDefault("cache.manifest_entries", defaults.Cache.ManifestEntries)
	v.SetDefault("fetch.timeout", defaults.Fetch.Timeout)
	v.SetDefault("fetch.user_agent", defaults.Fetch.UserAgent)
	v.SetDefault("fetch.parallel_downloads", defaults.Fetch.ParallelDownloads)
	v.SetDefault("s3.endpoint", defaults.S3.Endpoint)
	v.SetDefault("s3.access_key", defaults.S3.AccessKey)
	v.SetDefault("s3.secret_key", defaults.S3.SecretKey)
	v.SetDefault("s3.use_ssl", defaults.S3.UseSSL)
	v.SetDefault("s3.region", defaults.S3.Region)
}

func configFileError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithIssue(issue.ConfigLoadFailedId).
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("See 'modhost config --help' for configuration options").
		Wrap(err).
		Build()
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Note: This uses manual CUE parsing instead of cueutil.ParseAndDecode because
// config decodes to map[string]any for Viper, with Concrete(false) since
// every field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file to path unless one
// already exists. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE generates a CUE representation of the configuration. The S3
// secret key is never written.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// modhost configuration file\n")
	sb.WriteString("// Every key is optional; MODHOST_* environment variables override it.\n\n")

	if cfg.RootDir != "" {
		sb.WriteString(fmt.Sprintf("root_dir: %q\n", cfg.RootDir))
	}
	sb.WriteString(fmt.Sprintf("repository: %q\n", cfg.Repository))
	sb.WriteString(fmt.Sprintf("platform: %q\n", cfg.Platform))

	if len(cfg.Sources) > 0 {
		sb.WriteString("\nsources: [\n")
		for _, src := range cfg.Sources {
			sb.WriteString(fmt.Sprintf("\t%q,\n", src))
		}
		sb.WriteString("]\n")
	} else {
		sb.WriteString("\n// sources: [\"https://catalog.example.org/modules/\"]\n")
	}

	sb.WriteString(fmt.Sprintf("\ncheck_frequency: %q\n", cfg.CheckFrequency.String()))
	sb.WriteString(fmt.Sprintf("verify_hashes: %v\n", cfg.VerifyHashes))

	sb.WriteString("\nserver: {\n")
	sb.WriteString(fmt.Sprintf("\taddress: %q\n", cfg.Server.Address))
	if cfg.Server.Token != "" {
		sb.WriteString(fmt.Sprintf("\ttoken: %q\n", cfg.Server.Token))
	}
	sb.WriteString("}\n")

	sb.WriteString("\ncache: {\n")
	sb.WriteString(fmt.Sprintf("\tmanifest_entries: %d\n", cfg.Cache.ManifestEntries))
	sb.WriteString("}\n")

	sb.WriteString("\nfetch: {\n")
	sb.WriteString(fmt.Sprintf("\ttimeout: %q\n", cfg.Fetch.Timeout.String()))
	if cfg.Fetch.UserAgent != "" {
		sb.WriteString(fmt.Sprintf("\tuser_agent: %q\n", cfg.Fetch.UserAgent))
	}
	sb.WriteString(fmt.Sprintf("\tparallel_downloads: %d\n", cfg.Fetch.ParallelDownloads))
	sb.WriteString("}\n")

	if cfg.S3.Endpoint != "" || cfg.S3.AccessKey != "" || cfg.S3.Region != "" {
		sb.WriteString("\ns3: {\n")
		if cfg.S3.Endpoint != "" {
			sb.WriteString(fmt.Sprintf("\tendpoint: %q\n", cfg.S3.Endpoint))
		}
		if cfg.S3.AccessKey != "" {
			sb.WriteString(fmt.Sprintf("\taccess_key: %q\n", cfg.S3.AccessKey))
		}
		sb.WriteString(fmt.Sprintf("\tuse_ssl: %v\n", cfg.S3.UseSSL))
		if cfg.S3.Region != "" {
			sb.WriteString(fmt.Sprintf("\tregion: %q\n", cfg.S3.Region))
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}
