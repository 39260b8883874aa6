// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath string
		// EnvFiles are dotenv files whose MODHOST_* entries act as
		// environment overrides. Missing files are skipped and variables
		// already set in the environment win.
		EnvFiles []string
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	fileProvider struct{}
)

// NewProvider returns the Provider that reads dotenv files, the CUE config
// file and MODHOST_* variables, in that order.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load applies opts.EnvFiles to the process environment, then loads the
// configuration.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}
	cfg, _, err := LoadWithPath(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(paths []string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}
