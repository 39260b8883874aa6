// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/config"
	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/internal/state"
)

func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modhost configuration",
		Long: `Manage modhost configuration.

Configuration is stored in:
  - Linux: ~/.config/modhost/config.cue
  - macOS: ~/Library/Application Support/modhost/config.cue
  - Windows: %APPDATA%\modhost\config.cue

Every key can be overridden with a MODHOST_* environment variable, for
example MODHOST_FETCH_PARALLEL_DOWNLOADS=8.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration and state file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfigPath(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(app)
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	path, err := config.FilePath(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	if fileExists(path) {
		fmt.Fprintf(app.stdout, "%s %s\n\n", KeyStyle.Render("Config file:"), path)
	} else {
		fmt.Fprintf(app.stdout, "%s %s\n\n", KeyStyle.Render("Config file:"), SubtitleStyle.Render("(using defaults)"))
	}

	shown := *cfg
	if shown.Server.Token != "" {
		shown.Server.Token = "********"
	}
	fmt.Fprint(app.stdout, config.GenerateCUE(&shown))
	return nil
}

func showConfigPath(ctx context.Context, app *App) error {
	path, err := config.FilePath(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "Config file: %s\n", path)

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "Root directory: %s\n", cfg.RootDir)
	fmt.Fprintf(app.stdout, "State file: %s\n", state.Path(cfg.RootDir))
	return nil
}

func initConfig(app *App) error {
	path, err := config.FilePath(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	written, err := config.CreateDefaultConfig(path)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("create config").
			WithResource(path).
			WithSuggestion("Check that the config directory is writable").
			Wrap(err).
			Build()
	}
	if !written {
		fmt.Fprintf(app.stdout, "%s %s already exists\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
