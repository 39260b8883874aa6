// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	verbose bool
	cfgFile string
)

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "modhost",
		Short: "Resolve, fetch and serve shared native modules",
		Long: TitleStyle.Render("modhost") + SubtitleStyle.Render(" - shared native module host") + `

modhost keeps a local copy of one or more module catalogs, installs the
libraries applications ask for, and answers loader requests with the
ordered list of native libraries to load.

` + SubtitleStyle.Render("Examples:") + `
  modhost serve                 Run the host server
  modhost resolve Core Gui      Ask the running server for two modules
  modhost catalog list          Show installed and available modules
  modhost update --check        Look for newer catalogs`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/modhost/config.cue)")

	root.AddCommand(
		newServeCommand(app),
		newResolveCommand(app),
		newSyncCommand(app),
		newUpdateCommand(app),
		newCatalogCommand(app),
		newSessionsCommand(app),
		newConfigCommand(app),
	)
	return root
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
		fang.WithErrorHandler(printError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// printError shows the guide attached to err, then the error with the
// suggestions of actionable errors, which fang's default handler drops.
func printError(w io.Writer, _ fang.Styles, err error) {
	if id := issue.IdOf(err); id != 0 {
		renderIssue(w, id)
	}
	fmt.Fprintf(w, "\n%s %s\n\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their own Format; verbose shows the full chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
