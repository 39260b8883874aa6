// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/catalogsync"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/issue"
)

func newSyncCommand(app *App) *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync catalogs and re-download changed modules",
		Long: `Fetch the latest catalog of each source, remove modules that changed or
disappeared, and download the new generation of every changed module that
was installed.

This runs in-process and does not need a server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), app, sources)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source URL to sync instead of the configured ones (repeatable)")
	return cmd
}

func runSync(ctx context.Context, app *App, sources []string) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	h, _, err := app.openHost(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	results, err := h.Sync(ctx, sources)
	if len(results) > 0 {
		printSyncResults(app.stdout, results)
	}
	if err != nil {
		if len(sources) == 0 {
			sources = cfg.Sources
		}
		return syncError(err, sources)
	}
	return nil
}

// syncError explains a failed sync of sources.
func syncError(err error, sources []string) error {
	if errors.Is(err, host.ErrNoSources) {
		return issue.NewErrorContext().
			WithOperation("sync catalogs").
			WithIssue(issue.NoSourcesConfiguredId).
			WithSuggestions("Add sources to the config file", "Or pass --source <url>").
			Wrap(err).
			Build()
	}
	return issue.SourceUnreachable(sources...).Wrap(err).Build()
}

func printSyncResults(w io.Writer, results []*catalogsync.Result) {
	t := newTable("Source", "Previous", "Version", "Changed", "Removed")
	for _, r := range results {
		prev := r.PreviousVersion
		if prev == "" {
			prev = "-"
		}
		t.Row(r.Source.URL, prev, r.Version,
			strconv.Itoa(len(r.Diff.Changed)), strconv.Itoa(len(r.Diff.Removed)))
	}
	fmt.Fprintln(w, t.String())
}
