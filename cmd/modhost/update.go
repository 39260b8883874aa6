// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/host"
)

func newUpdateCommand(app *App) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for or apply catalog updates",
		Long: `Check sources for newer catalogs, or apply them.

When a host server is running the update is queued there as a session,
which only starts when no other session is pending. Otherwise the update
runs in-process like 'modhost sync'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if check {
				return runUpdateCheck(cmd.Context(), app)
			}
			return runUpdate(cmd.Context(), app)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report sources with a newer catalog")
	return cmd
}

func runUpdateCheck(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	h, _, err := app.openHost(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	updates, err := h.CheckForUpdates(ctx)
	if err != nil {
		return syncError(err, cfg.Sources)
	}
	if len(updates) == 0 {
		fmt.Fprintln(app.stdout, SuccessStyle.Render("✓ all catalogs are up to date"))
		return nil
	}

	t := newTable("Source", "Local", "Remote")
	for _, u := range updates {
		local := u.Local
		if local == "" {
			local = "-"
		}
		t.Row(u.Source.URL, local, u.Remote)
	}
	fmt.Fprintln(app.stdout, t.String())
	return nil
}

func runUpdate(ctx context.Context, app *App) error {
	if c := app.Client(); c != nil && c.IsAvailable(ctx) {
		id, err := c.Update(ctx)
		if errors.Is(err, host.ErrBusy) {
			fmt.Fprintln(app.stdout, WarningStyle.Render("host is busy; try again when no session is pending"))
			return &ExitError{Code: 1, Err: err}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "%s update queued as session %d\n", SuccessStyle.Render("✓"), id)
		return nil
	}
	return runSync(ctx, app, nil)
}
