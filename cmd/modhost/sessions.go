// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List pending retrieval sessions of the running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessions(cmd.Context(), app)
		},
	}
}

func runSessions(ctx context.Context, app *App) error {
	c, err := app.client()
	if err != nil {
		return err
	}
	sessions, err := c.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("no pending sessions"))
		return nil
	}

	t := newTable("ID", "State", "Kind", "Title", "Modules", "Waiting")
	for _, s := range sessions {
		state := SubtitleStyle.Render("queued")
		if s.Active {
			state = SuccessStyle.Render("active")
		}
		t.Row(strconv.Itoa(s.ID), state, string(s.Kind), s.Title,
			strings.Join(s.Modules, ", "), time.Since(s.Submitted).Round(time.Second).String())
	}
	fmt.Fprintln(app.stdout, t.String())
	return nil
}
