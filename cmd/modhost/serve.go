// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/hostserver"
	"github.com/modhost/modhost/internal/issue"
)

func newServeCommand(app *App) *cobra.Command {
	var (
		address string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host server",
		Long: `Run the host server until interrupted.

The server prints the address and token clients need as shell exports.
Variables from the env file are loaded before the configuration, so they
can carry MODHOST_* overrides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), app, address, envFile)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before the configuration")
	return cmd
}

func runServe(ctx context.Context, app *App, address, envFile string) error {
	cfg, err := app.loadConfig(ctx, envFile)
	if err != nil {
		return err
	}
	if address == "" {
		address = cfg.Server.Address
	}

	logger := app.logger("serve")
	logger.SetReportTimestamp(true)

	hub := events.NewHub(events.WithLogger(app.logger("events")))
	h, _, err := app.openHost(cfg, host.WithEvents(hub))
	if err != nil {
		return err
	}
	defer h.Close()

	srv, err := hostserver.New(h,
		hostserver.WithAddress(address),
		hostserver.WithToken(cfg.Server.Token),
		hostserver.WithEvents(hub),
		hostserver.WithLogger(app.logger("hostserver")))
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("start host server").
			WithIssue(issue.ServerStartFailedId).
			WithResource(address).
			WithSuggestion("Pick a free address with --address or server.address").
			Wrap(err).
			Build()
	}

	fmt.Fprintf(app.stdout, "export %s=%s\n", hostserver.EnvAddr, srv.URL())
	fmt.Fprintf(app.stdout, "export %s=%s\n", hostserver.EnvToken, srv.Token())
	logger.Info("serving", "address", srv.Address(), "root", cfg.RootDir,
		"repository", cfg.Repository, "sources", len(cfg.Sources))

	runCtx, cancel := context.WithCancel(ctx)
	checks := make(chan struct{})
	go func() {
		defer close(checks)
		h.Run(runCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-srv.Err():
		logger.Error("server failed", "error", serveErr)
	}

	cancel()
	<-checks
	hub.Close()
	stopErr := srv.Stop()
	return errors.Join(serveErr, stopErr)
}
