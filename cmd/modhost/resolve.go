// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/pkg/resolve"
)

type resolveOptions struct {
	local      bool
	noRetrieve bool
	title      string
	apiLevel   int
	minVersion string
	sources    []string
	repository string
	format     string
}

func newResolveCommand(app *App) *cobra.Command {
	opts := resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve <module>...",
		Short: "Resolve modules into a loader payload",
		Long: `Resolve modules into the ordered native libraries to load.

By default the request goes to the running host server, which retrieves
missing modules first. With --local the local catalogs are read directly
and nothing is fetched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), app, args, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.local, "local", false, "resolve against local catalogs without a server or retrieval")
	f.BoolVar(&opts.noRetrieve, "no-retrieve", false, "report missing modules instead of retrieving them")
	f.StringVar(&opts.title, "title", "modhost", "application title shown in sessions")
	f.IntVar(&opts.apiLevel, "api-level", host.MaxAPILevel, "minimum loader API level")
	f.StringVar(&opts.minVersion, "min-version", "0.0.0", "minimum catalog version or semver constraint")
	f.StringSliceVar(&opts.sources, "source", nil, "catalog source URL, highest priority first (repeatable)")
	f.StringVar(&opts.repository, "repository", "", "repository: stable, testing or unstable")
	f.StringVar(&opts.format, "format", formatText, "output format: text or json")
	return cmd
}

func runResolve(ctx context.Context, app *App, modules []string, opts resolveOptions) error {
	if opts.format != formatText && opts.format != formatJSON {
		return fmt.Errorf("unknown format %q (valid: text, json)", opts.format)
	}

	req := &host.LoaderRequest{
		RequiredModules:  modules,
		ApplicationTitle: opts.title,
		MinimumAPILevel:  opts.apiLevel,
		MinimumVersion:   opts.minVersion,
		Sources:          opts.sources,
		Repository:       opts.repository,
	}
	if opts.noRetrieve || opts.local {
		retrieve := false
		req.Retrieve = &retrieve
	}

	resp, err := loadRequest(ctx, app, req, opts.local)
	if err != nil {
		return err
	}

	if opts.format == formatJSON {
		if err := writeStructured(app.stdout, formatJSON, resp); err != nil {
			return err
		}
	} else {
		printLoaderResponse(app.stdout, resp)
	}

	if resp.ErrorCode != host.NoError {
		return &ExitError{Code: int(resp.ErrorCode), Err: loaderError(req, resp)}
	}
	return nil
}

// loaderError describes a failed loader answer, attaching the guide that
// matches its code.
func loaderError(req *host.LoaderRequest, resp *host.LoaderResponse) error {
	cause := fmt.Errorf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
	switch resp.ErrorCode {
	case host.NotFound:
		missing := resp.Missing
		if len(missing) == 0 {
			missing = req.RequiredModules
		}
		return issue.ModulesNotFound(req.Repository, missing...).Wrap(cause).Build()
	case host.IncompatibleVersion, host.InvalidRequiredVersion:
		return issue.NewErrorContext().
			WithOperation("resolve").
			WithModules(req.RequiredModules...).
			WithRepository(req.Repository).
			WithIssue(issue.IncompatibleVersionId).
			WithSuggestion("Lower --min-version or --api-level, or sync newer catalogs").
			Wrap(cause).
			Build()
	default:
		return cause
	}
}

func loadRequest(ctx context.Context, app *App, req *host.LoaderRequest, local bool) (*host.LoaderResponse, error) {
	if !local {
		c, err := app.client()
		if err != nil {
			return nil, err
		}
		return c.Load(ctx, req)
	}

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	h, _, err := app.openHost(cfg)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	resp, err := h.Load(ctx, req)
	if errors.Is(err, resolve.ErrDependencyCycle) {
		return nil, issue.NewErrorContext().
			WithOperation("resolve").
			WithModules(req.RequiredModules...).
			WithRepository(req.Repository).
			WithIssue(issue.DependencyCycleId).
			WithSuggestion("Report the cycle to the catalog maintainers").
			Wrap(err).
			Build()
	}
	return resp, err
}

func printLoaderResponse(w io.Writer, resp *host.LoaderResponse) {
	if resp.ErrorCode == host.NoError {
		fmt.Fprintln(w, SuccessStyle.Render("✓ resolved"))
	} else {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("✗ "+resp.ErrorCode.String()), resp.ErrorMessage)
	}

	if len(resp.NativeLibraries) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Native libraries (load order)"))
		for i, p := range resp.NativeLibraries {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, p)
		}
	}
	if resp.JarPath != "" {
		fmt.Fprintf(w, "\n%s %s\n", KeyStyle.Render("jar path:"), resp.JarPath)
	}
	if len(resp.StaticInitClasses) > 0 {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render("init classes:"), strings.Join(resp.StaticInitClasses, ", "))
	}
	if resp.LoaderClass != "" {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render("loader class:"), resp.LoaderClass)
	}
	if len(resp.Missing) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", WarningStyle.Render("missing:"), strings.Join(resp.Missing, ", "))
	}
}
