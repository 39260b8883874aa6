// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/catalogsync"
	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/internal/store"
	"github.com/modhost/modhost/pkg/catalog"
)

type (
	// moduleView is the structured form of `catalog show`.
	moduleView struct {
		Name      string    `json:"name" yaml:"name"`
		Source    string    `json:"source" yaml:"source"`
		Version   string    `json:"catalog_version" yaml:"catalog_version"`
		Installed bool      `json:"installed" yaml:"installed"`
		Level     int       `json:"level" yaml:"level"`
		File      string    `json:"file" yaml:"file"`
		Path      string    `json:"path" yaml:"path"`
		Hash      string    `json:"hash" yaml:"hash"`
		Depends   []string  `json:"depends,omitempty" yaml:"depends,omitempty"`
		Replaces  []string  `json:"replaces,omitempty" yaml:"replaces,omitempty"`
		Aux       []auxView `json:"aux,omitempty" yaml:"aux,omitempty"`
	}

	auxView struct {
		Name      string `json:"name" yaml:"name"`
		Path      string `json:"path" yaml:"path"`
		Hash      string `json:"hash" yaml:"hash"`
		Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
		InitClass string `json:"init_class,omitempty" yaml:"init_class,omitempty"`
	}

	// catalogView is one loaded repository with its sources.
	catalogView struct {
		store   *store.Store
		sources []catalogsync.Source
	}
)

func newCatalogCommand(app *App) *cobra.Command {
	var repository string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect local catalogs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&repository, "repository", "", "repository to inspect (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed and available modules per source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd.Context(), app, repository, func(v *catalogView) error {
				return listCatalog(app.stdout, v)
			})
		},
	})

	var format string
	show := &cobra.Command{
		Use:   "show <module>",
		Short: "Show one module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return withCatalog(cmd.Context(), app, repository, func(v *catalogView) error {
				return showModule(app.stdout, v, catalog.ModuleName(args[0]), format)
			})
		},
	}
	show.Flags().StringVar(&format, "format", formatText, "output format: text, json or yaml")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Re-check the content hash of every installed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd.Context(), app, repository, func(v *catalogView) error {
				return verifyCatalog(app, v)
			})
		},
	})
	return cmd
}

func withCatalog(ctx context.Context, app *App, repository string, fn func(*catalogView) error) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	h, _, err := app.openHost(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	repo := h.Repository()
	if repository != "" {
		repo = catalog.Repository(repository)
	}
	st, err := h.Store(repo)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load catalogs").
			WithRepository(string(repo)).
			WithIssue(issue.ManifestInvalidId).
			WithSuggestion("Run 'modhost sync' to replace the local manifests").
			Wrap(err).
			Build()
	}
	srcs, err := h.Sources(nil)
	if err != nil {
		return syncError(err, cfg.Sources)
	}
	return fn(&catalogView{store: st, sources: srcs})
}

func listCatalog(w io.Writer, v *catalogView) error {
	for _, src := range v.sources {
		c, ok := v.store.Catalog(src.ID)
		if !ok {
			continue
		}
		version := c.Version
		if version == "" {
			version = "never synced"
		}
		fmt.Fprintf(w, "%s %s %s\n", TitleStyle.Render(src.URL), SubtitleStyle.Render("#"+src.ID.String()), SubtitleStyle.Render(version))

		names := c.Names()
		if len(names) == 0 {
			fmt.Fprintln(w, SubtitleStyle.Render("  (no modules)"))
			continue
		}
		t := newTable("Module", "Level", "State", "Depends")
		for _, name := range names {
			lib, installed, _ := c.Lookup(name)
			state := SubtitleStyle.Render("available")
			if installed {
				state = SuccessStyle.Render("installed")
			}
			t.Row(string(name), strconv.Itoa(lib.Level), state, joinNames(lib.Depends))
		}
		fmt.Fprintln(w, t.String())
	}
	return nil
}

func showModule(w io.Writer, v *catalogView, name catalog.ModuleName, format string) error {
	ids := make([]catalog.SourceID, len(v.sources))
	for i, s := range v.sources {
		ids[i] = s.ID
	}
	merged := v.store.Snapshot(ids...)
	lib, installed, ok := merged.Lookup(name)
	if !ok {
		return fmt.Errorf("module %q is not in any catalog", name)
	}

	view := newModuleView(v, lib, installed)
	if format != formatText {
		return writeStructured(w, format, view)
	}

	fmt.Fprintln(w, TitleStyle.Render(view.Name))
	rows := [][2]string{
		{"source", view.Source},
		{"catalog version", view.Version},
		{"installed", strconv.FormatBool(view.Installed)},
		{"level", strconv.Itoa(view.Level)},
		{"path", view.Path},
		{"hash", view.Hash},
		{"depends", strings.Join(view.Depends, ", ")},
		{"replaces", strings.Join(view.Replaces, ", ")},
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", KeyStyle.Render(r[0]+":"), r[1])
	}
	for _, a := range view.Aux {
		fmt.Fprintf(w, "  %s %s (%s)\n", KeyStyle.Render("aux:"), a.Path, a.Name)
	}
	return nil
}

func newModuleView(v *catalogView, lib catalog.Library, installed bool) moduleView {
	layout := v.store.Layout()
	view := moduleView{
		Name:      string(lib.Name),
		Installed: installed,
		Level:     lib.Level,
		File:      lib.FilePath,
		Path:      layout.ArtifactPath(lib),
		Hash:      string(lib.Hash),
		Depends:   namesOf(lib.Depends),
		Replaces:  namesOf(lib.Replaces),
	}
	for _, s := range v.sources {
		if s.ID == lib.SourceID {
			view.Source = s.URL
		}
	}
	if c, ok := v.store.Catalog(lib.SourceID); ok {
		view.Version = c.Version
	}
	for _, aux := range lib.Aux {
		view.Aux = append(view.Aux, auxView{
			Name:      string(aux.Name),
			Path:      layout.AuxPath(lib, aux),
			Hash:      string(aux.Hash),
			Kind:      string(aux.Kind),
			InitClass: aux.InitClass,
		})
	}
	return view
}

func verifyCatalog(app *App, v *catalogView) error {
	var failures []store.VerifyFailure
	checked := 0
	for _, src := range v.sources {
		c, ok := v.store.Catalog(src.ID)
		if !ok {
			continue
		}
		checked += len(c.Installed)
		for _, f := range v.store.Verify(src.ID) {
			// Available modules are not expected on disk.
			if _, installed := c.Installed[f.Library.Name]; installed {
				failures = append(failures, f)
			}
		}
	}

	if len(failures) == 0 {
		fmt.Fprintf(app.stdout, "%s %d installed modules verified\n", SuccessStyle.Render("✓"), checked)
		return nil
	}

	t := newTable("Module", "File", "Problem")
	for _, f := range failures {
		t.Row(string(f.Library.Name), f.Path, f.Err.Error())
	}
	fmt.Fprintln(app.stdout, t.String())
	var sources, modules []string
	for _, f := range failures {
		modules = append(modules, string(f.Library.Name))
		for _, s := range v.sources {
			if s.ID == f.Library.SourceID && !slices.Contains(sources, s.URL) {
				sources = append(sources, s.URL)
			}
		}
	}
	cause := fmt.Errorf("%d of %d installed modules failed verification", len(failures), checked)
	return &ExitError{
		Code: 1,
		Err:  issue.ChecksumMismatch(strings.Join(sources, ", "), modules...).Wrap(cause).Build(),
	}
}

func namesOf(names []catalog.ModuleName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func joinNames(names []catalog.ModuleName) string {
	return strings.Join(namesOf(names), ", ")
}
