// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
)

type (
	// AuxFile is a secondary artifact a library needs, tracked with its own
	// content hash.
	AuxFile struct {
		Name ModuleName `json:"name"`
		// FilePath is relative to the source+repository root. Empty means Name.
		FilePath  string      `json:"file,omitempty"`
		Hash      ContentHash `json:"hash"`
		Kind      AuxKind     `json:"kind,omitempty"`
		InitClass string      `json:"init_class,omitempty"`
	}

	// Library is one independently loadable module.
	Library struct {
		Name     ModuleName   `json:"name"`
		SourceID SourceID     `json:"-"`
		FilePath string       `json:"file"`
		Hash     ContentHash  `json:"hash"`
		Level    int          `json:"level"`
		Depends  []ModuleName `json:"depends,omitempty"`
		Replaces []ModuleName `json:"replaces,omitempty"`
		Aux      []AuxFile    `json:"aux,omitempty"`
	}

	// Catalog is one generation of a source's modules. Once handed to a
	// Store it must not be mutated.
	Catalog struct {
		// Version is the manifest version this catalog was built from.
		Version           string
		LoaderClass       string
		Environment       map[string]string
		ApplicationParams []string

		Installed map[ModuleName]Library
		Available map[ModuleName]Library
	}
)

// Path returns the aux file's path relative to its source root.
func (a AuxFile) Path() string {
	if a.FilePath != "" {
		return a.FilePath
	}
	return string(a.Name)
}

// IsJar reports whether the file belongs on the jar path.
func (a AuxFile) IsJar() bool { return a.Kind == AuxKindJar }

// Key is the name_sourceId key used to tell same-named libraries of
// different sources apart.
func (l Library) Key() string {
	return fmt.Sprintf("%s_%d", l.Name, l.SourceID)
}

// Validate checks the record's own fields. Cross-record constraints are
// checked by Check.
func (l Library) Validate() error {
	if err := l.Name.Validate(); err != nil {
		return err
	}
	if !filepath.IsLocal(filepath.FromSlash(l.FilePath)) {
		return fmt.Errorf("library %s: file path %q must be relative and stay inside the source root", l.Name, l.FilePath)
	}
	if err := l.Hash.Validate(); err != nil {
		return fmt.Errorf("library %s: %w", l.Name, err)
	}
	for _, aux := range l.Aux {
		if err := aux.Name.Validate(); err != nil {
			return fmt.Errorf("library %s: aux file: %w", l.Name, err)
		}
		if !filepath.IsLocal(filepath.FromSlash(aux.Path())) {
			return fmt.Errorf("library %s: aux file path %q must stay inside the source root", l.Name, aux.Path())
		}
		if err := aux.Hash.Validate(); err != nil {
			return fmt.Errorf("library %s: aux file %s: %w", l.Name, aux.Name, err)
		}
	}
	return nil
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		Installed: make(map[ModuleName]Library),
		Available: make(map[ModuleName]Library),
	}
}

// Lookup finds a library by name, preferring the installed view.
func (c *Catalog) Lookup(name ModuleName) (lib Library, installed, ok bool) {
	if lib, ok := c.Installed[name]; ok {
		return lib, true, true
	}
	lib, ok = c.Available[name]
	return lib, false, ok
}

// Names returns every name in either view, sorted.
func (c *Catalog) Names() []ModuleName {
	set := maps.Clone(c.Available)
	if set == nil {
		set = make(map[ModuleName]Library, len(c.Installed))
	}
	maps.Copy(set, c.Installed)
	return slices.Sorted(maps.Keys(set))
}

// Clone returns a copy whose maps can be modified independently. Library
// values are shared.
func (c *Catalog) Clone() *Catalog {
	out := *c
	out.Installed = maps.Clone(c.Installed)
	out.Available = maps.Clone(c.Available)
	out.Environment = maps.Clone(c.Environment)
	out.ApplicationParams = slices.Clone(c.ApplicationParams)
	if out.Installed == nil {
		out.Installed = make(map[ModuleName]Library)
	}
	if out.Available == nil {
		out.Available = make(map[ModuleName]Library)
	}
	return &out
}

// Merge combines per-source catalogs into a single view. Each name belongs
// to the first catalog that declares it, installed or available, so callers
// pass catalogs in source priority order. Environment entries resolve the
// same way, application params are concatenated, and the version and loader
// class are the first non-empty ones.
func Merge(catalogs ...*Catalog) *Catalog {
	out := New()
	out.Environment = make(map[string]string)
	claimed := make(map[ModuleName]bool)
	for _, c := range catalogs {
		if c == nil {
			continue
		}
		if out.Version == "" {
			out.Version = c.Version
		}
		if out.LoaderClass == "" {
			out.LoaderClass = c.LoaderClass
		}
		for _, name := range c.Names() {
			if claimed[name] {
				continue
			}
			claimed[name] = true
			if lib, ok := c.Installed[name]; ok {
				out.Installed[name] = lib
			}
			if lib, ok := c.Available[name]; ok {
				out.Available[name] = lib
			}
		}
		for k, v := range c.Environment {
			if _, set := out.Environment[k]; !set {
				out.Environment[k] = v
			}
		}
		out.ApplicationParams = append(out.ApplicationParams, c.ApplicationParams...)
	}
	return out
}
