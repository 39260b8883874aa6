// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modhost/modhost/pkg/cueutil"
)

// ErrManifestNotFound is returned by LoadManifest when no local manifest has
// been persisted yet. It wraps os.ErrNotExist.
var ErrManifestNotFound = fmt.Errorf("manifest not found: %w", os.ErrNotExist)

//go:embed manifest_schema.cue
var manifestSchema []byte

type (
	// Manifest is one catalog generation as published by a source.
	Manifest struct {
		Version           string            `json:"version"`
		LoaderClass       string            `json:"loader_class,omitempty"`
		Environment       map[string]string `json:"environment,omitempty"`
		ApplicationParams []string          `json:"application_params,omitempty"`
		Libraries         []Library         `json:"libraries"`
	}

	// VersionIndex names the latest manifest version of a repository.
	VersionIndex struct {
		Latest string `json:"latest"`
	}
)

// ParseManifest decodes and checks a manifest document. filename is only
// used in error messages.
func ParseManifest(data []byte, filename string) (*Manifest, error) {
	res, err := cueutil.ParseAndDecode[Manifest](manifestSchema, data, "#Manifest", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}
	if err := Check(res.Value); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return res.Value, nil
}

// ParseVersionIndex decodes a versions.cue document.
func ParseVersionIndex(data []byte, filename string) (*VersionIndex, error) {
	res, err := cueutil.ParseAndDecode[VersionIndex](manifestSchema, data, "#VersionIndex", cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// LoadManifest reads a persisted manifest. A missing file yields
// ErrManifestNotFound; any other failure, including a manifest that no
// longer passes Check, is returned as-is so corruption is never mistaken for
// absence.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Base(path))
}

// Marshal renders the manifest as CUE.
func (m *Manifest) Marshal() ([]byte, error) {
	out := *m
	if out.Libraries == nil {
		out.Libraries = []Library{}
	}
	return cueutil.Encode(&out)
}

// Save writes the manifest to path atomically.
func (m *Manifest) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// Index returns the manifest's libraries keyed by name, stamped with source.
func (m *Manifest) Index(source SourceID) map[ModuleName]Library {
	out := make(map[ModuleName]Library, len(m.Libraries))
	for _, lib := range m.Libraries {
		lib.SourceID = source
		out[lib.Name] = lib
	}
	return out
}

// Catalog builds a catalog generation with every library available and the
// ones accepted by installed marked as installed. A nil installed marks
// nothing.
func (m *Manifest) Catalog(source SourceID, installed func(Library) bool) *Catalog {
	c := New()
	c.Version = m.Version
	c.LoaderClass = m.LoaderClass
	c.Environment = m.Environment
	c.ApplicationParams = m.ApplicationParams
	c.Available = m.Index(source)
	if installed == nil {
		return c
	}
	for name, lib := range c.Available {
		if installed(lib) {
			c.Installed[name] = lib
		}
	}
	return c
}
