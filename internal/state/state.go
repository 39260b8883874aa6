// SPDX-License-Identifier: MPL-2.0

// Package state persists the host's machine-managed state: the registry of
// catalog sources and the time of the last update check.
//
// The state lives in its own CUE file next to the catalogs, separate from
// the user's configuration. Every change is written through immediately
// with a temp-file rename.
package state

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/modhost/modhost/pkg/catalog"
	"github.com/modhost/modhost/pkg/cueutil"
)

// FileName is the state file's name under the root directory.
const FileName = "state.cue"

// ErrEmptySource is returned when registering a blank source URL.
var ErrEmptySource = errors.New("source URL is empty")

//go:embed state_schema.cue
var stateSchema []byte

type (
	// Source is one registered catalog source.
	Source struct {
		ID  catalog.SourceID `json:"id"`
		URL string           `json:"url"`
	}

	// Registry is the loaded state file. It is safe for concurrent use.
	Registry struct {
		path string

		mu   sync.Mutex
		file stateFile
	}

	stateFile struct {
		NextID    int      `json:"next_id"`
		Sources   []Source `json:"sources"`
		LastCheck string   `json:"last_check"`
	}
)

// Path returns the state file path under root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Open loads the state file at path. A missing file yields an empty registry
// that is created on the first change.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, file: stateFile{Sources: []Source{}}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	result, err := cueutil.ParseAndDecode[stateFile](stateSchema, data, "#State", cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}
	r.file = *result.Value
	if r.file.Sources == nil {
		r.file.Sources = []Source{}
	}
	return r, nil
}

// Path is where the registry is persisted.
func (r *Registry) Path() string { return r.path }

// Register returns the id of url, assigning the next free id and saving the
// state when url is new. URLs are normalized to end with a slash.
func (r *Registry) Register(url string) (catalog.SourceID, error) {
	url = catalog.NormalizeSource(url)
	if url == "" {
		return 0, ErrEmptySource
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.file.Sources {
		if s.URL == url {
			return s.ID, nil
		}
	}

	src := Source{ID: catalog.SourceID(r.file.NextID), URL: url}
	r.file.Sources = append(r.file.Sources, src)
	r.file.NextID++
	if err := r.save(); err != nil {
		r.file.Sources = r.file.Sources[:len(r.file.Sources)-1]
		r.file.NextID--
		return 0, err
	}
	return src.ID, nil
}

// Lookup returns the source registered under id.
func (r *Registry) Lookup(id catalog.SourceID) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.file.Sources, func(s Source) bool { return s.ID == id })
	if i < 0 {
		return Source{}, false
	}
	return r.file.Sources[i], true
}

// Sources lists registered sources in registration order.
func (r *Registry) Sources() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.file.Sources)
}

// LastCheck returns the time of the last update check, or the zero time.
func (r *Registry) LastCheck() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := time.Parse(time.RFC3339, r.file.LastCheck)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetLastCheck records t as the last update check and saves the state.
func (r *Registry) SetLastCheck(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file.LastCheck = t.UTC().Format(time.RFC3339)
	return r.save()
}

func (r *Registry) save() error {
	data, err := cueutil.Encode(&r.file)
	if err != nil {
		return err
	}

	header := []byte("// Machine-managed modhost state. Do not edit.\n\n")
	data = append(header, data...)

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
