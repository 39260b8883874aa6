// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout maps catalog records to local paths under a root directory:
//
//	<root>/manifests/<sourceId>_<repository>.cue
//	<root>/libs/<sourceId>/<repository>/<file>
type Layout struct {
	Root       string
	Repository Repository
}

// NewLayout returns a layout for root and repo.
func NewLayout(root string, repo Repository) Layout {
	return Layout{Root: root, Repository: repo}
}

// ManifestPath is where the local copy of a source's manifest is kept.
func (l Layout) ManifestPath(source SourceID) string {
	return filepath.Join(l.Root, "manifests", fmt.Sprintf("%d_%s.cue", source, l.Repository))
}

// LibsRoot is the directory holding every source's libraries.
func (l Layout) LibsRoot() string {
	return filepath.Join(l.Root, "libs")
}

// SourceDir is the library directory of one source.
func (l Layout) SourceDir(source SourceID) string {
	return filepath.Join(l.LibsRoot(), source.String(), string(l.Repository))
}

// ArtifactPath is the local path of lib's main artifact.
func (l Layout) ArtifactPath(lib Library) string {
	return filepath.Join(l.SourceDir(lib.SourceID), filepath.FromSlash(lib.FilePath))
}

// AuxPath is the local path of one of lib's auxiliary files.
func (l Layout) AuxPath(lib Library, aux AuxFile) string {
	return filepath.Join(l.SourceDir(lib.SourceID), filepath.FromSlash(aux.Path()))
}

// Files lists the artifact and every auxiliary path of lib.
func (l Layout) Files(lib Library) []string {
	out := make([]string, 0, 1+len(lib.Aux))
	out = append(out, l.ArtifactPath(lib))
	for _, aux := range lib.Aux {
		out = append(out, l.AuxPath(lib, aux))
	}
	return out
}

// NormalizeSource appends the trailing slash sources are keyed by.
func NormalizeSource(url string) string {
	url = strings.TrimSpace(url)
	if url != "" && !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return url
}
