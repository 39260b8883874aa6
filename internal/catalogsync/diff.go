// SPDX-License-Identifier: MPL-2.0

package catalogsync

import (
	"maps"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/metrics"
	"github.com/modhost/modhost/pkg/catalog"
)

type (
	// ArtifactRemover deletes one local file. Implementations treat an
	// already-missing file as success.
	ArtifactRemover interface {
		RemoveArtifact(path string) error
	}

	// DiffResult lists the installed modules a new manifest invalidated.
	DiffResult struct {
		// Changed holds the new records of modules whose content changed,
		// keyed by catalog.Library.Key (name_sourceId).
		Changed map[string]catalog.Library
		// Removed names modules the new manifest no longer declares, sorted.
		Removed []catalog.ModuleName
	}
)

// Diff compares the installed view of a source with a freshly fetched
// manifest and deletes the old artifact and auxiliary files of every removed
// or changed module through remover. A failed deletion is logged and does
// not stop the diff. Modules that only exist in newManifest are not
// reported.
//
// Only content hashes decide whether a module changed.
func Diff(
	source catalog.SourceID,
	oldInstalled map[catalog.ModuleName]catalog.Library,
	newManifest map[catalog.ModuleName]catalog.Library,
	layout catalog.Layout,
	remover ArtifactRemover,
	logger *log.Logger,
) DiffResult {
	res := Compare(source, oldInstalled, newManifest)
	Cleanup(res, oldInstalled, layout, remover, logger)
	return res
}

// Compare is Diff without the file-system side effects.
func Compare(
	source catalog.SourceID,
	oldInstalled map[catalog.ModuleName]catalog.Library,
	newManifest map[catalog.ModuleName]catalog.Library,
) DiffResult {
	res := DiffResult{Changed: make(map[string]catalog.Library)}

	for _, name := range slices.Sorted(maps.Keys(oldInstalled)) {
		next, ok := newManifest[name]
		switch {
		case !ok:
			res.Removed = append(res.Removed, name)
		case changed(oldInstalled[name], next):
			next.SourceID = source
			res.Changed[next.Key()] = next
		}
	}

	label := source.String()
	metrics.CatalogChangesTotal.WithLabelValues(label, "changed").Add(float64(len(res.Changed)))
	metrics.CatalogChangesTotal.WithLabelValues(label, "removed").Add(float64(len(res.Removed)))
	return res
}

// Invalidated returns the names of every removed or changed module.
func (r DiffResult) Invalidated() []catalog.ModuleName {
	out := slices.Clone(r.Removed)
	for _, lib := range r.Changed {
		out = append(out, lib.Name)
	}
	slices.Sort(out)
	return out
}

// Cleanup deletes the old files of every module res invalidated.
func Cleanup(
	res DiffResult,
	oldInstalled map[catalog.ModuleName]catalog.Library,
	layout catalog.Layout,
	remover ArtifactRemover,
	logger *log.Logger,
) {
	for _, name := range res.Invalidated() {
		old, ok := oldInstalled[name]
		if !ok {
			continue
		}
		for _, path := range layout.Files(old) {
			if err := remover.RemoveArtifact(path); err != nil {
				metrics.CleanupFailuresTotal.Inc()
				logger.Warn("failed to delete artifact", "module", name, "path", path, "error", err)
			}
		}
	}
}

// changed reports whether next differs from old by hash or by the
// name+hash identity of its auxiliary files.
func changed(old, next catalog.Library) bool {
	if !old.Hash.Equal(next.Hash) {
		return true
	}
	return !sameAux(old.Aux, next.Aux)
}

func sameAux(a, b []catalog.AuxFile) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !slices.ContainsFunc(b, func(y catalog.AuxFile) bool {
			return x.Name == y.Name && x.Hash.Equal(y.Hash)
		}) {
			return false
		}
	}
	return true
}
