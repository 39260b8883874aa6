// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"errors"
	"fmt"

	"github.com/modhost/modhost/internal/dag"
)

// ErrDuplicateModule is returned when a manifest declares a name twice.
var ErrDuplicateModule = errors.New("duplicate module")

// Check validates every library and the manifest's structure: names are
// unique and the combined depends/replaces graph is acyclic. The returned
// error wraps dag.ErrCycle for cycles.
func Check(m *Manifest) error {
	g := dag.New()
	seen := make(map[ModuleName]bool, len(m.Libraries))
	for _, lib := range m.Libraries {
		if err := lib.Validate(); err != nil {
			return err
		}
		if seen[lib.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, lib.Name)
		}
		seen[lib.Name] = true

		g.AddNode(string(lib.Name))
		for _, dep := range lib.Depends {
			g.AddEdge(string(lib.Name), string(dep))
		}
		for _, rep := range lib.Replaces {
			g.AddEdge(string(lib.Name), string(rep))
		}
	}

	if err := g.FindCycle(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}
