// SPDX-License-Identifier: MPL-2.0

// Package resolve computes load-ordered module sets from a catalog.
//
// Resolution is depth-first and memoized by name within one pass. Libraries
// found in the catalog's installed view are appended to the result and their
// dependencies expanded. A library's replaces list is applied after its own
// dependencies: replaced modules resolved earlier are evicted, and ones
// reached later are skipped, so request order never brings them back.
// Evicted modules contribute no jars or init classes. The final list is
// stably sorted by level.
//
// Missing modules are never an error: when collection is enabled they are
// reported in Result.Missing, with their dependencies expanded so a complete
// retrieval plan can be built. The only error Resolve returns is a
// *CycleError for a dependency loop.
package resolve

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/modhost/modhost/pkg/catalog"
)

// ErrDependencyCycle is the sentinel wrapped by CycleError.
var ErrDependencyCycle = errors.New("circular dependency detected")

type (
	// CycleError reports a module that was reached again while it was
	// still being resolved. Path ends with the repeated module.
	CycleError struct {
		Path []catalog.ModuleName
	}

	// Request describes one resolution pass.
	Request struct {
		Modules []catalog.ModuleName
		// CollectMissing expands modules that are only available remotely
		// into Result.Missing.
		CollectMissing bool
	}

	// Module is one resolved library and its local artifact path.
	Module struct {
		Library catalog.Library
		Path    string
	}

	// Result is the outcome of a resolution pass.
	Result struct {
		// Modules is in load order.
		Modules []Module
		// Jars are the local paths of jar-kind auxiliary files, in first
		// encounter order.
		Jars []string
		// InitClasses need static initialization before loading, in first
		// encounter order.
		InitClasses []string
		// Satisfied is true when no requested module or dependency was
		// missing.
		Satisfied bool
		// Missing maps modules to fetch to their catalog records. Only
		// populated with Request.CollectMissing.
		Missing map[catalog.ModuleName]catalog.Library
	}

	resolver struct {
		cat     *catalog.Catalog
		layout  catalog.Layout
		collect bool

		modules  []catalog.Library
		resolved map[catalog.ModuleName]bool
		// evicted holds every name some resolved module replaces.
		evicted map[catalog.ModuleName]bool
		// absent holds names that were neither installed nor evicted when
		// reached.
		absent  map[catalog.ModuleName]bool
		missing map[catalog.ModuleName]catalog.Library

		inProgress map[catalog.ModuleName]bool
		stack      []catalog.ModuleName
	}
)

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, n := range e.Path {
		parts[i] = string(n)
	}
	return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(parts, " -> "))
}

// Unwrap returns ErrDependencyCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// Resolve runs one resolution pass over cat. Artifact and jar paths are
// computed with layout.
func Resolve(req Request, cat *catalog.Catalog, layout catalog.Layout) (*Result, error) {
	if cat == nil {
		cat = catalog.New()
	}
	r := &resolver{
		cat:        cat,
		layout:     layout,
		collect:    req.CollectMissing,
		resolved:   make(map[catalog.ModuleName]bool),
		evicted:    make(map[catalog.ModuleName]bool),
		absent:     make(map[catalog.ModuleName]bool),
		missing:    make(map[catalog.ModuleName]catalog.Library),
		inProgress: make(map[catalog.ModuleName]bool),
	}

	for _, name := range req.Modules {
		if err := r.add(name); err != nil {
			return nil, err
		}
	}

	// A name can be marked absent before a later module replaces it.
	satisfied := true
	for name := range r.absent {
		if !r.evicted[name] {
			satisfied = false
		}
	}
	for name := range r.evicted {
		delete(r.missing, name)
	}

	res := &Result{
		Modules:   make([]Module, 0, len(r.modules)),
		Satisfied: satisfied,
	}
	res.Jars, res.InitClasses = r.auxiliaries()

	// Level is the only ordering signal; ties keep encounter order.
	sort.SliceStable(r.modules, func(i, j int) bool {
		return r.modules[i].Level < r.modules[j].Level
	})
	for _, lib := range r.modules {
		res.Modules = append(res.Modules, Module{Library: lib, Path: layout.ArtifactPath(lib)})
	}
	if req.CollectMissing {
		res.Missing = r.missing
	}
	return res, nil
}

func (r *resolver) add(name catalog.ModuleName) error {
	if r.inProgress[name] {
		path := slices.Clone(r.stack)
		if i := slices.Index(path, name); i >= 0 {
			path = path[i:]
		}
		return &CycleError{Path: append(path, name)}
	}
	if r.resolved[name] || r.evicted[name] {
		return nil
	}

	if lib, ok := r.cat.Installed[name]; ok {
		return r.addInstalled(lib)
	}

	r.absent[name] = true
	if r.collect {
		if _, seen := r.missing[name]; !seen {
			if lib, ok := r.cat.Available[name]; ok {
				r.missing[name] = lib
				return r.expand(lib)
			}
		}
	}
	return nil
}

func (r *resolver) addInstalled(lib catalog.Library) error {
	r.modules = append(r.modules, lib)
	r.resolved[lib.Name] = true

	r.enter(lib.Name)
	defer r.leave(lib.Name)

	for _, dep := range lib.Depends {
		if err := r.add(dep); err != nil {
			return err
		}
	}

	for _, name := range lib.Replaces {
		if name != lib.Name {
			r.evicted[name] = true
		}
	}
	if len(lib.Replaces) > 0 {
		r.modules = slices.DeleteFunc(r.modules, func(m catalog.Library) bool {
			return r.evicted[m.Name]
		})
	}
	return nil
}

// auxiliaries collects jar paths and init classes of the surviving modules
// in encounter order, without duplicates.
func (r *resolver) auxiliaries() (jars, initClasses []string) {
	jarSet := make(map[string]bool)
	initSet := make(map[string]bool)
	for _, lib := range r.modules {
		for _, aux := range lib.Aux {
			if aux.IsJar() {
				if p := r.layout.AuxPath(lib, aux); !jarSet[p] {
					jarSet[p] = true
					jars = append(jars, p)
				}
			}
			if aux.InitClass != "" && !initSet[aux.InitClass] {
				initSet[aux.InitClass] = true
				initClasses = append(initClasses, aux.InitClass)
			}
		}
	}
	return jars, initClasses
}

// expand walks a missing library's dependencies for retrieval planning.
func (r *resolver) expand(lib catalog.Library) error {
	r.enter(lib.Name)
	defer r.leave(lib.Name)

	for _, dep := range lib.Depends {
		if err := r.add(dep); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) enter(name catalog.ModuleName) {
	r.inProgress[name] = true
	r.stack = append(r.stack, name)
}

func (r *resolver) leave(name catalog.ModuleName) {
	delete(r.inProgress, name)
	r.stack = r.stack[:len(r.stack)-1]
}

// Paths returns the artifact paths in load order.
func (res *Result) Paths() []string {
	out := make([]string, len(res.Modules))
	for i, m := range res.Modules {
		out[i] = m.Path
	}
	return out
}

// Names returns the resolved module names in load order.
func (res *Result) Names() []catalog.ModuleName {
	out := make([]catalog.ModuleName, len(res.Modules))
	for i, m := range res.Modules {
		out[i] = m.Library.Name
	}
	return out
}

// MissingNames returns the sorted names of Missing.
func (res *Result) MissingNames() []catalog.ModuleName {
	return slices.Sorted(maps.Keys(res.Missing))
}
