// SPDX-License-Identifier: MPL-2.0

// Package dag provides a small directed graph with topological ordering and
// cycle detection. Catalog validation uses it to reject manifests whose
// depends/replaces relations loop back on themselves.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is the sentinel wrapped by CycleError.
var ErrCycle = errors.New("dependency cycle detected")

type (
	// CycleError reports the nodes that keep the graph from being ordered.
	// When produced by FindCycle, Cycle is a closed path (first == last).
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph keyed by string. An edge from A to B means
	// A must be ordered before B.
	Graph struct {
		adjacency map[string][]string
		// nodes keeps insertion order so results are deterministic.
		nodes   []string
		nodeSet map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge adds from -> to, creating either node as needed.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// TopologicalSort orders the graph with Kahn's algorithm. Nodes on the same
// level keep insertion order. A cyclic graph yields a *CycleError listing
// every node left with unresolved in-edges.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var stuck []string
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				stuck = append(stuck, node)
			}
		}
		return nil, &CycleError{Cycle: stuck}
	}

	return result, nil
}

// FindCycle returns a *CycleError holding one concrete cycle path, or nil
// when the graph is acyclic.
func (g *Graph) FindCycle() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		state[node] = onStack
		stack = append(stack, node)
		for _, next := range g.adjacency[node] {
			switch state[next] {
			case onStack:
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				return append(cycle, next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range g.nodes {
		if state[node] != unvisited {
			continue
		}
		if cycle := visit(node); cycle != nil {
			return &CycleError{Cycle: cycle}
		}
	}
	return nil
}
