package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/meshula/primstack/internal/value"
)

// Cycle is one cycle among a document's declared target-bearing arcs. Path
// is a closed walk through the cycle's members, first and last equal.
type Cycle struct {
	Path    []value.Path `json:"path"`
	Message string       `json:"message"`
}

// AnalyzeCycles finds every arc cycle in a compiled document before any
// store mutation is attempted. The store rejects the single arc that would
// close a cycle; this whole-document pass instead reports all cycles at
// once, so validation output covers the full document in one run.
//
// Unloaded payload arcs count as edges, matching the store: load state
// never turns an illegal graph legal. Arcs to paths the document does not
// declare cannot close a cycle and are ignored.
//
// The algorithm:
//  1. Build the entity -> entity edge set from declared reference,
//     payload, inherit, and specialize arcs.
//  2. Find strongly connected components with Tarjan's algorithm.
//  3. Report each SCC of size > 1, and each self-loop, as one cycle.
//
// A DAG returns nil.
func AnalyzeCycles(c *Compiled) []Cycle {
	graph := buildArcGraph(c)
	sccs := tarjanSCC(graph)

	var cycles []Cycle
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	slices.SortFunc(cycles, func(a, b Cycle) int {
		return strings.Compare(string(a.Path[0]), string(b.Path[0]))
	})
	return cycles
}

// arcGraph maps each declared entity to the declared entities its arcs
// target, in declaration order.
type arcGraph map[value.Path][]value.Path

func buildArcGraph(c *Compiled) arcGraph {
	declared := make(map[value.Path]bool, len(c.Entities))
	for _, ent := range c.Entities {
		declared[ent.Path] = true
	}

	graph := make(arcGraph, len(c.Entities))
	for _, ent := range c.Entities {
		edges := []value.Path{}
		add := func(target value.Path) {
			if declared[target] {
				edges = append(edges, target)
			}
		}
		for _, t := range ent.References {
			add(t)
		}
		for _, p := range ent.Payloads {
			add(p.Target)
		}
		for _, t := range ent.Inherits {
			add(t)
		}
		for _, t := range ent.Specializes {
			add(t)
		}
		graph[ent.Path] = edges
	}
	return graph
}

func hasSelfLoop(node value.Path, graph arcGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components. Nodes are visited in
// sorted path order so the output is deterministic for a given document.
func tarjanSCC(graph arcGraph) [][]value.Path {
	var (
		index   = 0
		stack   []value.Path
		indices = make(map[value.Path]int)
		lowlink = make(map[value.Path]int)
		onStack = make(map[value.Path]bool)
		sccs    [][]value.Path
	)

	var strongConnect func(value.Path)
	strongConnect = func(v value.Path) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []value.Path
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]value.Path, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// sccToCycle renders one SCC as a closed walk starting from its smallest
// member path.
func sccToCycle(scc []value.Path, graph arcGraph) Cycle {
	if len(scc) == 1 {
		node := scc[0]
		return Cycle{
			Path:    []value.Path{node, node},
			Message: fmt.Sprintf("entity %s has an arc to itself", node),
		}
	}

	slices.Sort(scc)
	path := reconstructCyclePath(scc, graph)

	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = string(p)
	}
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("arc cycle: %s", strings.Join(parts, " -> ")),
	}
}

// reconstructCyclePath walks edges within the SCC from its first member
// until the walk returns to the start.
func reconstructCyclePath(scc []value.Path, graph arcGraph) []value.Path {
	sccSet := make(map[value.Path]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []value.Path{current}
	visited := make(map[value.Path]bool)

	for {
		visited[current] = true

		var next value.Path
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
