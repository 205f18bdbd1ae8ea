package graph

import (
	"sort"
	"sync/atomic"

	"github.com/meshula/primstack/internal/value"
)

// generationClock issues store-wide monotonic generation values. Entities
// never share or reuse a value, so a removed-and-recreated path can never
// revalidate a stale cache entry.
type generationClock struct {
	seq atomic.Uint64
}

func (c *generationClock) next() uint64 {
	return c.seq.Add(1)
}

// closure returns id plus every entity whose arcs transitively reach id,
// sorted. Arcs are acyclic by construction, so the walk terminates. Called
// with the write lock held.
func (s *Store) closure(id value.Path) []value.Path {
	seen := map[value.Path]struct{}{id: {}}
	frontier := []value.Path{id}
	for len(frontier) > 0 {
		next := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for src := range s.reverse[next] {
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			frontier = append(frontier, src)
		}
	}

	out := make([]value.Path, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// bump assigns a fresh generation to every affected entity that is still
// defined. Called with the write lock held.
func (s *Store) bump(affected []value.Path) {
	for _, p := range affected {
		if ent, ok := s.entities[p]; ok {
			ent.gen = s.clock.next()
		}
	}
}

// addReverse records one arc edge in the reverse index. Edges are counted
// because an entity may hold several arcs to the same target.
func (s *Store) addReverse(target, source value.Path) {
	m := s.reverse[target]
	if m == nil {
		m = make(map[value.Path]int)
		s.reverse[target] = m
	}
	m[source]++
}

// dropReverse removes one counted edge.
func (s *Store) dropReverse(target, source value.Path) {
	m := s.reverse[target]
	if m == nil {
		return
	}
	if m[source] <= 1 {
		delete(m, source)
		if len(m) == 0 {
			delete(s.reverse, target)
		}
		return
	}
	m[source]--
}
