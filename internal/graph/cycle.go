package graph

import "github.com/meshula/primstack/internal/value"

// cyclePath looks for a path from start to goal over stored arc edges and
// returns it when found. Used at AddArc time: adding goal -> start closes a
// cycle exactly when start already reaches goal. Unloaded payload arcs
// count as edges; load state must never turn an illegal graph legal.
// Called with the write lock held.
func (s *Store) cyclePath(start, goal value.Path) ([]value.Path, bool) {
	if start == goal {
		return []value.Path{start}, true
	}
	visited := make(map[value.Path]struct{})
	var walk func(at value.Path, trail []value.Path) ([]value.Path, bool)
	walk = func(at value.Path, trail []value.Path) ([]value.Path, bool) {
		if _, ok := visited[at]; ok {
			return nil, false
		}
		visited[at] = struct{}{}
		trail = append(trail, at)

		ent, ok := s.entities[at]
		if !ok {
			return nil, false
		}
		for _, arc := range ent.arcs {
			if arc.Target == goal {
				return append(trail, goal), true
			}
			if found, ok := walk(arc.Target, trail); ok {
				return found, true
			}
		}
		return nil, false
	}
	return walk(start, nil)
}
