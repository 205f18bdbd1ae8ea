// Package resolve walks composition arcs to answer property queries.
//
// The walk implements the fixed strength order: the entity's own local
// content first, then reference and payload arcs, then inherit, then
// specialize, each class in declaration order, recursing through
// target-bearing arcs. The first authored opinion wins and the walk stops.
// The requesting entity's schema default applies only when the entire walk
// finds nothing.
//
// A whole resolve runs inside one graph snapshot, so the dependency list it
// returns carries mutually consistent generations. Returned Map and
// Relation values are shared with store state and must not be mutated.
package resolve
