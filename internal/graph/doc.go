// Package graph is the composition graph store: entities, their local
// opinion blocks and variant sets, and the target-bearing arcs between them.
//
// The store owns all structural mutation. Every mutation is atomic: it
// validates fully before touching state, appends to the journal when one is
// attached, applies, bumps the generation of the mutated entity and of every
// entity whose arcs transitively reach it, and fires invalidation hooks, all
// before returning. Readers take consistent point-in-time snapshots through
// View and never observe partial edits.
//
// Arc cycles are rejected at mutation time. The resolution engine can
// therefore walk arcs without a cycle guard.
package graph
