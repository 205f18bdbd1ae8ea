// Package journal provides SQLite-backed durable storage for graph edits
// and flatten-build manifests.
//
// The journal implements an append-only log with:
//   - Edits: one row per successful store mutation, in apply order
//   - Bakes: one manifest row per published flatten build
//
// Edits are serialized as canonical JSON with explicit value kinds, so an
// int opinion and a float opinion with the same numeric text survive a
// round trip. Each edit carries a content-addressed edit_id: SHA-256 with
// domain separation over the previous edit's ID plus the canonical edit
// document. Chaining keeps IDs independent of database sequence numbers
// while still distinguishing repeated identical mutations, and makes a
// retried append after an ambiguous failure a conflict-ignored no-op.
//
// All replay ordering uses seq INTEGER, never timestamps. recorded_at is
// informational only.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package journal
