// Package lattice implements the governed read/propose/commit boundary over
// the knowledge graph.
//
// # State handle
//
// A *Lattice owns every piece of mutable state: the DTU store, the edge
// graph, activation, merge stamps, the journal, proposals and staging.
// There is no package-level state; independent instances coexist in one
// process (one per test, one per tenant).
//
// # Locking
//
// One sync.RWMutex guards the handle. READ operations, queries and metrics
// take the read lock. Every mutation takes the write lock for its whole
// check-then-write sequence, so COMMIT's pending check and apply are atomic
// with respect to other callers. The subsystem packages (dtu, edge,
// activation, merge, journal) are unsynchronized and must only be reached
// through the handle.
//
// # Governance
//
//	PROPOSE  validates and stages; never writes canonical DTUs or edges
//	COMMIT   requires a gate trace; re-derives the write from the proposal
//	REJECT   only from pending; purges staging
//
// Apply failures mark the proposal conflict and return merge_conflict.
package lattice
