// Package store archives the lattice journal in SQLite.
//
// The archive mirrors the in-memory journal; it never holds canonical DTU or
// edge state. Tables:
//   - events: one row per journal event, keyed by seq
//   - event_refs: entity index (event entity plus payload refs)
//   - snapshots: compaction summaries
//   - meta: schema and core version of the writer, see Info
//
// # Ordering
//
// Every read orders by seq ASC. Seq is the journal's logical clock, so
// results are identical across replays regardless of wall time.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Archiving the same journal twice, or
// an overlapping tail of it, inserts each event once.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
