// Package store provides SQLite-backed durable storage for the bug-injection
// provenance record.
//
// The store is an append-only record set with one table per entity:
//   - source_lvals, source_functions: canonical source locations
//   - label_sets, duas: per-run taint summaries
//   - attack_points: candidate unsafe-use sites
//   - source_modifications, bugs: byte-selection attempts and synthesized bugs
//   - builds, build_bugs, runs: the compile/execute ledger
//   - calls: call/return instruction spans
//
// # Critical Patterns
//
// Identity by uniqueness key: every deduplicated entity declares a key and
// the schema enforces it with a UNIQUE index. FindOrInsert* methods perform
// INSERT ... ON CONFLICT DO NOTHING inside a transaction and, on conflict,
// read back the existing row. Racing workers therefore always converge on a
// single canonical row per key - the unique index is the only
// synchronization primitive.
//
// First-write-wins: on key match the candidate is discarded even if its
// non-key fields differ from the stored row. Key equality is treated as
// semantic equality; divergent non-key fields in later candidates are
// silently dropped. This is a known sharp edge, not a bug.
//
// Vector-valued fields (labels, viable_bytes, selected_bytes) are stored as
// compact JSON arrays in TEXT columns so UNIQUE indexes compare them by
// value. Viable-byte gaps serialize as JSON null to preserve byte alignment.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: every non-null reference is a required foreign key;
//     a dangling reference aborts the offending insert
package store
