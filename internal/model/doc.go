// Package model defines the entities of the bug-injection provenance record:
// source lvals, taint label sets, DUAs, attack points, synthesized bugs, and
// the build/run ledger entries that track their fate.
//
// Entities are immutable once persisted and link to each other by surrogate
// ID, never by value copy. Each entity declares a uniqueness key; the store
// enforces it so that concurrent analysis workers converge on one canonical
// row per key. Non-key fields of a losing candidate are dropped on key match
// (first-write-wins) - see store.FindOr* for the sharp edge.
package model
