// Package store is the document persistence layer used by the scheduling
// core. It exposes a small collection/filter/batch-write API so the
// algorithms never touch a driver directly.
//
// Drivers:
//   - "memory": in-process map store (tests, dry runs)
//   - "sqlite": SQLite database file with extracted index columns
//
// All operations in one BatchWrite call are applied together or not at all.
package store
