// Package storage persists targets, incidents, notification records,
// runtime settings and channel subscriptions.
//
// Drivers:
//   - sqlite (modernc.org/sqlite, no cgo)
//   - file   (memory state + JSON snapshot)
//   - memory (tests, ephemeral runs)
package storage
