// Package snapshot persists the last observed detail blobs and display
// scores between runs.
//
// Both maps are stored together as one opaque blob. Drivers:
//   - "file":   a single file replaced atomically (tmp + rename)
//   - "sqlite": a single-row table in an SQLite database file
package snapshot
