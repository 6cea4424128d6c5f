// Package storage defines the persistence interfaces for rollbook.
//
// It provides a high-level abstraction for storing learner roster records,
// the append-only attendance ledger and the birthday greeting log. The
// SQLite implementation of these interfaces lives in the sqlite subpackage.
//
// # Error Types
//
// The package defines common error types used across storage implementations:
//   - ErrNotFound: Indicates a requested record is missing.
//   - ErrAlreadyExists: Indicates a uniqueness-constrained record already exists.
package storage
