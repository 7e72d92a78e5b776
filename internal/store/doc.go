// Package store provides the Local Metadata Store: SQLite-backed durable
// storage of slot metadata and payloads for one local file.
//
// # Layout
//
//   - slots: one metadata row per slot, keyed by the 16-byte binary ID and
//     indexed by type so listing a type is a single indexed query.
//   - payloads: payload bytes in a companion table keyed by the same ID, so
//     metadata listing never reads payload pages.
//
// # Invariants
//
//   - hash and payload are written in one transaction: a reader never sees a
//     metadata row whose hash does not match the stored payload.
//   - last_modified is stamped by the store at write time (Unix nanoseconds);
//     caller-supplied timestamps are ignored.
//   - A file is owned by exactly one Store handle. Open takes an advisory
//     lock on "<path>.lock" and fails with StorageUnavailable if another
//     handle holds it.
//
// A Store is not safe for concurrent use; callers serialize access.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers from other processes during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: payload rows follow their slot row
//
// Schema changes are goose migrations embedded from migrations/.
package store
