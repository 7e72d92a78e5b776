// Package slot defines the data model shared by local stores, remote
// sources and the synchronization manager.
//
// A slot is one persisted simulation artifact (vehicle, vehicle component,
// level or actor). Its metadata (Info) and its payload bytes are stored and
// transferred independently so that listing never forces a payload transfer.
//
// # Identity and content
//
//   - ID: a UUID assigned once and never changed; the primary key in every
//     local store and remote source.
//   - Hash: SHA-256 of the payload bytes only (see Sum). Two copies with equal
//     hashes are treated as equal content during reconciliation.
//   - LastModified: stamped by the local store at write time, never taken
//     from the caller.
//
// # Synchronization status
//
// SyncStatus is derived, never persisted. Classify computes it for one
// (local, remote) pair. Timestamps are compared at one-second resolution,
// the resolution of the remote wire format.
package slot
