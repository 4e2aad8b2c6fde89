// Package store provides SQLite-backed durable storage for calt sessions.
//
// The store keeps:
//   - Sessions, plan versions and their steps
//   - Approvals: one per plan version and one per step
//   - Runs: at most one terminal run per step instance
//   - Events: an append-only audit log, ordered by seq
//   - Artifacts: metadata for files written under the session directory
//
// # Atomicity
//
// Every operation that changes more than one row (import, approval, step
// start, step finish, stop) runs in a single transaction together with the
// events describing it. Session status changes inside those transactions go
// through the domain state machine, so a concurrent stop is never
// overwritten by a finishing step.
//
// # Events
//
// UPDATE and DELETE on events abort via triggers. When the driver is built
// with FTS5 (go build -tags sqlite_fts5), an external-content index
// projects summary and payload text; otherwise search scans with LIKE.
//
// # Redaction
//
// Event summaries and payloads, run outputs and error messages pass through
// the store's Redactor before they are written.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
