// Package store provides SQLite-backed durable storage for the allocation engine.
//
// The store holds:
//   - Status records: completion count per (event, unit)
//   - Status consumers: the consumed-by set per (event, unit)
//   - Claims: at most one per (reviewer, event), at most one per (event, unit)
//   - Exceptions: append-only skip and flag log
//   - Reviews / review flags: minimal review content used as the engine's
//     review collaborator when no external one is wired
//
// # Critical Patterns
//
// Claim exclusivity is enforced twice: the engine serializes selection per
// event, and the claims table carries UNIQUE(reviewer, event) and
// UNIQUE(event, unit). An insert that loses a race surfaces as
// repo.ErrClaimConflict.
//
// Every transaction is opened with _txlock=immediate, so the write lock is
// taken at BEGIN and a read-then-insert sequence cannot interleave with
// another writer.
//
// All list queries carry an explicit ORDER BY; nothing relies on row order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as INTEGER unix nanoseconds and read back in UTC.
package store
