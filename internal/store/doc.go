// Package store provides SQLite-backed durable storage for the SOVEREIGN ledger.
//
// The store implements an append-only log with:
//   - Ledger: findings written by workers (status is the only mutable column)
//   - Consensus Votes: one row per submitted vote, keyed by event hash
//   - System Status: remote control rows read by the kill switch
//
// # Critical Patterns
//
// Append-only: this package never deletes. Retention is an external concern.
//
// Forward-only status: UpdateStatus rejects backwards transitions with
// ErrInvalidTransition.
//
// Deterministic reads: every query ends with a seq tiebreaker so records
// sharing a created_at timestamp come back in a stable order.
//
// Typed failures: callers can tell "no data" (empty slice, nil error) from
// "store unreachable" (ErrUnavailable) from "row could not be decoded"
// (ErrMalformed).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Event hashes are computed by internal/record before votes reach the store.
package store
