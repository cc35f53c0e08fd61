// Package record provides the ledger data model for SOVEREIGN.
//
// This package contains the record and vote types shared by every other
// internal package, plus the canonical JSON encoding used to fingerprint
// evidence. record imports nothing internal.
//
// Key design constraints:
//   - Ledger records are immutable once written except for Status
//   - Status only moves forward: pending → active → confirmed → published
//   - Event fingerprints depend only on evidence content, never on key order
//   - All JSON tags use snake_case
package record
