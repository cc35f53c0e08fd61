package store

import (
	"context"
	"time"

	"github.com/roach88/sovereign/internal/record"
)

// Ledger is the full contract of a ledger backend.
// *Store (SQLite) and *pgstore.Store (Postgres) implement it. Components
// depend on the narrower interfaces they declare themselves.
type Ledger interface {
	// Append inserts a record. The ledger assigns ID and CreatedAt and
	// defaults Status to pending; the stored record is returned.
	Append(ctx context.Context, rec record.Record) (record.Record, error)

	// Records returns records matching q. No matches is an empty slice.
	Records(ctx context.Context, q Query) ([]record.Record, error)

	// Get returns one record by ID or ErrNotFound.
	Get(ctx context.Context, id string) (record.Record, error)

	// UpdateStatus moves a record forward in its lifecycle.
	UpdateStatus(ctx context.Context, id string, status record.Status) error

	// Count returns the number of ledger records.
	Count(ctx context.Context) (int64, error)

	// AppendVote inserts a vote. The ledger assigns ID and CreatedAt and
	// defaults Status to pending.
	AppendVote(ctx context.Context, v record.Vote) (record.Vote, error)

	// Votes returns every vote for an event hash, oldest first.
	Votes(ctx context.Context, eventHash string) ([]record.Vote, error)

	// ConfirmVotes marks every pending vote for eventHash confirmed and
	// returns how many rows changed.
	ConfirmVotes(ctx context.Context, eventHash string) (int64, error)

	// PendingEventHashes returns distinct event hashes with at least one
	// pending vote, sorted.
	PendingEventHashes(ctx context.Context) ([]string, error)

	// SystemStatus returns the latest status row. ok is false when no row
	// has ever been written.
	SystemStatus(ctx context.Context) (status record.SystemStatus, ok bool, err error)

	// SetKillSignal appends a status row.
	SetKillSignal(ctx context.Context, signal, reason string) error

	// Mode returns the current operating mode.
	Mode(ctx context.Context) (record.Mode, error)

	// SetMode appends a status row switching the operating mode.
	SetMode(ctx context.Context, mode record.Mode, reason string) error

	Ping(ctx context.Context) error
	Close() error
}

var _ Ledger = (*Store)(nil)

// Order selects the sort direction of a record query.
type Order int

const (
	// NewestFirst sorts by created_at descending. This is the default and
	// matches how the monitor walks a window.
	NewestFirst Order = iota
	// OldestFirst sorts by created_at ascending.
	OldestFirst
)

// Query filters, orders and limits a record read.
// Zero-valued fields do not filter.
type Query struct {
	MessageType string
	AgentID     string // exact match
	AgentFamily string // substring of agent_id
	Status      record.Status
	Since       time.Time // inclusive lower bound on created_at
	Until       time.Time // exclusive upper bound on created_at
	Order       Order
	Limit       int
}
