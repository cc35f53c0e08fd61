// Package worker defines the contract every long-lived agent satisfies.
//
// A worker has an identity, writes findings to the ledger under that
// identity, and stops when told to. Base supplies the first three methods;
// concrete workers embed it and add Execute.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sovereign/internal/clock"
	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

const (
	// ShutdownAgentID and ShutdownMessageType identify an operator shutdown
	// record.
	ShutdownAgentID     = record.VIPAgentID
	ShutdownMessageType = record.MessageShutdown

	// ShutdownWindow is how far back a shutdown record still counts.
	ShutdownWindow = 60 * time.Second
)

// ErrKilled is returned by Run when the worker's kill signal is set.
var ErrKilled = errors.New("worker stopped by kill signal")

// Identity names a worker in the ledger.
type Identity struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// Worker is the agent contract.
type Worker interface {
	Identity() Identity
	WriteFinding(ctx context.Context, messageType string, payload record.Payload) error
	// CheckKillSignal reports whether the worker must stop.
	CheckKillSignal(ctx context.Context) bool
	Execute(ctx context.Context) (record.Payload, error)
}

// Ledger is the store access a worker needs.
type Ledger interface {
	Append(ctx context.Context, rec record.Record) (record.Record, error)
	Records(ctx context.Context, q store.Query) ([]record.Record, error)
}

// Guard is the kill switch.
type Guard interface {
	CheckActive(ctx context.Context) bool
}

// Base implements identity, finding writes and the kill signal.
type Base struct {
	id     Identity
	ledger Ledger
	guard  Guard
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Base.
type Option func(*Base)

// WithGuard makes the kill signal follow the kill switch.
func WithGuard(g Guard) Option {
	return func(b *Base) { b.guard = g }
}

func WithClock(c clock.Clock) Option {
	return func(b *Base) { b.clock = clock.OrReal(c) }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBase returns a Base for id. The agent ID must be non-empty.
func NewBase(id Identity, ledger Ledger, opts ...Option) (*Base, error) {
	if id.AgentID == "" {
		return nil, errors.New("worker: agent id is required")
	}
	if ledger == nil {
		return nil, errors.New("worker: ledger is required")
	}
	b := &Base{
		id:     id,
		ledger: ledger,
		clock:  clock.Real,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("agent_id", id.AgentID)
	return b, nil
}

func (b *Base) Identity() Identity { return b.id }

// Now reads the worker's clock.
func (b *Base) Now() time.Time { return b.clock.Now() }

// Logger returns the worker's logger, tagged with its agent ID.
func (b *Base) Logger() *slog.Logger { return b.logger }

// WriteFinding appends a pending record under the worker's identity.
func (b *Base) WriteFinding(ctx context.Context, messageType string, payload record.Payload) error {
	rec, err := b.ledger.Append(ctx, record.Record{
		AgentID:     b.id.AgentID,
		AgentType:   b.id.AgentType,
		MessageType: messageType,
		Payload:     payload,
	})
	if err != nil {
		b.logger.Error("finding write failed",
			"event", "finding_write_failed",
			"module", "worker",
			"message_type", messageType,
			"error", err,
		)
		return fmt.Errorf("write finding %s: %w", messageType, err)
	}
	b.logger.Debug("finding written", "message_type", messageType, "record_id", rec.ID)
	return nil
}

// CheckKillSignal is true when the kill switch is not active or an operator
// shutdown record was written within ShutdownWindow. A ledger read failure
// does not stop the worker.
func (b *Base) CheckKillSignal(ctx context.Context) bool {
	if b.guard != nil && !b.guard.CheckActive(ctx) {
		return true
	}
	recs, err := b.ledger.Records(ctx, store.Query{
		AgentID:     ShutdownAgentID,
		MessageType: ShutdownMessageType,
		Since:       b.clock.Now().Add(-ShutdownWindow),
		Limit:       1,
	})
	if err != nil {
		b.logger.Warn("shutdown check failed",
			"event", "shutdown_check_failed",
			"module", "worker",
			"error", err,
		)
		return false
	}
	return len(recs) > 0
}

// Shutdown writes an operator shutdown record. Every worker sees it on its
// next kill-signal check for ShutdownWindow.
func Shutdown(ctx context.Context, ledger Ledger, reason string) error {
	_, err := ledger.Append(ctx, record.Record{
		AgentID:     ShutdownAgentID,
		AgentType:   "operator",
		MessageType: ShutdownMessageType,
		Payload:     record.Payload{"reason": reason},
	})
	if err != nil {
		return fmt.Errorf("write shutdown: %w", err)
	}
	return nil
}
