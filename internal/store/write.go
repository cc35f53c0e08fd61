package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sovereign/internal/record"
)

// Append inserts a record into the ledger.
// ID and CreatedAt are always assigned by the store; Status defaults to pending.
// CreatedAt is taken inside the write transaction, which holds the store's
// only connection: a window read that started before the stamp has already
// finished, and one that starts after it waits for the commit.
func (s *Store) Append(ctx context.Context, rec record.Record) (record.Record, error) {
	if rec.Status == "" {
		rec.Status = record.StatusPending
	}
	if !rec.Status.Valid() {
		return record.Record{}, fmt.Errorf("append record: unknown status %q", rec.Status)
	}
	if rec.AgentID == "" || rec.MessageType == "" {
		return record.Record{}, fmt.Errorf("append record: agent_id and message_type are required")
	}

	payloadJSON, err := marshalPayload(rec.Payload)
	if err != nil {
		return record.Record{}, fmt.Errorf("append record: %w", err)
	}

	rec.ID = s.newID()
	if rec.Payload == nil {
		rec.Payload = record.Payload{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, unavailable("append record: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	rec.CreatedAt = s.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger
		(id, agent_id, agent_type, message_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.AgentID,
		rec.AgentType,
		rec.MessageType,
		payloadJSON,
		string(rec.Status),
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return record.Record{}, unavailable("append record", err)
	}
	if err := tx.Commit(); err != nil {
		return record.Record{}, unavailable("append record: commit", err)
	}
	return rec, nil
}

// UpdateStatus moves a record forward in its lifecycle.
// Returns ErrNotFound for unknown IDs and ErrInvalidTransition when the
// update would move the record backwards. Re-applying the current status
// is a no-op.
func (s *Store) UpdateStatus(ctx context.Context, id string, status record.Status) error {
	if !status.Valid() {
		return fmt.Errorf("update status: unknown status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("update status: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM ledger WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return unavailable("update status: select", err)
	}

	if !record.Status(current).CanTransition(status) {
		return fmt.Errorf("update status %s: %s -> %s: %w", id, current, status, ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ledger SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return unavailable("update status: update", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("update status: commit", err)
	}
	return nil
}

// AppendVote inserts a vote into consensus_votes.
// ID and CreatedAt are assigned by the store; Status defaults to pending.
// Duplicate votes from the same agent are stored as separate rows.
func (s *Store) AppendVote(ctx context.Context, v record.Vote) (record.Vote, error) {
	if v.EventHash == "" {
		return record.Vote{}, fmt.Errorf("append vote: event_hash is required")
	}
	if v.Status == "" {
		v.Status = record.VotePending
	}

	evidenceJSON, err := marshalPayload(v.Evidence)
	if err != nil {
		return record.Vote{}, fmt.Errorf("append vote: %w", err)
	}

	v.ID = s.newID()
	v.CreatedAt = s.timestamp()
	if v.Evidence == nil {
		v.Evidence = record.Payload{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consensus_votes
		(id, event_hash, agent_id, agent_type, vote_category, confidence_score, evidence_payload, vote_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID,
		v.EventHash,
		v.AgentID,
		v.AgentType,
		v.Category,
		v.ConfidenceScore,
		evidenceJSON,
		string(v.Status),
		v.CreatedAt.UnixNano(),
	)
	if err != nil {
		return record.Vote{}, unavailable("append vote", err)
	}
	return v, nil
}

// ConfirmVotes transitions every pending vote for eventHash to confirmed.
// Safe to call repeatedly: already-confirmed votes are untouched and the
// returned count is then zero.
func (s *Store) ConfirmVotes(ctx context.Context, eventHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consensus_votes
		SET vote_status = 'confirmed'
		WHERE event_hash = ? AND vote_status = 'pending'
	`, eventHash)
	if err != nil {
		return 0, unavailable("confirm votes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("confirm votes: rows affected", err)
	}
	return n, nil
}

// SetKillSignal appends a system status row. The latest row wins; the
// current mode is carried over from it.
func (s *Store) SetKillSignal(ctx context.Context, signal, reason string) error {
	if signal == "" {
		return fmt.Errorf("set kill signal: signal is required")
	}
	return s.appendStatus(ctx, "set kill signal", func(st *record.SystemStatus) {
		st.KillSignal = signal
	}, reason)
}

// SetMode appends a system status row switching the operating mode. The
// kill signal is carried over from the latest row.
func (s *Store) SetMode(ctx context.Context, mode record.Mode, reason string) error {
	if !mode.Valid() {
		return fmt.Errorf("set mode: unknown mode %q", mode)
	}
	return s.appendStatus(ctx, "set mode", func(st *record.SystemStatus) {
		st.Mode = mode
	}, reason)
}

// appendStatus copies the latest status row, applies change and appends the
// result, all in one transaction.
func (s *Store) appendStatus(ctx context.Context, op string, change func(*record.SystemStatus), reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	st, _, err := latestStatus(ctx, tx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	change(&st)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_status (kill_signal, current_mode, reason, updated_at)
		VALUES (?, ?, ?, ?)
	`, st.KillSignal, string(st.Mode), reason, s.timestamp().UnixNano())
	if err != nil {
		return unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op+": commit", err)
	}
	return nil
}
