package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sovereign/internal/record"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Records returns the records matching q.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Records(ctx context.Context, q Query) ([]record.Record, error) {
	query, params := compileQuery(q)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}
	return records, nil
}

// Get returns a single record by ID.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM ledger WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// Count returns the number of ledger records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger").Scan(&n); err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

func scanRecord(r rowScanner) (record.Record, error) {
	var (
		rec         record.Record
		payloadJSON string
		status      string
		createdAt   int64
	)
	err := r.Scan(
		&rec.ID,
		&rec.AgentID,
		&rec.AgentType,
		&rec.MessageType,
		&payloadJSON,
		&status,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, err
	}
	if err != nil {
		return record.Record{}, unavailable("scan record", err)
	}

	payload, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return record.Record{}, malformed("record "+rec.ID, err)
	}
	st, err := record.ParseStatus(status)
	if err != nil {
		return record.Record{}, malformed("record "+rec.ID, err)
	}

	rec.Payload = payload
	rec.Status = st
	rec.CreatedAt = fromNanos(createdAt)
	return rec, nil
}

// Votes returns every vote for eventHash, oldest first.
func (s *Store) Votes(ctx context.Context, eventHash string) ([]record.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_hash, agent_id, agent_type, vote_category,
		       confidence_score, evidence_payload, vote_status, created_at
		FROM consensus_votes
		WHERE event_hash = ?
		ORDER BY created_at ASC, seq ASC
	`, eventHash)
	if err != nil {
		return nil, unavailable("query votes", err)
	}
	defer rows.Close()

	votes := []record.Vote{}
	for rows.Next() {
		var (
			v            record.Vote
			evidenceJSON string
			status       string
			createdAt    int64
		)
		if err := rows.Scan(
			&v.ID,
			&v.EventHash,
			&v.AgentID,
			&v.AgentType,
			&v.Category,
			&v.ConfidenceScore,
			&evidenceJSON,
			&status,
			&createdAt,
		); err != nil {
			return nil, unavailable("scan vote", err)
		}

		evidence, err := unmarshalPayload(evidenceJSON)
		if err != nil {
			return nil, malformed("vote "+v.ID, err)
		}
		v.Evidence = evidence
		v.Status = record.VoteStatus(status)
		v.CreatedAt = fromNanos(createdAt)
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate votes", err)
	}
	return votes, nil
}

// PendingEventHashes returns distinct event hashes that still have at least
// one pending vote, sorted ascending.
func (s *Store) PendingEventHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT event_hash
		FROM consensus_votes
		WHERE vote_status = 'pending'
		ORDER BY event_hash ASC
	`)
	if err != nil {
		return nil, unavailable("query pending events", err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, unavailable("scan pending event", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate pending events", err)
	}
	return hashes, nil
}

// SystemStatus returns the most recently written status row.
// ok is false when the table is empty.
func (s *Store) SystemStatus(ctx context.Context) (record.SystemStatus, bool, error) {
	return latestStatus(ctx, s.db)
}

// Mode returns the current operating mode, DefaultMode when none was set.
func (s *Store) Mode(ctx context.Context) (record.Mode, error) {
	st, _, err := s.SystemStatus(ctx)
	if err != nil {
		return "", err
	}
	return st.CurrentMode(), nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestStatus(ctx context.Context, q queryRower) (record.SystemStatus, bool, error) {
	var (
		st        record.SystemStatus
		mode      string
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT kill_signal, current_mode, reason, updated_at
		FROM system_status
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&st.KillSignal, &mode, &st.Reason, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return record.SystemStatus{}, false, nil
	}
	if err != nil {
		return record.SystemStatus{}, false, unavailable("query system status", err)
	}
	st.Mode = record.Mode(mode)
	st.UpdatedAt = fromNanos(updatedAt)
	return st, true, nil
}
