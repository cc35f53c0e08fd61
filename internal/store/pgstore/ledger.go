package pgstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

// appendLockKey is the advisory lock that orders record stamps against
// window reads. Writers hold it exclusively from stamp to commit; reads with
// an upper bound hold it shared, so no record can be stamped inside a window
// that is being read and committed after it.
const appendLockKey int64 = 0x534f5645

// Append inserts a record. ID and CreatedAt are assigned here, CreatedAt
// under appendLockKey.
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
	if rec.Payload == nil {
		rec.Payload = record.Payload{}
	}
	rec.ID = s.newID()

	row, err := ledgerModelFromRecord(rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("append record: %w", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", appendLockKey).Error; err != nil {
			return err
		}
		rec.CreatedAt = s.timestamp()
		row.CreatedAt = rec.CreatedAt.UnixNano()
		return tx.Create(&row).Error
	})
	if err != nil {
		return record.Record{}, s.fail("ledger_append_failed", "append record", err,
			"agent_id", rec.AgentID,
			"message_type", rec.MessageType,
		)
	}
	return rec, nil
}

// Records returns records matching q. No matches is an empty slice.
func (s *Store) Records(ctx context.Context, q store.Query) ([]record.Record, error) {
	var rows []ledgerModel
	find := func(tx *gorm.DB) error {
		return applyQuery(tx.Model(&ledgerModel{}), q).Find(&rows).Error
	}
	var err error
	if q.Until.IsZero() {
		err = find(s.db.WithContext(ctx))
	} else {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock_shared(?)", appendLockKey).Error; err != nil {
				return err
			}
			return find(tx)
		})
	}
	if err != nil {
		return nil, s.fail("ledger_query_failed", "query records", err)
	}

	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, fmt.Errorf("record %s: %w: %v", row.ID, store.ErrMalformed, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// applyQuery mirrors the SQLite query builder: filters are parameterized and
// ordering always ends with the seq tiebreaker.
func applyQuery(tx *gorm.DB, q store.Query) *gorm.DB {
	if q.MessageType != "" {
		tx = tx.Where("message_type = ?", q.MessageType)
	}
	if q.AgentID != "" {
		tx = tx.Where("agent_id = ?", q.AgentID)
	}
	if q.AgentFamily != "" {
		tx = tx.Where("strpos(agent_id, ?) > 0", q.AgentFamily)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", string(q.Status))
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("created_at < ?", q.Until.UnixNano())
	}
	if q.Order == store.OldestFirst {
		tx = tx.Order("created_at ASC").Order("seq ASC")
	} else {
		tx = tx.Order("created_at DESC").Order("seq DESC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

// Get returns one record by ID.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	var row ledgerModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record.Record{}, fmt.Errorf("get record %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return record.Record{}, s.fail("ledger_get_failed", "get record", err, "record_id", id)
	}
	rec, err := row.toRecord()
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w: %v", id, store.ErrMalformed, err)
	}
	return rec, nil
}

// UpdateStatus moves a record forward in its lifecycle.
func (s *Store) UpdateStatus(ctx context.Context, id string, status record.Status) error {
	if !status.Valid() {
		return fmt.Errorf("update status: unknown status %q", status)
	}

	var transitionErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ledgerModel
		if err := tx.Select("status").Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		if !record.Status(row.Status).CanTransition(status) {
			transitionErr = fmt.Errorf("update status %s: %s -> %s: %w", id, row.Status, status, store.ErrInvalidTransition)
			return transitionErr
		}
		return tx.Model(&ledgerModel{}).Where("id = ?", id).Update("status", string(status)).Error
	})
	switch {
	case err == nil:
		return nil
	case transitionErr != nil:
		return transitionErr
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("update status %s: %w", id, store.ErrNotFound)
	default:
		return s.fail("ledger_update_status_failed", "update status", err, "record_id", id)
	}
}

// Count returns the number of ledger records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ledgerModel{}).Count(&n).Error; err != nil {
		return 0, s.fail("ledger_count_failed", "count records", err)
	}
	return n, nil
}

// AppendVote inserts a vote. ID and CreatedAt are assigned here.
func (s *Store) AppendVote(ctx context.Context, v record.Vote) (record.Vote, error) {
	if v.EventHash == "" {
		return record.Vote{}, fmt.Errorf("append vote: event_hash is required")
	}
	if v.Status == "" {
		v.Status = record.VotePending
	}
	if v.Evidence == nil {
		v.Evidence = record.Payload{}
	}
	v.ID = s.newID()
	v.CreatedAt = s.timestamp()

	row, err := voteModelFromVote(v)
	if err != nil {
		return record.Vote{}, fmt.Errorf("append vote: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return record.Vote{}, s.fail("ledger_append_vote_failed", "append vote", err,
			"event_hash", v.EventHash,
			"agent_id", v.AgentID,
		)
	}
	return v, nil
}

// Votes returns every vote for eventHash, oldest first.
func (s *Store) Votes(ctx context.Context, eventHash string) ([]record.Vote, error) {
	var rows []voteModel
	if err := s.db.WithContext(ctx).
		Where("event_hash = ?", eventHash).
		Order("created_at ASC").Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, s.fail("ledger_votes_failed", "query votes", err, "event_hash", eventHash)
	}

	out := make([]record.Vote, 0, len(rows))
	for _, row := range rows {
		v, err := row.toVote()
		if err != nil {
			return nil, fmt.Errorf("vote %s: %w: %v", row.ID, store.ErrMalformed, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ConfirmVotes marks pending votes for eventHash confirmed.
func (s *Store) ConfirmVotes(ctx context.Context, eventHash string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&voteModel{}).
		Where("event_hash = ? AND vote_status = ?", eventHash, string(record.VotePending)).
		Update("vote_status", string(record.VoteConfirmed))
	if res.Error != nil {
		return 0, s.fail("ledger_confirm_votes_failed", "confirm votes", res.Error, "event_hash", eventHash)
	}
	return res.RowsAffected, nil
}

// PendingEventHashes returns distinct hashes with a pending vote, sorted.
func (s *Store) PendingEventHashes(ctx context.Context) ([]string, error) {
	hashes := []string{}
	if err := s.db.WithContext(ctx).Model(&voteModel{}).
		Where("vote_status = ?", string(record.VotePending)).
		Distinct("event_hash").
		Order("event_hash ASC").
		Pluck("event_hash", &hashes).Error; err != nil {
		return nil, s.fail("ledger_pending_events_failed", "query pending events", err)
	}
	return hashes, nil
}

// SystemStatus returns the latest status row. A missing table counts as no
// row so a fresh database reads as "not halted".
func (s *Store) SystemStatus(ctx context.Context) (record.SystemStatus, bool, error) {
	var row systemStatusModel
	err := s.db.WithContext(ctx).Order("seq DESC").Limit(1).Find(&row).Error
	if err != nil {
		if isUndefinedTable(err) {
			return record.SystemStatus{}, false, nil
		}
		return record.SystemStatus{}, false, s.fail("ledger_system_status_failed", "query system status", err)
	}
	if row.Seq == 0 {
		return record.SystemStatus{}, false, nil
	}
	return row.toStatus(), true, nil
}

// statusLockKey serializes status writes so each row copies the one
// before it.
const statusLockKey int64 = 0x534f5653

// SetKillSignal appends a status row carrying the current mode forward.
func (s *Store) SetKillSignal(ctx context.Context, signal, reason string) error {
	if signal == "" {
		return fmt.Errorf("set kill signal: signal is required")
	}
	err := s.appendStatus(ctx, func(row *systemStatusModel) { row.KillSignal = signal }, reason)
	if err != nil {
		return s.fail("ledger_set_kill_signal_failed", "set kill signal", err, "signal", signal)
	}
	return nil
}

// Mode returns the current operating mode.
func (s *Store) Mode(ctx context.Context) (record.Mode, error) {
	st, _, err := s.SystemStatus(ctx)
	if err != nil {
		return "", err
	}
	return st.CurrentMode(), nil
}

// SetMode appends a status row switching the mode and carrying the kill
// signal forward.
func (s *Store) SetMode(ctx context.Context, mode record.Mode, reason string) error {
	if !mode.Valid() {
		return fmt.Errorf("set mode: unknown mode %q", mode)
	}
	err := s.appendStatus(ctx, func(row *systemStatusModel) { row.CurrentMode = string(mode) }, reason)
	if err != nil {
		return s.fail("ledger_set_mode_failed", "set mode", err, "mode", string(mode))
	}
	return nil
}

func (s *Store) appendStatus(ctx context.Context, change func(*systemStatusModel), reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", statusLockKey).Error; err != nil {
			return err
		}
		var prev systemStatusModel
		if err := tx.Order("seq DESC").Limit(1).Find(&prev).Error; err != nil {
			return err
		}
		row := systemStatusModel{
			KillSignal:  prev.KillSignal,
			CurrentMode: prev.CurrentMode,
			Reason:      reason,
			UpdatedAt:   s.timestamp().UnixNano(),
		}
		change(&row)
		return tx.Create(&row).Error
	})
}
