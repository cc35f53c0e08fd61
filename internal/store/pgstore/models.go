package pgstore

import (
	"fmt"
	"time"

	"github.com/roach88/sovereign/internal/record"
)

// Timestamps are stored as unix nanoseconds so window bounds compare exactly
// like the SQLite ledger.

type ledgerModel struct {
	Seq         int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID          string `gorm:"column:id;uniqueIndex;not null"`
	AgentID     string `gorm:"column:agent_id;index;not null"`
	AgentType   string `gorm:"column:agent_type;not null"`
	MessageType string `gorm:"column:message_type;index:idx_ledger_type_created,priority:1;not null"`
	Payload     string `gorm:"column:payload;type:text;not null;default:'{}'"`
	Status      string `gorm:"column:status;not null;default:'pending'"`
	CreatedAt   int64  `gorm:"column:created_at;index;index:idx_ledger_type_created,priority:2;not null;autoCreateTime:false"`
}

func (ledgerModel) TableName() string {
	return "ledger"
}

func (m ledgerModel) toRecord() (record.Record, error) {
	payload, err := decodePayload(m.Payload)
	if err != nil {
		return record.Record{}, err
	}
	st, err := record.ParseStatus(m.Status)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{
		ID:          m.ID,
		AgentID:     m.AgentID,
		AgentType:   m.AgentType,
		MessageType: m.MessageType,
		Payload:     payload,
		Status:      st,
		CreatedAt:   time.Unix(0, m.CreatedAt).UTC(),
	}, nil
}

func ledgerModelFromRecord(rec record.Record) (ledgerModel, error) {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return ledgerModel{}, err
	}
	return ledgerModel{
		ID:          rec.ID,
		AgentID:     rec.AgentID,
		AgentType:   rec.AgentType,
		MessageType: rec.MessageType,
		Payload:     payload,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt.UnixNano(),
	}, nil
}

type voteModel struct {
	Seq             int64   `gorm:"column:seq;primaryKey;autoIncrement"`
	ID              string  `gorm:"column:id;uniqueIndex;not null"`
	EventHash       string  `gorm:"column:event_hash;index;not null"`
	AgentID         string  `gorm:"column:agent_id;not null"`
	AgentType       string  `gorm:"column:agent_type;not null"`
	Category        string  `gorm:"column:vote_category;not null"`
	ConfidenceScore float64 `gorm:"column:confidence_score;not null"`
	Evidence        string  `gorm:"column:evidence_payload;type:text;not null;default:'{}'"`
	Status          string  `gorm:"column:vote_status;index;not null;default:'pending'"`
	CreatedAt       int64   `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (voteModel) TableName() string {
	return "consensus_votes"
}

func (m voteModel) toVote() (record.Vote, error) {
	evidence, err := decodePayload(m.Evidence)
	if err != nil {
		return record.Vote{}, err
	}
	return record.Vote{
		ID:              m.ID,
		EventHash:       m.EventHash,
		AgentID:         m.AgentID,
		AgentType:       m.AgentType,
		Category:        m.Category,
		ConfidenceScore: m.ConfidenceScore,
		Evidence:        evidence,
		Status:          record.VoteStatus(m.Status),
		CreatedAt:       time.Unix(0, m.CreatedAt).UTC(),
	}, nil
}

func voteModelFromVote(v record.Vote) (voteModel, error) {
	evidence, err := encodePayload(v.Evidence)
	if err != nil {
		return voteModel{}, err
	}
	return voteModel{
		ID:              v.ID,
		EventHash:       v.EventHash,
		AgentID:         v.AgentID,
		AgentType:       v.AgentType,
		Category:        v.Category,
		ConfidenceScore: v.ConfidenceScore,
		Evidence:        evidence,
		Status:          string(v.Status),
		CreatedAt:       v.CreatedAt.UnixNano(),
	}, nil
}

type systemStatusModel struct {
	Seq         int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	KillSignal  string `gorm:"column:kill_signal;not null"`
	CurrentMode string `gorm:"column:current_mode;not null;default:''"`
	Reason      string `gorm:"column:reason;not null;default:''"`
	UpdatedAt   int64  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (systemStatusModel) TableName() string {
	return "system_status"
}

func (m systemStatusModel) toStatus() record.SystemStatus {
	return record.SystemStatus{
		KillSignal: m.KillSignal,
		Mode:       record.Mode(m.CurrentMode),
		Reason:     m.Reason,
		UpdatedAt:  time.Unix(0, m.UpdatedAt).UTC(),
	}
}

func encodePayload(p record.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := record.MarshalCanonical(map[string]any(p))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (record.Payload, error) {
	p, err := record.ParsePayload([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
