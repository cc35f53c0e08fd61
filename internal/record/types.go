package record

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusPublished Status = "published"
)

// statusRank orders statuses for forward-only transitions.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusActive:    1,
	StatusConfirmed: 2,
	StatusPublished: 3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a record may move from s to next.
// Re-applying the current status is allowed so updates stay idempotent.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown record status %q", s)
	}
	return st, nil
}

// VoteStatus is the consensus state of a single vote.
type VoteStatus string

const (
	VotePending   VoteStatus = "pending"
	VoteConfirmed VoteStatus = "confirmed"
)

// Well-known message types written by the core.
const (
	// MessageSovereignTruth is appended once when an event reaches consensus.
	MessageSovereignTruth = "sovereign_truth"

	// MessageShutdown from agent VIPAgentID asks workers to stop.
	MessageShutdown = "SHUTDOWN"

	// VIPAgentID is the supervisor identity allowed to broadcast SHUTDOWN.
	VIPAgentID = "VIP"
)

// Record is a single ledger entry.
type Record struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	AgentType   string    `json:"agent_type"`
	MessageType string    `json:"message_type"`
	Payload     Payload   `json:"payload"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Vote is one agent's observation of an event, submitted for consensus.
type Vote struct {
	ID              string     `json:"id"`
	EventHash       string     `json:"event_hash"`
	AgentID         string     `json:"agent_id"`
	AgentType       string     `json:"agent_type"`
	Category        string     `json:"vote_category"`
	ConfidenceScore float64    `json:"confidence_score"`
	Evidence        Payload    `json:"evidence_payload"`
	Status          VoteStatus `json:"vote_status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Kill signal values stored in the system status row.
const (
	KillSignalHalt  = "HALT"
	KillSignalClear = "CLEAR"
)

// Mode is the swarm-wide operating mode chosen by the VIP.
type Mode string

const (
	// ModeMoney focuses the swarm on market work.
	ModeMoney Mode = "money"
	// ModeDiscovery explores new opportunities. It is the default.
	ModeDiscovery Mode = "discovery"
	// ModeSurvivor slows every agent down and maximizes local logging.
	ModeSurvivor Mode = "survivor"

	DefaultMode = ModeDiscovery
)

// Modes lists every known mode.
func Modes() []Mode {
	return []Mode{ModeMoney, ModeDiscovery, ModeSurvivor}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeMoney, ModeDiscovery, ModeSurvivor:
		return true
	}
	return false
}

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// SystemStatus is the remote control row read by the kill switch.
// Every row carries both controls; writing one copies the other forward
// from the previous row.
type SystemStatus struct {
	KillSignal string    `json:"kill_signal"`
	Mode       Mode      `json:"current_mode,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Halted reports whether the row requests a halt.
func (s SystemStatus) Halted() bool {
	return s.KillSignal == KillSignalHalt
}

// CurrentMode returns the row's mode, or DefaultMode when none was ever set.
func (s SystemStatus) CurrentMode() Mode {
	if s.Mode == "" {
		return DefaultMode
	}
	return s.Mode
}
