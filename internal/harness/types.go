package harness

import "fmt"

// Trace event kinds.
const (
	KindVote      = "vote"
	KindConsensus = "consensus"
	KindRecord    = "record"
	KindPlan      = "plan"
	KindTrigger   = "trigger"
	KindSpawn     = "spawn"
)

// TraceEvent is one step of a drill.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Kind    string         `json:"kind"`
	Name    string         `json:"name"`
	AgentID string         `json:"agent_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Key is the "kind:name" form used by trace_order.
func (e TraceEvent) Key() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Name)
}

// LedgerEntry summarizes one record left in the scratch ledger.
type LedgerEntry struct {
	AgentID     string `json:"agent_id"`
	MessageType string `json:"message_type"`
	Status      string `json:"status"`
}

// Result is the outcome of a drill.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Ledger lists every record in the scratch ledger, oldest first.
	Ledger []LedgerEntry `json:"ledger"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Ledger: []LedgerEntry{},
		Errors: []string{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(kind, name, agentID string, detail map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		Kind:    kind,
		Name:    name,
		AgentID: agentID,
		Detail:  detail,
	})
}
