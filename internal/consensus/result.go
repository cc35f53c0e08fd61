package consensus

import "fmt"

// Outcome is the verdict of a consensus check.
type Outcome int

const (
	OutcomeQuorumNotMet Outcome = iota
	OutcomeLowConfidence
	OutcomeConfirmed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQuorumNotMet:
		return "quorum_not_met"
	case OutcomeLowConfidence:
		return "low_confidence"
	case OutcomeConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome name in JSON output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result describes one consensus check.
type Result struct {
	EventHash      string  `json:"event_hash"`
	Outcome        Outcome `json:"outcome"`
	Confirmed      bool    `json:"confirmed"`
	NewlyConfirmed bool    `json:"newly_confirmed,omitempty"`
	Votes          int     `json:"votes"`
	Quorum         int     `json:"quorum"`
	Threshold      float64 `json:"threshold"`
	MeanConfidence float64 `json:"mean_confidence"`
	Detail         string  `json:"detail"`
}

func (r Result) confirmed(newly bool) Result {
	r.Outcome = OutcomeConfirmed
	r.Confirmed = true
	r.NewlyConfirmed = newly
	r.Detail = fmt.Sprintf("Sovereign Truth confirmed: %.2f confidence", r.MeanConfidence)
	return r
}
