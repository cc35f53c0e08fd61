// Package inquisitor challenges plans before they are executed.
//
// Each plan is checked against a fixed set of failure patterns. The top
// three challenges and a verdict are written to the ledger as a
// plan_validation finding; a REJECTED verdict fires the plan-rejection
// trigger.
package inquisitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/worker"
)

const (
	AgentID     = "inquisitor_001"
	AgentType   = "validator"
	MessageType = "plan_validation"

	// BudgetLimit is the largest budget that passes unchallenged.
	BudgetLimit = 1000
	// AssumptionLimit is the largest assumption count that passes unchallenged.
	AssumptionLimit = 3
	// MinChallenges pads the list with a black swan challenge when fewer
	// patterns match.
	MinChallenges = 3
	// TopChallenges is how many challenges are reported.
	TopChallenges = 3
)

// Risk levels.
const (
	RiskHigh    = "High"
	RiskMedium  = "Medium"
	RiskUnknown = "Unknown"
)

// Verdicts.
const (
	VerdictRejected    = "REJECTED"
	VerdictConditional = "CONDITIONAL"
	VerdictApproved    = "APPROVED"
)

// Plan is a proposed course of action.
type Plan struct {
	Name         string  `yaml:"name" json:"name"`
	DataVerified bool    `yaml:"data_verified" json:"data_verified"`
	Assumptions  int     `yaml:"assumptions" json:"assumptions"`
	Budget       float64 `yaml:"budget" json:"budget"`
	Timeframe    string  `yaml:"timeframe" json:"timeframe"`
}

// Challenge is one reason a plan might fail.
type Challenge struct {
	ID             int    `json:"id"`
	Category       string `json:"category"`
	Challenge      string `json:"challenge"`
	Risk           string `json:"risk"`
	Recommendation string `json:"recommendation"`
}

// Validation is the result of challenging a plan.
type Validation struct {
	PlanName   string      `json:"plan_name"`
	Timestamp  time.Time   `json:"timestamp"`
	Challenges []Challenge `json:"challenges"`
	Verdict    string      `json:"verdict"`
	// HighRiskCount counts every High challenge, reported or not.
	HighRiskCount int `json:"high_risk_count"`
}

// Payload renders v as a ledger payload.
func (v Validation) Payload() record.Payload {
	challenges := make([]any, 0, len(v.Challenges))
	for _, c := range v.Challenges {
		challenges = append(challenges, map[string]any{
			"id":             c.ID,
			"category":       c.Category,
			"challenge":      c.Challenge,
			"risk":           c.Risk,
			"recommendation": c.Recommendation,
		})
	}
	return record.Payload{
		"plan_name":       v.PlanName,
		"timestamp":       v.Timestamp.UTC().Format(time.RFC3339),
		"challenges":      challenges,
		"verdict":         v.Verdict,
		"high_risk_count": v.HighRiskCount,
	}
}

// Challenge checks plan against every failure pattern. now stamps the result.
func Challenge(plan Plan, now time.Time) Validation {
	var cs []Challenge
	add := func(category, text, risk, fix string) {
		cs = append(cs, Challenge{
			ID:             len(cs) + 1,
			Category:       category,
			Challenge:      text,
			Risk:           risk,
			Recommendation: fix,
		})
	}

	if !plan.DataVerified {
		add("DATA", "Source data has not been independently verified",
			RiskHigh, "Cross-reference with secondary sources")
	}
	if plan.Assumptions > AssumptionLimit {
		add("ASSUMPTIONS", fmt.Sprintf("Plan relies on %d unproven assumptions", plan.Assumptions),
			RiskMedium, "Validate core assumptions with small test")
	}
	if plan.Budget > BudgetLimit {
		add("BUDGET", fmt.Sprintf("Budget $%g exceeds safe operational threshold", plan.Budget),
			RiskHigh, "Request VIP approval or reduce scope")
	}
	if plan.Timeframe == "immediate" {
		add("TIMING", "Immediate execution leaves no room for error correction",
			RiskMedium, "Add 24-hour observation period")
	}
	if len(cs) < MinChallenges {
		add("UNKNOWN", "Black swan events not accounted for",
			RiskUnknown, "Build contingency protocols")
	}

	high := 0
	for _, c := range cs {
		if c.Risk == RiskHigh {
			high++
		}
	}

	verdict := VerdictApproved
	switch {
	case high >= 2:
		verdict = VerdictRejected
	case high == 1:
		verdict = VerdictConditional
	}

	if len(cs) > TopChallenges {
		cs = cs[:TopChallenges]
	}
	return Validation{
		PlanName:      plan.Name,
		Timestamp:     now,
		Challenges:    cs,
		Verdict:       verdict,
		HighRiskCount: high,
	}
}

// Inquisitor is a worker that validates queued plans.
type Inquisitor struct {
	*worker.Base

	mu    sync.Mutex
	queue []Plan
}

// New creates an Inquisitor writing to ledger.
func New(ledger worker.Ledger, opts ...worker.Option) (*Inquisitor, error) {
	base, err := worker.NewBase(worker.Identity{AgentID: AgentID, AgentType: AgentType}, ledger, opts...)
	if err != nil {
		return nil, err
	}
	return &Inquisitor{Base: base}, nil
}

// Submit queues plans for the next Execute.
func (q *Inquisitor) Submit(plans ...Plan) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, plans...)
}

// Validate challenges plan and writes the result.
func (q *Inquisitor) Validate(ctx context.Context, plan Plan) (Validation, error) {
	v := Challenge(plan, q.Now())
	q.Logger().Info("plan challenged",
		"event", "plan_challenged",
		"module", "inquisitor",
		"plan", plan.Name,
		"verdict", v.Verdict,
		"high_risk_count", v.HighRiskCount,
	)
	if err := q.WriteFinding(ctx, MessageType, v.Payload()); err != nil {
		return v, err
	}
	return v, nil
}

// Execute validates every queued plan. Plans whose write failed stay queued.
func (q *Inquisitor) Execute(ctx context.Context) (record.Payload, error) {
	q.mu.Lock()
	plans := q.queue
	q.queue = nil
	q.mu.Unlock()

	verdicts := map[string]any{}
	var failed []Plan
	var firstErr error
	for _, p := range plans {
		v, err := q.Validate(ctx, p)
		if err != nil {
			failed = append(failed, p)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		verdicts[p.Name] = v.Verdict
	}
	if len(failed) > 0 {
		q.Submit(failed...)
	}
	return record.Payload{"validated": len(verdicts), "verdicts": verdicts}, firstErr
}
