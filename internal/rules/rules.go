// Package rules holds the static trigger table: which ledger records warrant
// a response, and which response agents to spawn for them.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sovereign/internal/record"
)

// Rule maps a class of ledger records to a set of response agents.
type Rule struct {
	Name        string
	MessageType string
	AgentFamily string
	Condition   Condition
	SpawnSet    []string
	Reason      string
}

// MatchesSource reports whether rec comes from the rule's message type and
// agent family. The payload condition is not evaluated.
func (r Rule) MatchesSource(rec record.Record) bool {
	if rec.MessageType != r.MessageType {
		return false
	}
	return r.AgentFamily == "" || strings.Contains(rec.AgentID, r.AgentFamily)
}

// Matches reports whether rec fires the rule.
func (r Rule) Matches(rec record.Record) bool {
	return r.MatchesSource(rec) && r.Condition.Eval(rec.Payload)
}

// Table is an immutable, ordered set of rules.
type Table struct {
	rules  []Rule
	byName map[string]int
}

// NewTable validates and indexes rules. Names must be unique and every rule
// needs a message type, a condition and at least one response agent.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{
		rules:  make([]Rule, 0, len(rules)),
		byName: make(map[string]int, len(rules)),
	}
	for _, r := range rules {
		switch {
		case r.Name == "":
			return nil, errors.New("rule name is required")
		case r.MessageType == "":
			return nil, fmt.Errorf("rule %s: message type is required", r.Name)
		case r.Condition == nil:
			return nil, fmt.Errorf("rule %s: condition is required", r.Name)
		case len(r.SpawnSet) == 0:
			return nil, fmt.Errorf("rule %s: spawn set is empty", r.Name)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, fmt.Errorf("duplicate rule %s", r.Name)
		}
		r.SpawnSet = append([]string(nil), r.SpawnSet...)
		t.byName[r.Name] = len(t.rules)
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Lookup returns the rule with the given trigger name.
func (t *Table) Lookup(name string) (Rule, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Rule{}, false
	}
	return t.rules[i], true
}

// Rules returns the rules in table order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Match returns every rule rec fires, in table order.
func (t *Table) Match(rec record.Record) []Rule {
	var out []Rule
	for _, r := range t.rules {
		if r.Matches(rec) {
			out = append(out, r)
		}
	}
	return out
}

// Default trigger names.
const (
	TriggerSecurityAlert = "security_alert"
	TriggerGitHubScan    = "github_scan"
	TriggerMarketScan    = "market_scan"
	TriggerPlanRejected  = "plan_rejected"
)

// DefaultRules is the built-in trigger table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        TriggerSecurityAlert,
			MessageType: "security_alert",
			AgentFamily: "ghost_commit",
			Condition:   MinLen{Key: "secret_keywords", Min: 1},
			SpawnSet:    []string{"investigator", "counter_intel"},
			Reason:      "Security exposure detected",
		},
		{
			Name:        TriggerGitHubScan,
			MessageType: "github_scan",
			AgentFamily: "ghost_commit",
			Condition:   GreaterThan{Key: "new_repos", Limit: 2},
			SpawnSet:    []string{"repo_analyzer", "code_scanner"},
			Reason:      "Multiple new repositories detected",
		},
		{
			Name:        TriggerMarketScan,
			MessageType: "pulse_scan",
			AgentFamily: "pulse",
			Condition:   GreaterThan{Key: "return_pct", Limit: 10, Abs: true},
			SpawnSet:    []string{"volatility_analyzer", "risk_assessor"},
			Reason:      "High volatility detected",
		},
		{
			Name:        TriggerPlanRejected,
			MessageType: "plan_validation",
			AgentFamily: "inquisitor",
			Condition:   Equals{Key: "verdict", Value: "REJECTED"},
			SpawnSet:    []string{"plan_optimizer", "risk_mitigator"},
			Reason:      "Plan rejected by Inquisitor",
		},
	}
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules()...)
	if err != nil {
		panic(fmt.Sprintf("rules: default table invalid: %v", err))
	}
	return t
}
