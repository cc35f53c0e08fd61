package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sovereign/internal/inquisitor"
)

// Scenario is one drill.
type Scenario struct {
	// Name uniquely identifies the drill and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Halted trips the kill switch before any step runs.
	Halted bool `yaml:"halted,omitempty"`

	Votes   []VoteStep        `yaml:"votes,omitempty"`
	Records []RecordStep      `yaml:"records,omitempty"`
	Plans   []inquisitor.Plan `yaml:"plans,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// RecordStep appends one finding.
type RecordStep struct {
	AgentID     string         `yaml:"agent_id"`
	AgentType   string         `yaml:"agent_type"`
	MessageType string         `yaml:"message_type"`
	Payload     map[string]any `yaml:"payload"`
}

// VoteStep submits one vote for the event described by Event.
type VoteStep struct {
	AgentID    string         `yaml:"agent_id"`
	AgentType  string         `yaml:"agent_type"`
	Category   string         `yaml:"category"`
	Confidence float64        `yaml:"confidence"`
	Event      map[string]any `yaml:"event"`
}

// Assertion checks the trace or the final ledger.
type Assertion struct {
	// Type is one of trace_contains, trace_count, trace_order, ledger_count.
	Type string `yaml:"type"`

	// Kind and Name select trace events (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`
	Name string `yaml:"name,omitempty"`

	// Order lists "kind:name" entries (trace_order).
	Order []string `yaml:"order,omitempty"`

	// MessageType selects ledger records (ledger_count).
	MessageType string `yaml:"message_type,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
	AssertLedgerCount   = "ledger_count"
)

// LoadScenario reads and parses a drill file.
// Unknown fields are rejected so a typo cannot silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates drill YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Votes) == 0 && len(s.Records) == 0 && len(s.Plans) == 0 {
		return fmt.Errorf("at least one vote, record or plan is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Records {
		if r.AgentID == "" {
			return fmt.Errorf("records[%d]: agent_id is required", i)
		}
		if r.MessageType == "" {
			return fmt.Errorf("records[%d]: message_type is required", i)
		}
	}
	for i, v := range s.Votes {
		if v.AgentID == "" {
			return fmt.Errorf("votes[%d]: agent_id is required", i)
		}
		if v.Event == nil {
			return fmt.Errorf("votes[%d]: event is required", i)
		}
	}
	for i, p := range s.Plans {
		if p.Name == "" {
			return fmt.Errorf("plans[%d]: name is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains, AssertTraceCount:
		if a.Kind == "" || a.Name == "" {
			return fmt.Errorf("assertions[%d]: kind and name are required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Order) < 2 {
			return fmt.Errorf("assertions[%d]: order needs at least two entries", index)
		}
	case AssertLedgerCount:
		if a.MessageType == "" {
			return fmt.Errorf("assertions[%d]: message_type is required for ledger_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
