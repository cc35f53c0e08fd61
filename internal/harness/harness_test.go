package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/record"
)

func runScenario(t *testing.T, path string, opts ...Option) *Result {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(context.Background(), s, opts...)
	require.NoError(t, err)
	return result
}

func TestRun_Drills(t *testing.T) {
	for _, path := range []string{
		"testdata/scenarios/github_scan.yaml",
		"testdata/scenarios/plan_rejected.yaml",
		"testdata/scenarios/consensus.yaml",
		"testdata/scenarios/halted.yaml",
	} {
		t.Run(path, func(t *testing.T) {
			result := runScenario(t, path)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	a := runScenario(t, "testdata/scenarios/github_scan.yaml")
	b := runScenario(t, "testdata/scenarios/github_scan.yaml")

	sa, err := Snapshot("x", a)
	require.NoError(t, err)
	sb, err := Snapshot("x", b)
	require.NoError(t, err)
	assert.Equal(t, string(sa), string(sb))
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s := &Scenario{
		Name:        "wrong_expectation",
		Description: "expects a trigger that cannot fire",
		Records: []RecordStep{{
			AgentID:     "ghost_commit_001",
			MessageType: "github_scan",
			Payload:     map[string]any{"new_repos": 1},
		}},
		Assertions: []Assertion{{Type: AssertTraceContains, Kind: KindTrigger, Name: "github_scan"}},
	}
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_contains")
}

func TestRun_ExtraTemplates(t *testing.T) {
	noop := incubator.TemplateFunc{Type: "noop", New: func(record.Payload) (incubator.Task, error) {
		return incubator.TaskFunc(func(context.Context, incubator.Env) (record.Payload, error) {
			return nil, nil
		}), nil
	}}
	s := &Scenario{
		Name:        "extra_templates",
		Description: "registers an extra template next to the built-ins",
		Records: []RecordStep{{
			AgentID:     "pulse_001",
			MessageType: "pulse_scan",
			Payload:     map[string]any{"symbol": "BTC", "return_pct": -12.5},
		}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Kind: KindSpawn, Name: "volatility_analyzer", Count: 1},
			{Type: AssertLedgerCount, MessageType: "risk_assessment", Count: 1},
		},
	}
	result, err := Run(context.Background(), s, WithTemplates(noop))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DuplicateTemplateFails(t *testing.T) {
	dup := incubator.TemplateFunc{Type: "investigator", New: func(record.Payload) (incubator.Task, error) {
		return nil, nil
	}}
	s := &Scenario{
		Name:        "dup",
		Description: "d",
		Records:     []RecordStep{{AgentID: "a", MessageType: "m"}},
		Assertions:  []Assertion{{Type: AssertLedgerCount, MessageType: "m", Count: 1}},
	}
	_, err := Run(context.Background(), s, WithTemplates(dup))
	assert.Error(t, err)
}
